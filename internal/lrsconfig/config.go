// Package lrsconfig is the daemon's configuration tree, unmarshaled
// from YAML (spec.md §6.C). Grounded on the teacher's internal/spec's
// nested-struct-per-concern YAML shape, generalized from a single
// function spec to the daemon-wide option table.
package lrsconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/phobos-lrs/lrs/internal/resource"
	"github.com/phobos-lrs/lrs/internal/syncbatch"
)

// IOConfig covers §4.A's I/O adapter tuning.
type IOConfig struct {
	// BlockSize forces the copy_extent chunk size; 0 means derive from
	// the adapter's preferred_io_size, then the OS page size.
	BlockSize int `yaml:"io_block_size,omitempty"`
}

// SCSIConfig covers §4.A.2's retry and timeout tuning. The values are
// parsed only: adapter.WithSCSIRetry uses fixed budgets and delays and
// does not read them.
type SCSIConfig struct {
	RetryCount        int `yaml:"retry_count,omitempty"`
	RetryShortSeconds  int `yaml:"retry_short,omitempty"`
	RetryLongSeconds   int `yaml:"retry_long,omitempty"`
	MaxElementStatus   int `yaml:"max_element_status,omitempty"`
	QueryTimeoutMs     int `yaml:"query_timeout_ms,omitempty"`
	MoveTimeoutMs      int `yaml:"move_timeout_ms,omitempty"`
	InquiryTimeoutMs   int `yaml:"inquiry_timeout_ms,omitempty"`
}

// TapeModelConfig is one entry in the tape drive-model capability
// table (max element counts, supported generations, etc.). It is parsed
// and carried on Config; the adapter package does not read it.
type TapeModelConfig struct {
	Model             string `yaml:"model"`
	MaxElementStatus  int    `yaml:"max_element_status,omitempty"`
	Generation        string `yaml:"generation,omitempty"`
}

// FamilySyncConfig is one family's sync-batcher thresholds (§4.D),
// convertible directly to syncbatch.Thresholds.
type FamilySyncConfig struct {
	Family      resource.Family `yaml:"family"`
	TimeMs      int64           `yaml:"sync_time_ms,omitempty"`
	CountReq    int             `yaml:"sync_nb_req,omitempty"`
	WriteSizeKB int64           `yaml:"sync_wsize_kb,omitempty"`
}

// Thresholds converts the YAML units (ms, KB) to syncbatch.Thresholds.
func (f FamilySyncConfig) Thresholds() syncbatch.Thresholds {
	return syncbatch.Thresholds{
		CountThreshold:     f.CountReq,
		TimeThreshold:      time.Duration(f.TimeMs) * time.Millisecond,
		SizeThresholdBytes: f.WriteSizeKB * 1024,
	}
}

// LRSConfig is the scheduler-level option set (§6 "lrs." prefix).
type LRSConfig struct {
	MountPrefix string             `yaml:"mount_prefix,omitempty"`
	Sync        []FamilySyncConfig `yaml:"sync,omitempty"`
}

// SyncThresholdsFor looks up the configured thresholds for family,
// falling back to the conservative defaults in DefaultThresholds.
func (l LRSConfig) SyncThresholdsFor(family resource.Family) syncbatch.Thresholds {
	for _, f := range l.Sync {
		if f.Family == family {
			return f.Thresholds()
		}
	}
	return DefaultThresholds
}

// DefaultThresholds is applied to any family absent from LRSConfig.Sync.
var DefaultThresholds = syncbatch.Thresholds{
	CountThreshold:     1,
	TimeThreshold:      1 * time.Second,
	SizeThresholdBytes: 1 << 20,
}

// PostgresConfig is the DSS's relational backing store connection.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig is the DSS's distributed-lock backing store connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// ObservabilityConfig is the ambient logging/metrics/tracing surface,
// carried regardless of which domain Non-goals apply (§6.C).
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
	Tracing TracingConfig `yaml:"tracing,omitempty"`
}

type LoggingConfig struct {
	Level   string `yaml:"level,omitempty"`   // debug, info, warn, error
	Format  string `yaml:"format,omitempty"`  // text, json
	LogFile string `yaml:"log_file,omitempty"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
	Listen    string `yaml:"listen,omitempty"`
}

type TracingConfig struct {
	Enabled        bool   `yaml:"enabled,omitempty"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty"`
	ServiceName    string `yaml:"service_name,omitempty"`
}

// RadosConfig points the rados_pool family's S3-compatible IO adapter at
// an RGW gateway. Empty AccessKey/SecretKey falls back to the AWS SDK's
// default credential chain (env vars, shared config, instance role).
type RadosConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	Region    string `yaml:"region,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
}

// TapeChangerConfig binds one SCSI medium changer device to the tape
// drive paths it controls.
type TapeChangerConfig struct {
	ChangerPath string   `yaml:"changer_path"`
	DrivePaths  []string `yaml:"drive_paths"`
}

// DevicesConfig lists the physical devices this host exposes per
// family, so cmd/phobosd knows what to register with the DSS and bring
// up workers for on startup.
type DevicesConfig struct {
	Tape      []TapeChangerConfig `yaml:"tape,omitempty"`
	DiskPaths []string            `yaml:"disk_paths,omitempty"`
	RadosPool RadosConfig         `yaml:"rados_pool,omitempty"`
}

// Config is the daemon's full configuration tree.
type Config struct {
	Host          string              `yaml:"host,omitempty"`
	IO            IOConfig            `yaml:"io,omitempty"`
	SCSI          SCSIConfig          `yaml:"scsi,omitempty"`
	TapeModels    []TapeModelConfig   `yaml:"tape_models,omitempty"`
	LRS           LRSConfig           `yaml:"lrs,omitempty"`
	Devices       DevicesConfig       `yaml:"devices,omitempty"`
	Postgres      PostgresConfig      `yaml:"postgres,omitempty"`
	Redis         RedisConfig         `yaml:"redis,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty"`
}

// Load reads and unmarshals the YAML configuration at path, applying
// defaults and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lrsconfig: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("lrsconfig: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("lrsconfig: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		if h, err := os.Hostname(); err == nil {
			c.Host = h
		}
	}
	if c.LRS.MountPrefix == "" {
		c.LRS.MountPrefix = "/mnt/phobos"
	}
	if c.SCSI.RetryCount == 0 {
		c.SCSI.RetryCount = 5
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
	if c.Observability.Metrics.Namespace == "" {
		c.Observability.Metrics.Namespace = "phobos"
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	switch c.Observability.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid observability.logging.format: %s (valid: text, json)", c.Observability.Logging.Format)
	}
	return nil
}
