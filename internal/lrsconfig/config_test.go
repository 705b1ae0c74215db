package lrsconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/phobos-lrs/lrs/internal/resource"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "phobos.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "postgres:\n  dsn: postgres://localhost/phobos\nredis:\n  addr: localhost:6379\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LRS.MountPrefix != "/mnt/phobos" {
		t.Errorf("expected default mount prefix, got %q", cfg.LRS.MountPrefix)
	}
	if cfg.SCSI.RetryCount != 5 {
		t.Errorf("expected default retry count 5, got %d", cfg.SCSI.RetryCount)
	}
	if cfg.Observability.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %q", cfg.Observability.Logging.Level)
	}
}

func TestLoadRejectsMissingDSN(t *testing.T) {
	path := writeConfig(t, "redis:\n  addr: localhost:6379\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for missing postgres.dsn")
	}
}

func TestLoadRejectsMissingRedisAddr(t *testing.T) {
	path := writeConfig(t, "postgres:\n  dsn: postgres://localhost/phobos\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for missing redis.addr")
	}
}

func TestLoadRejectsBadLogFormat(t *testing.T) {
	path := writeConfig(t, `
postgres:
  dsn: postgres://localhost/phobos
redis:
  addr: localhost:6379
observability:
  logging:
    format: xml
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for an invalid logging format")
	}
}

func TestSyncThresholdsForConfiguredFamily(t *testing.T) {
	path := writeConfig(t, `
postgres:
  dsn: postgres://localhost/phobos
redis:
  addr: localhost:6379
lrs:
  sync:
    - family: tape
      sync_nb_req: 3
      sync_time_ms: 60000
      sync_wsize_kb: 1024
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	thr := cfg.LRS.SyncThresholdsFor(resource.FamilyTape)
	if thr.CountThreshold != 3 {
		t.Errorf("expected count threshold 3, got %d", thr.CountThreshold)
	}
	if thr.TimeThreshold != 60*time.Second {
		t.Errorf("expected time threshold 60s, got %v", thr.TimeThreshold)
	}
	if thr.SizeThresholdBytes != 1024*1024 {
		t.Errorf("expected size threshold 1MiB, got %d", thr.SizeThresholdBytes)
	}
}

func TestLoadDefaultsHostToHostname(t *testing.T) {
	path := writeConfig(t, "postgres:\n  dsn: postgres://localhost/phobos\nredis:\n  addr: localhost:6379\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host == "" {
		t.Error("expected Host to default to the machine hostname")
	}
}

func TestLoadParsesDevicesTree(t *testing.T) {
	path := writeConfig(t, `
postgres:
  dsn: postgres://localhost/phobos
redis:
  addr: localhost:6379
devices:
  disk_paths:
    - /dev/disk-a
  tape:
    - changer_path: /dev/sg0
      drive_paths: ["/dev/st0", "/dev/st1"]
  rados_pool:
    endpoint: https://rgw.internal:7480
    region: us-east-1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Devices.DiskPaths) != 1 || cfg.Devices.DiskPaths[0] != "/dev/disk-a" {
		t.Errorf("unexpected disk_paths: %v", cfg.Devices.DiskPaths)
	}
	if len(cfg.Devices.Tape) != 1 || cfg.Devices.Tape[0].ChangerPath != "/dev/sg0" {
		t.Fatalf("unexpected tape config: %+v", cfg.Devices.Tape)
	}
	if len(cfg.Devices.Tape[0].DrivePaths) != 2 {
		t.Errorf("expected 2 drive paths, got %d", len(cfg.Devices.Tape[0].DrivePaths))
	}
	if cfg.Devices.RadosPool.Endpoint != "https://rgw.internal:7480" {
		t.Errorf("unexpected rados_pool endpoint: %q", cfg.Devices.RadosPool.Endpoint)
	}
}

func TestSyncThresholdsForUnconfiguredFamilyFallsBackToDefault(t *testing.T) {
	path := writeConfig(t, "postgres:\n  dsn: postgres://localhost/phobos\nredis:\n  addr: localhost:6379\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	thr := cfg.LRS.SyncThresholdsFor(resource.FamilyDisk)
	if thr != DefaultThresholds {
		t.Errorf("expected default thresholds for an unconfigured family, got %+v", thr)
	}
}
