package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/phobos-lrs/lrs/internal/adapter"
	"github.com/phobos-lrs/lrs/internal/dispatch"
	"github.com/phobos-lrs/lrs/internal/dss"
	"github.com/phobos-lrs/lrs/internal/logging"
	"github.com/phobos-lrs/lrs/internal/lrsconfig"
	"github.com/phobos-lrs/lrs/internal/metrics"
	"github.com/phobos-lrs/lrs/internal/resource"
	"github.com/phobos-lrs/lrs/internal/tracing"
	"github.com/phobos-lrs/lrs/internal/worker"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the device engine daemon",
		Long:  "Load the configured device table from the DSS and run one worker per device behind the dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "/etc/phobos/phobosd.yaml", "Path to the daemon's YAML configuration")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := lrsconfig.Load(configPath)
	if err != nil {
		return err
	}

	logging.SetLevelFromString(cfg.Observability.Logging.Level)
	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

	if cfg.Observability.Logging.LogFile != "" {
		if err := logging.Default().SetOutput(cfg.Observability.Logging.LogFile); err != nil {
			return fmt.Errorf("open sub-request log file: %w", err)
		}
		defer logging.Default().Close()
	}

	if err := tracing.Init(ctx, tracing.Config{
		Enabled:    cfg.Observability.Tracing.Enabled,
		Endpoint:   cfg.Observability.Tracing.OTLPEndpoint,
		SampleRate: 1.0,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer tracing.Shutdown(context.Background())

	if cfg.Observability.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, nil)
	}

	client, err := dss.NewClient(ctx, cfg.Postgres.DSN, &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("connect dss: %w", err)
	}
	defer client.Store.Close()

	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build adapter registry: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sink := &logSink{}
	disp := dispatch.New(sink, client.Store)

	// Host:pid alone is not unique across a fast restart before the old
	// pid is reaped by the kernel; a uuid suffix guarantees this process
	// never collides with a lock owner token a prior instance held.
	lockOwner := cfg.Host + ":" + strconv.Itoa(os.Getpid()) + ":" + uuid.NewString()
	formatIndex := worker.NewFormatIndex()

	var workers []*worker.Worker
	var wg sync.WaitGroup

	for _, family := range registry.Families() {
		devices, err := client.Store.GetUsableDevices(ctx, family, cfg.Host)
		if err != nil {
			return fmt.Errorf("load devices for family %s: %w", family, err)
		}
		bundle, err := registry.Lookup(family)
		if err != nil {
			return err
		}
		wcfg := worker.Config{
			Sync:        cfg.LRS.SyncThresholdsFor(family),
			MountPrefix: cfg.LRS.MountPrefix,
			LockOwner:   lockOwner,
		}
		for _, device := range devices {
			w := worker.New(device, bundle, client, disp, wcfg, formatIndex)
			disp.Register(w)
			workers = append(workers, w)
		}
	}

	if len(workers) == 0 {
		logging.Op().Warn("no devices registered for this host", "host", cfg.Host)
	}

	dispDone := make(chan struct{})
	go func() {
		defer close(dispDone)
		disp.Run(runCtx)
	}()

	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Run(runCtx)
		}(w)
	}

	logging.Op().Info("phobosd started", "host", cfg.Host, "devices", len(workers), "families", registry.Families())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logging.Op().Info("shutdown signal received, draining workers")

	for _, w := range workers {
		w.Stop()
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		logging.Op().Info("phobosd drained cleanly")
	case <-time.After(30 * time.Second):
		logging.Op().Warn("drain timed out, forcing shutdown")
		cancel()
		<-drained
	}
	cancel()
	<-dispDone
	return nil
}

// buildRegistry wires a Bundle into the registry for every family this
// host has devices configured for (spec.md §6.C's devices tree).
func buildRegistry(ctx context.Context, cfg *lrsconfig.Config) (*adapter.Registry, error) {
	registry := adapter.NewRegistry()

	if len(cfg.Devices.DiskPaths) > 0 {
		registry.Register(resource.FamilyDisk, adapter.DiskBundle())
	}

	if len(cfg.Devices.Tape) > 0 {
		registry.Register(resource.FamilyTape, adapter.TapeBundle(cfg.Devices.Tape[0].ChangerPath))
	}

	if cfg.Devices.RadosPool.Endpoint != "" {
		client, err := newRadosS3Client(ctx, cfg.Devices.RadosPool)
		if err != nil {
			return nil, err
		}
		registry.Register(resource.FamilyRadosPool, adapter.RadosPoolBundle(client))
	}

	return registry, nil
}

func newRadosS3Client(ctx context.Context, rc lrsconfig.RadosConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(rc.Region),
	}
	if rc.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(rc.AccessKey, rc.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = &rc.Endpoint
		o.UsePathStyle = true
	}), nil
}

// logSink delivers terminal sub-request outcomes to the structured
// logger and the metrics recorder; a future network transport built on
// internal/wire would implement dispatch.ResponseSink instead.
type logSink struct{}

func (logSink) Deliver(sub *resource.SubRequest, status resource.SubStatus, rc int32) {
	logging.Op().Info("sub-request terminal",
		"request", sub.Owner.ID,
		"kind", sub.Owner.Kind.String(),
		"status", status,
		"rc", rc,
	)
	family, resourceName := "", ""
	if sub.Medium != nil {
		family = string(sub.Medium.Family)
		resourceName = sub.Medium.Name
	}
	metrics.RecordSubRequest(sub.Owner.Kind.String(), family, status.String())

	errMsg := ""
	if status == resource.SubError {
		errMsg = fmt.Sprintf("rc=%d", rc)
	}
	logging.Default().Log(&logging.SubRequestLog{
		RequestID:    sub.Owner.ID,
		Op:           sub.Owner.Kind.String(),
		Resource:     resourceName,
		DurationMs:   time.Since(sub.Arrival).Milliseconds(),
		Success:      status == resource.SubDone,
		Error:        errMsg,
		WrittenBytes: sub.WrittenSize,
		MediumFailed: sub.MediumFailed,
	})
}
