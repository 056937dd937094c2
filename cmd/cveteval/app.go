package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"cveteval/internal/blob"
	"cveteval/internal/config"
	"cveteval/internal/core"
	"cveteval/internal/platform/logger"
)

var _ core.Logger = (*logger.Logger)(nil)

// loadConfig is swapped by tests.
var loadConfig = config.Load

// expvar names are process global.
var expvarRecorder = sync.OnceValue(func() *core.ExpvarMetricsRecorder {
	return core.NewExpvarMetricsRecorder("cveteval")
})

// app holds the collaborators built from the configuration for one command.
type app struct {
	cfg     config.Config
	out     io.Writer
	log     *logger.Logger
	svc     *core.Service
	closer  io.Closer
	metrics *core.PrometheusMetricsRecorder
}

func newApp(ctx context.Context, out io.Writer) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, err
	}
	store, closer, err := core.OpenPersistentStore(core.StorageConfig{
		Driver:      cfg.Storage.Driver,
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	blobs, err := blob.Open(ctx, blob.Config{
		Driver: cfg.Blob.Driver,
		FSRoot: cfg.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:          cfg.Blob.S3.Bucket,
			Region:          cfg.Blob.S3.Region,
			Endpoint:        cfg.Blob.S3.Endpoint,
			PathStyle:       cfg.Blob.S3.PathStyle,
			AccessKeyID:     cfg.Blob.S3.AccessKeyID,
			SecretAccessKey: cfg.Blob.S3.SecretAccessKey,
		},
	})
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	a := &app{cfg: cfg, out: out, log: log, closer: closer}
	opts := []core.ServiceOption{
		core.WithLogger(log),
		core.WithBlobStore(blobs),
		core.WithAuditRecorder(core.NewLogAuditRecorder(log.With("component", "audit"))),
	}
	switch cfg.Metrics.Exporter {
	case config.MetricsPrometheus:
		a.metrics = core.NewPrometheusMetricsRecorder()
		opts = append(opts, core.WithMetricsRecorder(a.metrics))
	case config.MetricsExpvar:
		opts = append(opts, core.WithMetricsRecorder(expvarRecorder()))
	}
	a.svc = core.NewService(store, opts...)
	log.Debug("configuration loaded",
		"storage_driver", cfg.Storage.Driver,
		"postgres_dsn", cfg.Storage.PostgresDSN,
		"blob_driver", blobs.Driver(),
		"metrics", cfg.Metrics.Exporter,
	)
	return a, nil
}

// close pushes metrics when a Pushgateway is configured, then releases the store.
func (a *app) close(ctx context.Context, job string) error {
	var errs []error
	if a.metrics != nil && a.cfg.Metrics.PushURL != "" {
		if err := a.metrics.Push(ctx, a.cfg.Metrics.PushURL, job); err != nil {
			a.log.Warn("metrics push failed", "error", err)
			errs = append(errs, err)
		}
	}
	if err := a.closer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	a.log.Sync()
	return errors.Join(errs...)
}
