package main

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/config"
	"github.com/goliatone/go-report/export"
	"github.com/goliatone/go-report/metrics"
	"github.com/goliatone/go-report/orchestrator"
	"github.com/goliatone/go-report/source"
	"github.com/goliatone/go-report/storage"
)

// app is bound into every command's Run.
type app struct {
	cfg    config.Config
	logger report.Logger
	out    io.Writer
	fs     afero.Fs
	clock  func() time.Time

	registry *prometheus.Registry
}

func (a *app) now() time.Time {
	if a.clock != nil {
		return a.clock()
	}
	return time.Now()
}

func (a *app) filesystem() afero.Fs {
	if a.fs == nil {
		a.fs = afero.NewOsFs()
	}
	return a.fs
}

// store builds the configured artifact store. root overrides the
// filesystem path when set.
func (a *app) store(ctx context.Context, root string) (storage.Store, error) {
	if a.cfg.Storage.Driver == config.DriverS3 {
		s3cfg := a.cfg.Storage.S3
		client, err := storage.NewS3Client(ctx, storage.S3Config{
			Bucket:          s3cfg.Bucket,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(client, s3cfg.Bucket, storage.WithS3Logger(a.logger)), nil
	}

	if root == "" {
		root = a.cfg.Storage.Path
	}
	opts := []storage.FileOption{storage.WithFileLogger(a.logger)}
	if a.cfg.Storage.BaseURL != "" {
		opts = append(opts, storage.WithBaseURL(a.cfg.Storage.BaseURL))
	}
	return storage.NewFileStore(a.filesystem(), root, opts...), nil
}

func (a *app) collector() (*metrics.Collector, error) {
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	return metrics.New(a.registry)
}

// engine wires an orchestrator over the static data source.
func (a *app) engine(ctx context.Context, root string, src source.DataSource, extra ...orchestrator.Option) (*orchestrator.Orchestrator, *metrics.Collector, error) {
	store, err := a.store(ctx, root)
	if err != nil {
		return nil, nil, err
	}
	m, err := a.collector()
	if err != nil {
		return nil, nil, err
	}
	if src == nil {
		src = source.Static{Sections: 2, Rows: 25}
	}

	opts := append([]orchestrator.Option{
		orchestrator.WithCatalog(report.DefaultCatalog()),
		orchestrator.WithMaxConcurrentPerUser(a.cfg.MaxConcurrentPerUser),
		orchestrator.WithTimeout(a.cfg.Timeout),
		orchestrator.WithRetention(a.cfg.Retention),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithMetrics(m),
		orchestrator.WithClock(a.now),
	}, extra...)
	orch := orchestrator.New(src, export.NewEngine(export.WithLogger(a.logger)), store, opts...)
	return orch, m, nil
}
