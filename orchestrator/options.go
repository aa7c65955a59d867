package orchestrator

import (
	"time"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/dispatcher"
	"github.com/goliatone/go-report/metrics"
	"github.com/goliatone/go-report/runner"
)

const (
	DefaultMaxConcurrentPerUser = 5
	DefaultTimeout              = 300 * time.Second
	DefaultUploadRetries        = 2
	defaultTracerName           = "github.com/goliatone/go-report/orchestrator"
)

type Option func(*Orchestrator)

// WithCatalog replaces report.DefaultCatalog.
func WithCatalog(c *report.Catalog) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.catalog = c
		}
	}
}

// WithMaxConcurrentPerUser sets the admission ceiling.
func WithMaxConcurrentPerUser(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxPerUser = n
		}
	}
}

// WithTimeout sets the per-execution wall-clock deadline. A request
// Timeout overrides it.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithRetention(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.retention = d
		}
	}
}

func WithLogger(l report.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) {
		o.metrics = c
	}
}

func WithTracerName(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.tracerName = name
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithUploadRetry configures how storage uploads are retried.
func WithUploadRetry(retries int, strategy runner.RetryStrategy) Option {
	return func(o *Orchestrator) {
		if retries >= 0 {
			o.uploadRetries = retries
		}
		if strategy != nil {
			o.uploadStrategy = strategy
		}
	}
}

// WithDispatcher publishes ReportStarted and ReportFinished events on d.
func WithDispatcher(d *dispatcher.Dispatcher) Option {
	return func(o *Orchestrator) {
		o.events = d
	}
}
