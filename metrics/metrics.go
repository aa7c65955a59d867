// Package metrics exposes prometheus collectors for report executions and
// scheduled runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "report"

// Collector groups the engine's collectors. The zero value is not usable;
// build one with New.
type Collector struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
	rejections *prometheus.CounterVec
	schedule   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Report executions by type and final status",
		}, []string{"type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of report executions",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"type"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Report executions currently running",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Requests rejected before execution, by reason",
		}, []string{"reason"}),
		schedule: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_runs_total",
			Help:      "Scheduled report runs by result",
		}, []string{"result"}),
	}

	if reg != nil {
		for _, col := range []prometheus.Collector{c.executions, c.duration, c.inFlight, c.rejections, c.schedule} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// ExecutionStarted bumps the in-flight gauge.
func (c *Collector) ExecutionStarted() {
	if c == nil {
		return
	}
	c.inFlight.Inc()
}

// ExecutionFinished records a finished execution and drops the gauge.
func (c *Collector) ExecutionFinished(reportType, status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.inFlight.Dec()
	c.executions.WithLabelValues(reportType, status).Inc()
	c.duration.WithLabelValues(reportType).Observe(elapsed.Seconds())
}

// AdmissionRejected counts a request refused before it ran.
func (c *Collector) AdmissionRejected(reason string) {
	if c == nil {
		return
	}
	c.rejections.WithLabelValues(reason).Inc()
}

// ScheduleRun counts a scheduled run by result.
func (c *Collector) ScheduleRun(result string) {
	if c == nil {
		return
	}
	c.schedule.WithLabelValues(result).Inc()
}
