// Package observability records operation metrics in a Prometheus registry.
package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"assetcore/pkg/domain"
)

const namespace = "assetcore"

// Outcome labels.
const (
	StatusOK         = "ok"
	StatusValidation = "validation"
	StatusNotFound   = "not_found"
	StatusError      = "error"
)

// Recorder observes operation latency and outcome.
type Recorder struct {
	registry  *prometheus.Registry
	duration  *prometheus.HistogramVec
	total     *prometheus.CounterVec
	poolRows  prometheus.Gauge
	unmatched prometheus.Gauge
}

// NewRecorder registers the collectors in a fresh registry. Go runtime and
// process collectors are included.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of engine operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by outcome.",
		}, []string{"operation", "status"}),
		poolRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_rows",
			Help:      "Pool rows seen by the last coverage calculation.",
		}),
		unmatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unmatched_assets",
			Help:      "Pool rows no group covered in the last coverage calculation.",
		}),
	}
	r.registry.MustRegister(
		r.duration, r.total, r.poolRows, r.unmatched,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Observe records one finished operation and returns err unchanged.
func (r *Recorder) Observe(operation string, started time.Time, err error) error {
	if r == nil {
		return err
	}
	r.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	r.total.WithLabelValues(operation, Status(err)).Inc()
	return err
}

// SetCoverage publishes the totals of a coverage calculation.
func (r *Recorder) SetCoverage(total, unmatched int) {
	if r == nil {
		return
	}
	r.poolRows.Set(float64(total))
	r.unmatched.Set(float64(unmatched))
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Status maps an operation error to its outcome label.
func Status(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, domain.ErrValidation):
		return StatusValidation
	case errors.Is(err, domain.ErrNotFound):
		return StatusNotFound
	default:
		return StatusError
	}
}
