package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements repository.Metrics using Prometheus.
type Recorder struct {
	transitions *prometheus.CounterVec
	reconnects  prometheus.Counter
	polls       *prometheus.CounterVec
	cache       *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	activeJobs  prometheus.Gauge
	latency     *prometheus.HistogramVec
}

// New creates a recorder whose collectors are registered on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradedesk_tracker_transitions_total",
				Help: "Tracker state transitions by source and target state",
			},
			[]string{"from", "to"},
		),
		reconnects: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tradedesk_stream_reconnects_total",
				Help: "Push stream reconnect attempts",
			},
		),
		polls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradedesk_polls_total",
				Help: "Status polls by outcome",
			},
			[]string{"outcome"},
		),
		cache: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradedesk_stock_context_lookups_total",
				Help: "Stock-context lookups by result (hit, miss, shared)",
			},
			[]string{"result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradedesk_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		activeJobs: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradedesk_active_jobs",
				Help: "Analysis jobs currently tracked",
			},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradedesk_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordTransition counts a tracker state change.
func (r *Recorder) RecordTransition(from, to string) {
	r.transitions.WithLabelValues(from, to).Inc()
}

// RecordReconnect counts a scheduled stream reconnect.
func (r *Recorder) RecordReconnect() {
	r.reconnects.Inc()
}

// RecordPoll counts a status poll outcome (ok, error, expired).
func (r *Recorder) RecordPoll(outcome string) {
	r.polls.WithLabelValues(outcome).Inc()
}

// RecordCacheLookup counts a stock-context lookup result.
func (r *Recorder) RecordCacheLookup(result string) {
	r.cache.WithLabelValues(result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// SetActiveJobs sets the number of tracked jobs.
func (r *Recorder) SetActiveJobs(n int) {
	r.activeJobs.Set(float64(n))
}

// RecordLatency records operation latency.
func (r *Recorder) RecordLatency(op string, d time.Duration) {
	r.latency.WithLabelValues(op).Observe(d.Seconds())
}
