package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Published       prometheus.Counter
	PublishFailures prometheus.Counter
	PublishDuration prometheus.Histogram
	PollDuration    prometheus.Histogram
	BatchSize       prometheus.Histogram
	PendingDepth    prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Published: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_outbox_published_total",
			Help: "Total number of outbox entries published",
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_outbox_publish_failures_total",
			Help: "Total number of failed publish attempts",
		}),
		PublishDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicle_outbox_publish_duration_seconds",
			Help:    "Duration of individual publish operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		PollDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicle_outbox_poll_duration_seconds",
			Help:    "Duration of outbox poll cycles",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicle_outbox_batch_size",
			Help:    "Number of entries fetched per poll",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		PendingDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chronicle_outbox_pending_depth",
			Help: "Number of unpublished outbox entries",
		}),
	}
}

func (m *Metrics) IncPublished()                      { m.Published.Inc() }
func (m *Metrics) IncPublishFailures()                { m.PublishFailures.Inc() }
func (m *Metrics) ObservePublishDuration(sec float64) { m.PublishDuration.Observe(sec) }
func (m *Metrics) ObservePollDuration(sec float64)    { m.PollDuration.Observe(sec) }
func (m *Metrics) ObserveBatchSize(n int)             { m.BatchSize.Observe(float64(n)) }
func (m *Metrics) SetPendingDepth(n int64)            { m.PendingDepth.Set(float64(n)) }
