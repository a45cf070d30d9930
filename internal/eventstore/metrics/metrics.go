package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Appends        prometheus.Counter
	Conflicts      prometheus.Counter
	AppendDuration prometheus.Histogram
	LoadDuration   prometheus.Histogram
	EventsAppended prometheus.Counter
	EventsLoaded   prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Appends: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_eventstore_appends_total",
			Help: "Total number of successful append batches",
		}),
		Conflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_eventstore_conflicts_total",
			Help: "Total number of appends rejected by the version uniqueness constraint",
		}),
		AppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicle_eventstore_append_duration_seconds",
			Help:    "Duration of append operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		LoadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicle_eventstore_load_duration_seconds",
			Help:    "Duration of load operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		EventsAppended: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_eventstore_events_appended_total",
			Help: "Total number of events persisted",
		}),
		EventsLoaded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_eventstore_events_loaded_total",
			Help: "Total number of events read back for replay",
		}),
	}
}

func (m *Metrics) ObserveAppend(start time.Time, events int) {
	m.Appends.Inc()
	m.EventsAppended.Add(float64(events))
	m.AppendDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveLoad(start time.Time, events int) {
	m.EventsLoaded.Add(float64(events))
	m.LoadDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncConflicts() {
	m.Conflicts.Inc()
}
