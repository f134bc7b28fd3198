package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the ledger and its background shippers. Methods are nil-safe.
type Metrics struct {
	Appended        prometheus.Counter
	RelayPublished  prometheus.Counter
	RelayFailures   prometheus.Counter
	ArchiveObjects  prometheus.Counter
	RelayCheckpoint prometheus.Gauge
}

// NewMetrics registers the ledger metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the ledger metrics with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Appended: f.NewCounter(prometheus.CounterOpts{
			Name: "organmatch_ledger_appended_total",
			Help: "Total number of entries appended to the ledger",
		}),
		RelayPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "organmatch_relay_published_total",
			Help: "Total number of ledger entries produced to Kafka",
		}),
		RelayFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "organmatch_relay_failures_total",
			Help: "Total number of relay batches that failed to publish",
		}),
		ArchiveObjects: f.NewCounter(prometheus.CounterOpts{
			Name: "organmatch_archive_objects_total",
			Help: "Total number of ledger archive objects uploaded",
		}),
		RelayCheckpoint: f.NewGauge(prometheus.GaugeOpts{
			Name: "organmatch_relay_checkpoint_seq",
			Help: "Highest ledger sequence confirmed by the Kafka relay",
		}),
	}
}

func (m *Metrics) IncAppended(n int) {
	if m == nil {
		return
	}
	m.Appended.Add(float64(n))
}

func (m *Metrics) IncRelayPublished(n int) {
	if m == nil {
		return
	}
	m.RelayPublished.Add(float64(n))
}

func (m *Metrics) IncRelayFailure() {
	if m == nil {
		return
	}
	m.RelayFailures.Inc()
}

func (m *Metrics) SetRelayCheckpoint(seq uint64) {
	if m == nil {
		return
	}
	m.RelayCheckpoint.Set(float64(seq))
}

func (m *Metrics) IncArchiveObject() {
	if m == nil {
		return
	}
	m.ArchiveObjects.Inc()
}
