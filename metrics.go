package replayshare

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// shareMetrics holds one set of collectors per named share, labeled with the
// share name. Anonymous shares carry no metrics; all increment helpers
// tolerate a nil receiver.
type shareMetrics struct {
	tapped    prometheus.Counter
	cacheHits prometheus.Counter
	consumers prometheus.Gauge
	dropped   prometheus.Counter
}

func newShareMetrics(share string) *shareMetrics {
	if share == "" {
		return nil
	}
	labels := prometheus.Labels{"share": share}
	return &shareMetrics{
		tapped: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "replay_tapped",
			Help:        "The total number of values seen by the tap",
			ConstLabels: labels,
		}),
		cacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "replay_cache_hits",
			Help:        "The total number of cached values replayed to new consumers",
			ConstLabels: labels,
		}),
		consumers: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "replay_consumers",
			Help:        "The number of consumers currently attached",
			ConstLabels: labels,
		}),
		dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "replay_backpressure_dropped",
			Help:        "The total number of values dropped due to backpressure",
			ConstLabels: labels,
		}),
	}
}

func (m *shareMetrics) incTapped() {
	if m != nil {
		m.tapped.Inc()
	}
}

func (m *shareMetrics) incCacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *shareMetrics) incDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *shareMetrics) addConsumers(delta float64) {
	if m != nil {
		m.consumers.Add(delta)
	}
}
