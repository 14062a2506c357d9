package finance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics observes the report cache and ledger checks.
type Metrics struct {
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	buildTime   *prometheus.HistogramVec
	drift       prometheus.Gauge
}

// NewMetrics registers finance metrics against registerer; nil uses the default registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finance_report_cache_hits_total",
			Help: "Number of cache hits for financial reports.",
		}, []string{"report"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finance_report_cache_miss_total",
			Help: "Number of cache misses for financial reports.",
		}, []string{"report"}),
		buildTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finance_report_build_duration_seconds",
			Help:    "Duration required to build financial reports.",
			Buckets: prometheus.DefBuckets,
		}, []string{"report"}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finance_ledger_drift_accounts",
			Help: "Accounts whose stored balance disagrees with the posting journal at the last check.",
		}),
	}
	registerer.MustRegister(m.cacheHits, m.cacheMisses, m.buildTime, m.drift)
	return m
}

func (m *Metrics) cacheResult(report string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.WithLabelValues(report).Inc()
		return
	}
	m.cacheMisses.WithLabelValues(report).Inc()
}

func (m *Metrics) observeBuild(report string, d time.Duration) {
	if m == nil {
		return
	}
	m.buildTime.WithLabelValues(report).Observe(d.Seconds())
}

func (m *Metrics) driftAccounts(n int) {
	if m == nil {
		return
	}
	m.drift.Set(float64(n))
}
