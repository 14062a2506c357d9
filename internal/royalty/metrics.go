package royalty

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Metrics exposes Prometheus collectors for the payment lifecycle.
type Metrics struct {
	transitions *prometheus.CounterVec
	settled     prometheus.Counter
	emailFails  prometheus.Counter
}

// NewMetrics registers royalty metrics against registerer; nil uses the default registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "royalty_payment_transitions_total",
		Help: "Royalty payments entering each status.",
	}, []string{"status"})
	settled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "royalty_settled_amount_total",
		Help: "Sum of paid royalty amounts.",
	})
	emailFails := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "royalty_receipt_notification_failures_total",
		Help: "Receipt notifications that could not be queued after settlement.",
	})
	registerer.MustRegister(transitions, settled, emailFails)
	return &Metrics{transitions: transitions, settled: settled, emailFails: emailFails}
}

func (m *Metrics) transition(status PaymentStatus, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.transitions.WithLabelValues(string(status)).Add(float64(n))
}

func (m *Metrics) settle(amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(StatusPaid)).Inc()
	m.settled.Add(amount.InexactFloat64())
}

func (m *Metrics) notificationFailed() {
	if m == nil {
		return
	}
	m.emailFails.Inc()
}
