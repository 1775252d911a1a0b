package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the login flow.
// Tracks callback outcomes, handoff redemptions and provider revocations.
type Metrics struct {
	CallbackOutcomes *prometheus.CounterVec
	CallbackDuration prometheus.Histogram
	Redemptions      *prometheus.CounterVec
	Revocations      *prometheus.CounterVec
	UsersCreated     prometheus.Counter
}

// New registers the flow metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CallbackOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rpgateway_oidc_callbacks_total",
			Help: "Callback outcomes by redirect code (ok on success)",
		}, []string{"code"}),
		CallbackDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rpgateway_oidc_callback_duration_seconds",
			Help:    "Duration of callback handling including provider round trips",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		Redemptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rpgateway_oidc_exchange_redemptions_total",
			Help: "Exchange code redemptions by result",
		}, []string{"result"}),
		Revocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rpgateway_oidc_revocations_total",
			Help: "Provider refresh-token revocations by result",
		}, []string{"result"}),
		UsersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "rpgateway_oidc_users_created_total",
			Help: "Local users created on first login",
		}),
	}
}

// ObserveCallback records one callback's outcome. code is "ok" on success.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveCallback(code string, start time.Time) {
	if m == nil {
		return
	}
	m.CallbackOutcomes.WithLabelValues(code).Inc()
	m.CallbackDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementRedemption(ok bool) {
	if m == nil {
		return
	}
	m.Redemptions.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) IncrementRevocation(ok bool) {
	if m == nil {
		return
	}
	m.Revocations.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) IncrementUsersCreated() {
	if m == nil {
		return
	}
	m.UsersCreated.Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
