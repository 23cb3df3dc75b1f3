// Package metrics holds the Prometheus instrumentation for the auth service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the service counters. A nil *Metrics is safe to use; all
// methods become no-ops, which keeps tests free of registry plumbing.
type Metrics struct {
	logins        *prometheus.CounterVec
	registrations prometheus.Counter
	refreshes     *prometheus.CounterVec
	reuseDetected prometheus.Counter
	keyRotations  prometheus.Counter
	rateLimited   *prometheus.CounterVec
}

// New registers the auth counters on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		registrations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "registrations_total",
			Help:      "Successful user registrations.",
		}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "token_refreshes_total",
			Help:      "Refresh token redemptions by result.",
		}, []string{"result"}),
		reuseDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "refresh_reuse_detected_total",
			Help:      "Refresh tokens presented after they were already spent.",
		}),
		keyRotations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "key_rotations_total",
			Help:      "Signing key rotations performed by this instance.",
		}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the login rate limiter, by scope.",
		}, []string{"scope"}),
	}
}

func (m *Metrics) LoginSuccess() {
	if m != nil {
		m.logins.WithLabelValues("success").Inc()
	}
}

func (m *Metrics) LoginFailure(reason string) {
	if m != nil {
		m.logins.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Registration() {
	if m != nil {
		m.registrations.Inc()
	}
}

func (m *Metrics) RefreshSuccess() {
	if m != nil {
		m.refreshes.WithLabelValues("success").Inc()
	}
}

func (m *Metrics) RefreshFailure() {
	if m != nil {
		m.refreshes.WithLabelValues("failure").Inc()
	}
}

func (m *Metrics) ReuseDetected() {
	if m != nil {
		m.reuseDetected.Inc()
	}
}

func (m *Metrics) KeyRotation() {
	if m != nil {
		m.keyRotations.Inc()
	}
}

func (m *Metrics) RateLimited(scope string) {
	if m != nil {
		m.rateLimited.WithLabelValues(scope).Inc()
	}
}
