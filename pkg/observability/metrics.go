package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the auth engine
type Metrics struct {
	// Flow metrics
	FlowsStartedTotal *prometheus.CounterVec
	CallbacksTotal    *prometheus.CounterVec
	CallbackDuration  *prometheus.HistogramVec
	CallbackFailures  *prometheus.CounterVec

	// Lockout metrics
	LockoutsTotal  *prometheus.CounterVec
	LockedAccounts prometheus.Gauge

	// Session metrics
	SessionsActive     prometheus.Gauge
	SessionsCreated    *prometheus.CounterVec
	SessionsRevoked    *prometheus.CounterVec
	SessionsSweptTotal prometheus.Counter

	// Token metrics
	TokensIssuedTotal   *prometheus.CounterVec
	TokenVerifyFailures *prometheus.CounterVec

	// Audit metrics
	AuditWriteErrors *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		FlowsStartedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_flows_started_total",
				Help: "Total number of federation flows started",
			},
			[]string{"provider", "protocol"},
		),
		CallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_callbacks_total",
				Help: "Total number of federation callbacks processed",
			},
			[]string{"provider", "protocol", "outcome"},
		),
		CallbackDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authcore_callback_duration_seconds",
				Help:    "Federation callback processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "protocol"},
		),
		CallbackFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_callback_failures_total",
				Help: "Total number of callback failures by stage",
			},
			[]string{"provider", "stage"},
		),
		LockoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_lockouts_total",
				Help: "Total number of accounts entering a lockout window",
			},
			[]string{"provider"},
		),
		LockedAccounts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authcore_locked_accounts",
				Help: "Number of accounts currently inside a lockout window",
			},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authcore_sessions_active",
				Help: "Number of live sessions",
			},
		),
		SessionsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_sessions_created_total",
				Help: "Total number of sessions created",
			},
			[]string{"provider"},
		),
		SessionsRevoked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_sessions_revoked_total",
				Help: "Total number of sessions revoked",
			},
			[]string{"reason"},
		),
		SessionsSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authcore_sessions_swept_total",
				Help: "Total number of expired sessions removed by the sweeper",
			},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_tokens_issued_total",
				Help: "Total number of bearer tokens issued",
			},
			[]string{"role"},
		),
		TokenVerifyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_token_verify_failures_total",
				Help: "Total number of token verification failures",
			},
			[]string{"reason"},
		),
		AuditWriteErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authcore_audit_write_errors_total",
				Help: "Total number of audit sink write failures",
			},
			[]string{"sink"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.FlowsStartedTotal,
			m.CallbacksTotal,
			m.CallbackDuration,
			m.CallbackFailures,
			m.LockoutsTotal,
			m.LockedAccounts,
			m.SessionsActive,
			m.SessionsCreated,
			m.SessionsRevoked,
			m.SessionsSweptTotal,
			m.TokensIssuedTotal,
			m.TokenVerifyFailures,
			m.AuditWriteErrors,
		)
	}

	return m
}

// Handler returns an HTTP handler exposing the registry's metrics
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
