package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// SessionsCreated counts sessions opened by a successful login.
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "animehub_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	// SessionRotations records refresh rotations by result (success|rejected|error).
	SessionRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_session_rotations_total",
			Help: "Total number of refresh token rotations",
		},
		[]string{"result"},
	)

	// SessionRevocations counts revocations by reason (logout|logout_all|secret_mismatch|user_missing|absolute_expiry|terminated).
	SessionRevocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_session_revocations_total",
			Help: "Total number of revoked sessions",
		},
		[]string{"reason"},
	)

	// SessionStoreErrors counts failed round-trips to the session store by operation.
	SessionStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_session_store_errors_total",
			Help: "Total number of session store failures",
		},
		[]string{"operation"},
	)

	// MaintenanceRuns records maintenance job executions by job and result.
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_maintenance_runs_total",
			Help: "Total number of maintenance job runs",
		},
		[]string{"job", "result"},
	)

	// MailDeliveries records outbound SMTP deliveries by result (sent|failed).
	MailDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_mail_deliveries_total",
			Help: "Total number of outbound email deliveries",
		},
		[]string{"result"},
	)

	// RateLimited counts requests rejected by the rate limiter, labelled by route.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animehub_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
