// Package metrics регистрирует счётчики Prometheus сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы обработки вебхука.
const (
	OutcomeActivated        = "activated"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeUnknownCheckout  = "unknown_checkout"
	OutcomeAmountMismatch   = "amount_mismatch"
	OutcomeFailedPayment    = "failed_payment"
	OutcomePlanNotFound     = "plan_not_found"
	OutcomeError            = "error"
)

var (
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prepaccess_webhooks_total",
			Help: "Payment gateway webhooks by variant and outcome",
		},
		[]string{"variant", "outcome"},
	)

	ActivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prepaccess_activations_total",
			Help: "Subscription activation attempts by result",
		},
		[]string{"result"},
	)

	ActivationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prepaccess_activation_duration_seconds",
			Help:    "Duration of the activation transaction",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prepaccess_sweep_expired_subscriptions_total",
			Help: "Subscriptions moved to expired by the sweeper",
		},
	)

	SweepRevokedGrantsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prepaccess_sweep_revoked_grants_total",
			Help: "Expired manual grants removed by the sweeper",
		},
	)

	SweepErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prepaccess_sweep_errors_total",
			Help: "Per-record sweeper failures",
		},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prepaccess_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	AccessChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prepaccess_access_checks_total",
			Help: "Tool access checks by decision",
		},
		[]string{"decision"},
	)
)
