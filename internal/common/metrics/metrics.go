// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuotaChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_checks_total",
			Help: "Total number of quota checks by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	QuotaDebits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_debits_total",
			Help: "Total number of counter debits by action",
		},
		[]string{"action"},
	)

	TokensDebited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokens_debited_total",
			Help: "Total provider-reported token cost debited from user budgets",
		},
	)

	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Total number of external provider calls by service and status",
		},
		[]string{"service", "status"},
	)

	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "provider_call_duration_seconds",
			Help: "Duration of external provider calls in seconds",
		},
		[]string{"service"},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_token_refreshes_total",
			Help: "Total number of derived-token refreshes by status",
		},
		[]string{"status"},
	)

	StorageBackend = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_backend_active",
			Help: "Active persistence backend (1 for the selected backend)",
		},
		[]string{"backend"},
	)

	PaymentsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_settled_total",
			Help: "Total number of settled payments by kind",
		},
		[]string{"kind"},
	)
)
