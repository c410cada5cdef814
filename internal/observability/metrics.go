// Package observability provides Prometheus metrics and the process logger.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide set of collectors, grouped by engine.
type Metrics struct {
	// Matrix metrics
	PlacementsTotal prometheus.Counter
	SpilloversTotal prometheus.Counter
	PlacementDepth  prometheus.Histogram

	// Tier metrics
	TierUpgrades *prometheus.CounterVec

	// Commission metrics
	CommissionRuns       *prometheus.CounterVec
	CommissionRows       *prometheus.CounterVec
	CommissionAuthorized prometheus.Counter
	CapClamps            prometheus.Counter

	// Withdrawal metrics
	WithdrawalEvaluations *prometheus.CounterVec
	WithdrawalTransitions *prometheus.CounterVec

	// Payout metrics
	PayoutRuns     *prometheus.CounterVec
	PayoutsCreated prometheus.Counter

	// Latency
	OperationLatency *prometheus.HistogramVec

	// Store writes (ledger sinks)
	StoreWriteDuration *prometheus.HistogramVec
	StoreWriteErrors   *prometheus.CounterVec

	// Feed metrics
	FeedClients prometheus.Gauge
}

// NewMetrics registers every collector under namespace (default matrix_comp).
// Registering the same namespace twice panics.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "matrix_comp"
	}

	return &Metrics{
		PlacementsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matrix",
			Name:      "placements_total",
			Help:      "Total number of matrix placements",
		}),
		SpilloversTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matrix",
			Name:      "spillovers_total",
			Help:      "Total number of placements that landed below someone other than the referrer",
		}),
		PlacementDepth: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "matrix",
			Name:      "placement_relative_depth",
			Help:      "Depth below the referrer at which a participant was placed",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}),

		TierUpgrades: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tier",
			Name:      "upgrades_total",
			Help:      "Total number of tier upgrades by target tier",
		}, []string{"tier"}),

		CommissionRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commission",
			Name:      "runs_total",
			Help:      "Total number of commission distribution runs by outcome",
		}, []string{"outcome"}),
		CommissionRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commission",
			Name:      "rows_total",
			Help:      "Total number of commission rows by status",
		}, []string{"status"}),
		CommissionAuthorized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commission",
			Name:      "authorized_amount_total",
			Help:      "Sum of authorized commission amounts",
		}),
		CapClamps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compliance",
			Name:      "cap_clamps_total",
			Help:      "Total number of commission amounts clamped by a cap",
		}),

		WithdrawalEvaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawal",
			Name:      "evaluations_total",
			Help:      "Total number of withdrawal evaluations by type and outcome",
		}, []string{"type", "outcome"}),
		WithdrawalTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawal",
			Name:      "transitions_total",
			Help:      "Total number of withdrawal status transitions by target status",
		}, []string{"status"}),

		PayoutRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "runs_total",
			Help:      "Total number of profit payout runs by status",
		}, []string{"status"}),
		PayoutsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payout",
			Name:      "payouts_created_total",
			Help:      "Total number of profit payouts created",
		}),

		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "operation_latency_seconds",
			Help:      "Core operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		StoreWriteDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "write_duration_seconds",
			Help:      "Ledger sink write duration by backend",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"backend", "operation"}),
		StoreWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "write_errors_total",
			Help:      "Failed ledger sink writes by backend",
		}, []string{"backend", "operation"}),

		FeedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Number of connected ledger feed clients",
		}),
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics backs the Record helpers.
var DefaultMetrics = NewMetrics("")

// RecordPlacement records a matrix placement at the given depth below the anchor.
func RecordPlacement(relativeDepth int, spillover bool) {
	DefaultMetrics.PlacementsTotal.Inc()
	if relativeDepth > 0 {
		DefaultMetrics.PlacementDepth.Observe(float64(relativeDepth))
	}
	if spillover {
		DefaultMetrics.SpilloversTotal.Inc()
	}
}

// RecordTierUpgrade increments the tier upgrades counter.
func RecordTierUpgrade(tierID string) {
	DefaultMetrics.TierUpgrades.WithLabelValues(tierID).Inc()
}

// RecordCommissionRun records the outcome of a distribution run.
func RecordCommissionRun(outcome string) {
	DefaultMetrics.CommissionRuns.WithLabelValues(outcome).Inc()
}

// RecordCommissionRow records one commission row.
func RecordCommissionRow(status string, authorized float64, capped bool) {
	DefaultMetrics.CommissionRows.WithLabelValues(status).Inc()
	DefaultMetrics.CommissionAuthorized.Add(authorized)
	if capped {
		DefaultMetrics.CapClamps.Inc()
	}
}

// RecordWithdrawalEvaluation records a withdrawal policy evaluation.
func RecordWithdrawalEvaluation(withdrawalType string, eligible bool) {
	outcome := "ineligible"
	if eligible {
		outcome = "eligible"
	}
	DefaultMetrics.WithdrawalEvaluations.WithLabelValues(withdrawalType, outcome).Inc()
}

// RecordWithdrawalTransition records a withdrawal status change.
func RecordWithdrawalTransition(status string) {
	DefaultMetrics.WithdrawalTransitions.WithLabelValues(status).Inc()
}

// RecordPayoutRun records a payout run.
func RecordPayoutRun(status string, created int) {
	DefaultMetrics.PayoutRuns.WithLabelValues(status).Inc()
	DefaultMetrics.PayoutsCreated.Add(float64(created))
}

// RecordLatency records operation latency.
func RecordLatency(operation string, seconds float64) {
	DefaultMetrics.OperationLatency.WithLabelValues(operation).Observe(seconds)
}

// RecordDBQuery records one store write; a non-nil err also counts a failure.
func RecordDBQuery(backend, operation string, seconds float64, err error) {
	DefaultMetrics.StoreWriteDuration.WithLabelValues(backend, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.StoreWriteErrors.WithLabelValues(backend, operation).Inc()
	}
}

// SetFeedClients updates the connected feed clients gauge.
func SetFeedClients(n int) {
	DefaultMetrics.FeedClients.Set(float64(n))
}
