/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package keeper

import "github.com/prometheus/client_golang/prometheus"

// Eviction tier labels reported by the metrics collector.
const (
	TierUnimportantLarge = "unimportant_large"
	TierUnimportantLRU   = "unimportant_lru"
	TierImportantLRU     = "important_lru"
)

// MetricsCollector represents a collector of metrics to analyze how the engine manages its medium.
type MetricsCollector interface {
	// SetTrackedKeysAmount sets the total number of keys tracked in the ledger.
	SetTrackedKeysAmount(int)

	// AddSelectedEvictions increments the number of keys selected for eviction in the given tier.
	AddSelectedEvictions(tier string, n int)

	// AddExpiredKeys increments the number of keys removed by the expiry sweeper.
	AddExpiredKeys(int)

	// IncRejectedInsertions increments the number of writes rejected by admission control.
	IncRejectedInsertions()

	// IncSnapshotSaves increments the number of successfully persisted ledger snapshots.
	IncSnapshotSaves()

	// IncSnapshotLoadFailures increments the number of snapshot loads that could not be decoded.
	IncSnapshotLoadFailures()

	// IncRepairs increments the number of executed ledger repairs with the given action.
	IncRepairs(action string)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels

	// CurriedLabelNames is a list of label names that will be curried with the provided labels.
	// See PrometheusMetrics.MustCurryWith method for more details.
	// Keep in mind that if this list is not empty,
	// PrometheusMetrics.MustCurryWith method must be called further with the same labels.
	// Otherwise, the collector will panic.
	CurriedLabelNames []string
}

// PrometheusMetrics represents Prometheus metrics for the keeper engine.
type PrometheusMetrics struct {
	TrackedKeysAmount     *prometheus.GaugeVec
	EvictionsTotal        *prometheus.CounterVec
	ExpiredKeysTotal      *prometheus.CounterVec
	RejectedInsertsTotal  *prometheus.CounterVec
	SnapshotSavesTotal    *prometheus.CounterVec
	SnapshotLoadFailTotal *prometheus.CounterVec
	RepairsTotal          *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	makeCounterVec := func(name, help string, labelNames ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   opts.Namespace,
				Name:        name,
				Help:        help,
				ConstLabels: opts.ConstLabels,
			},
			append(labelNames, opts.CurriedLabelNames...),
		)
	}

	trackedKeysAmount := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "storekeeper_tracked_keys_amount",
			Help:        "Total number of keys tracked in the ledger.",
			ConstLabels: opts.ConstLabels,
		},
		opts.CurriedLabelNames,
	)

	return &PrometheusMetrics{
		TrackedKeysAmount: trackedKeysAmount,
		EvictionsTotal: makeCounterVec("storekeeper_evictions_total",
			"Number of keys selected for eviction.", "tier"),
		ExpiredKeysTotal: makeCounterVec("storekeeper_expired_keys_total",
			"Number of keys removed by the expiry sweeper."),
		RejectedInsertsTotal: makeCounterVec("storekeeper_rejected_insertions_total",
			"Number of writes rejected by admission control."),
		SnapshotSavesTotal: makeCounterVec("storekeeper_snapshot_saves_total",
			"Number of successfully persisted ledger snapshots."),
		SnapshotLoadFailTotal: makeCounterVec("storekeeper_snapshot_load_failures_total",
			"Number of ledger snapshots that could not be decoded."),
		RepairsTotal: makeCounterVec("storekeeper_repairs_total",
			"Number of executed ledger repairs.", "action"),
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		TrackedKeysAmount:     pm.TrackedKeysAmount.MustCurryWith(labels),
		EvictionsTotal:        pm.EvictionsTotal.MustCurryWith(labels),
		ExpiredKeysTotal:      pm.ExpiredKeysTotal.MustCurryWith(labels),
		RejectedInsertsTotal:  pm.RejectedInsertsTotal.MustCurryWith(labels),
		SnapshotSavesTotal:    pm.SnapshotSavesTotal.MustCurryWith(labels),
		SnapshotLoadFailTotal: pm.SnapshotLoadFailTotal.MustCurryWith(labels),
		RepairsTotal:          pm.RepairsTotal.MustCurryWith(labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.TrackedKeysAmount,
		pm.EvictionsTotal,
		pm.ExpiredKeysTotal,
		pm.RejectedInsertsTotal,
		pm.SnapshotSavesTotal,
		pm.SnapshotLoadFailTotal,
		pm.RepairsTotal,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.TrackedKeysAmount)
	prometheus.Unregister(pm.EvictionsTotal)
	prometheus.Unregister(pm.ExpiredKeysTotal)
	prometheus.Unregister(pm.RejectedInsertsTotal)
	prometheus.Unregister(pm.SnapshotSavesTotal)
	prometheus.Unregister(pm.SnapshotLoadFailTotal)
	prometheus.Unregister(pm.RepairsTotal)
}

// SetTrackedKeysAmount sets the total number of keys tracked in the ledger.
func (pm *PrometheusMetrics) SetTrackedKeysAmount(amount int) {
	pm.TrackedKeysAmount.With(nil).Set(float64(amount))
}

// AddSelectedEvictions increments the number of keys selected for eviction in the given tier.
func (pm *PrometheusMetrics) AddSelectedEvictions(tier string, n int) {
	pm.EvictionsTotal.With(prometheus.Labels{"tier": tier}).Add(float64(n))
}

// AddExpiredKeys increments the number of keys removed by the expiry sweeper.
func (pm *PrometheusMetrics) AddExpiredKeys(n int) {
	pm.ExpiredKeysTotal.With(nil).Add(float64(n))
}

// IncRejectedInsertions increments the number of writes rejected by admission control.
func (pm *PrometheusMetrics) IncRejectedInsertions() {
	pm.RejectedInsertsTotal.With(nil).Inc()
}

// IncSnapshotSaves increments the number of successfully persisted ledger snapshots.
func (pm *PrometheusMetrics) IncSnapshotSaves() {
	pm.SnapshotSavesTotal.With(nil).Inc()
}

// IncSnapshotLoadFailures increments the number of snapshot loads that could not be decoded.
func (pm *PrometheusMetrics) IncSnapshotLoadFailures() {
	pm.SnapshotLoadFailTotal.With(nil).Inc()
}

// IncRepairs increments the number of executed ledger repairs with the given action.
func (pm *PrometheusMetrics) IncRepairs(action string) {
	pm.RepairsTotal.With(prometheus.Labels{"action": action}).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) SetTrackedKeysAmount(int)         {}
func (disabledMetrics) AddSelectedEvictions(string, int) {}
func (disabledMetrics) AddExpiredKeys(int)               {}
func (disabledMetrics) IncRejectedInsertions()           {}
func (disabledMetrics) IncSnapshotSaves()                {}
func (disabledMetrics) IncSnapshotLoadFailures()         {}
func (disabledMetrics) IncRepairs(string)                {}
