package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "commission"

// distribution results
const (
	ResultCreated  = "created"
	ResultReplayed = "replayed"
	ResultEmpty    = "empty"
	ResultFailed   = "failed"
)

var (
	Distributions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "distributions_total",
		Help:      "Distribute calls by result.",
	}, []string{"result"})

	DistributedAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "distributed_amount_total",
		Help:      "Commission amount written to the ledger by level.",
	}, []string{"level"})

	LevelFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "level_failures_total",
		Help:      "Chain levels skipped because the commission could not be computed.",
	}, []string{"level"})

	SettleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settle_failures_total",
		Help:      "Pending records whose earnings increment failed.",
	})

	TierTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tier_transitions_total",
		Help:      "Automatic membership tier changes.",
	}, []string{"from", "to"})

	ReconcileDiscrepancies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_discrepancies_total",
		Help:      "Discrepancies reported by reconciliation by kind.",
	}, []string{"kind"})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconcile_duration_seconds",
		Help:      "Duration of reconciliation runs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	Backfilled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backfilled_deposits_total",
		Help:      "Deposits distributed by backfill.",
	})
)
