// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClaimsWon = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_claims_won_total",
			Help: "Number of due notifications successfully claimed for dispatch",
		},
	)

	ClaimsLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_claims_lost_total",
			Help: "Number of claim attempts that lost to a concurrent claimant",
		},
	)

	DispatchCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_cycles_total",
			Help: "Completed dispatch cycles by terminal status",
		},
		[]string{"status", "dry_run"},
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Per-endpoint delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	AttemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "delivery_attempt_duration_seconds",
			Help: "Duration of individual endpoint delivery attempts",
		},
	)

	EndpointsDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "endpoints_deactivated_total",
			Help: "Endpoints permanently deactivated after gone responses",
		},
	)

	ActiveEndpoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "directory_active_endpoints",
			Help: "Active endpoints in the subscription directory",
		},
	)

	UnknownEndpoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "directory_unknown_endpoints",
			Help: "Active endpoints with unresolved ownership",
		},
	)

	DistinctOwners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "directory_distinct_owners",
			Help: "Distinct identities owning at least one active endpoint",
		},
	)

	OwnerLinkConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "directory_owner_link_conflicts_total",
			Help: "Rejected attempts to reassign an endpoint to a different owner",
		},
	)
)
