package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Ajpantuso/hactl/internal/cluster"
)

type Metrics struct {
	// Snapshot loads
	ClusterLoadsTotal   *prometheus.CounterVec
	ClusterLoadDuration *prometheus.HistogramVec

	// Store
	StoreErrorsTotal        *prometheus.CounterVec
	SessionTransitionsTotal *prometheus.CounterVec
	EnsembleChangesTotal    *prometheus.CounterVec

	// Leadership
	LeaderAttemptsTotal      *prometheus.CounterVec
	StaleLeaderRemovalsTotal *prometheus.CounterVec
	FailoversTotal           *prometheus.CounterVec

	// Cluster state, exported by the monitor
	ClusterMembers         *prometheus.GaugeVec
	ClusterHasLeader       *prometheus.GaugeVec
	ClusterFailoverPending *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ClusterLoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hactl_cluster_loads_total",
				Help: "Total number of cluster snapshot loads from the store",
			},
			[]string{"scope", "result"},
		),
		ClusterLoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hactl_cluster_load_duration_seconds",
				Help:    "Duration of cluster snapshot loads",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"scope"},
		),

		StoreErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hactl_store_errors_total",
				Help: "Total number of store operations that failed after retries",
			},
			[]string{"operation"},
		),
		SessionTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hactl_session_transitions_total",
				Help: "Total number of store session state transitions",
			},
			[]string{"state"},
		),
		EnsembleChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hactl_ensemble_changes_total",
				Help: "Total number of store endpoint list changes",
			},
			[]string{"provider"},
		),

		LeaderAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hactl_leader_attempts_total",
				Help: "Total number of leader key acquisition attempts",
			},
			[]string{"scope", "result"},
		),
		StaleLeaderRemovalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hactl_stale_leader_removals_total",
				Help: "Total number of leader keys removed after session ownership was lost",
			},
			[]string{"scope"},
		),
		FailoversTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hactl_failovers_total",
				Help: "Total number of orchestrated failovers by outcome",
			},
			[]string{"scope", "outcome"},
		),

		ClusterMembers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hactl_cluster_members",
				Help: "Number of registered cluster members",
			},
			[]string{"scope"},
		),
		ClusterHasLeader: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hactl_cluster_has_leader",
				Help: "Whether the cluster has a leader",
			},
			[]string{"scope"},
		),
		ClusterFailoverPending: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hactl_cluster_failover_pending",
				Help: "Whether a failover request is outstanding",
			},
			[]string{"scope"},
		),
	}
}

// ObserveCluster sets the cluster state gauges for scope from c.
func (m *Metrics) ObserveCluster(scope string, c *cluster.Cluster) {
	m.ClusterMembers.WithLabelValues(scope).Set(float64(len(c.Members)))
	m.ClusterHasLeader.WithLabelValues(scope).Set(boolValue(c.Leader != nil))
	m.ClusterFailoverPending.WithLabelValues(scope).Set(boolValue(c.HasFailover()))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
