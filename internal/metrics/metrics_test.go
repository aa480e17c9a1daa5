package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ajpantuso/hactl/internal/cluster"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ClusterLoadsTotal.WithLabelValues("pg0", "success").Inc()
	m.StoreErrorsTotal.WithLabelValues("create").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "hactl_cluster_loads_total")
	assert.Contains(t, names, "hactl_store_errors_total")

	// a second set on the same registry must collide
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestNewMetricsUnregistered(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(nil)
		NewMetrics(nil)
	})
}

func TestObserveCluster(t *testing.T) {
	m := NewMetrics(nil)

	c := cluster.NewCluster(true,
		&cluster.Leader{Version: 1, Session: 7, Member: cluster.Member{Name: "node1", Version: 1}},
		0,
		[]cluster.Member{{Name: "node1", Version: 1}, {Name: "node2", Version: 1}},
		&cluster.Failover{Version: 1, Leader: "node1", Candidate: "node2"},
	)
	m.ObserveCluster("pg0", c)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ClusterMembers.WithLabelValues("pg0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClusterHasLeader.WithLabelValues("pg0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClusterFailoverPending.WithLabelValues("pg0")))

	m.ObserveCluster("pg0", cluster.NewCluster(false, nil, 0, nil, nil))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ClusterMembers.WithLabelValues("pg0")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ClusterHasLeader.WithLabelValues("pg0")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ClusterFailoverPending.WithLabelValues("pg0")))
}
