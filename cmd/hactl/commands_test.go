package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ajpantuso/hactl/internal/cluster"
	"github.com/Ajpantuso/hactl/internal/config"
	"github.com/Ajpantuso/hactl/internal/driver"
	"github.com/Ajpantuso/hactl/internal/etcd/etcdtest"
	"github.com/Ajpantuso/hactl/internal/failover"
	"github.com/Ajpantuso/hactl/internal/health"
	"github.com/Ajpantuso/hactl/internal/metrics"
)

const memberData = `{"conn_url":"postgres://10.0.0.%d:5432/postgres","state":"running"}`

func newTestDriver(t *testing.T, srv *etcdtest.Server, scope string, opts ...driver.DriverOption) *driver.Driver {
	t.Helper()

	client := srv.NewClient()
	d, err := driver.New(client, config.Config{Scope: scope, Namespace: "/service"},
		append([]driver.DriverOption{driver.WithLogger{Logger: zap.NewNop().Sugar()}}, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		d.Close()
		client.Close()
	})
	return d
}

func seedScope(srv *etcdtest.Server, scope, leader string, members ...string) {
	for i, m := range members {
		srv.Put("/service/"+scope+"/members/"+m, fmt.Sprintf(memberData, i+1))
	}
	if leader != "" {
		srv.Put("/service/"+scope+"/leader", leader)
	}
}

func TestMemberRows(t *testing.T) {
	c := cluster.NewCluster(true,
		&cluster.Leader{Version: 1, Member: cluster.PlaceholderMember("n0")},
		0,
		[]cluster.Member{
			{Name: "n2", Version: 1, Data: `{"conn_url":"postgres://10.0.0.2:5432/postgres","state":"running"}`},
			{Name: "n1", Version: 1, Data: "not json"},
		},
		nil,
	)

	rows := memberRows("pg0", c)
	assert.Equal(t, []memberRow{
		{Scope: "pg0", Member: "n0", Role: cluster.RoleMaster},
		{Scope: "pg0", Member: "n1", Role: cluster.RoleReplica},
		{Scope: "pg0", Member: "n2", Host: "10.0.0.2:5432", Role: cluster.RoleReplica, State: "running"},
	}, rows)
}

func TestPrintMembers(t *testing.T) {
	rows := []memberRow{
		{Scope: "pg0", Member: "n1", Host: "10.0.0.1:5432", Role: cluster.RoleMaster, State: "running"},
		{Scope: "pg0", Member: "n2", Host: "10.0.0.2:5432", Role: cluster.RoleReplica, State: "running"},
	}

	var pretty bytes.Buffer
	require.NoError(t, printMembers(&pretty, formatPretty, rows))
	for _, want := range []string{"Cluster", "Member", "n1", "n2", "10.0.0.2:5432", cluster.RoleMaster} {
		assert.Contains(t, pretty.String(), want)
	}

	var out bytes.Buffer
	require.NoError(t, printMembers(&out, formatJSON, rows))
	var decoded []map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "pg0", decoded[0]["cluster"])
	assert.Equal(t, "master", decoded[0]["role"])
}

func TestPrintScopes(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printScopes(&out, formatJSON, nil))
	assert.JSONEq(t, `[]`, out.String())

	out.Reset()
	require.NoError(t, printScopes(&out, formatPretty, []string{"pg0", "pg1"}))
	assert.Contains(t, out.String(), "pg0")
	assert.Contains(t, out.String(), "pg1")

	assert.Error(t, validateFormat("yaml"))
	assert.NoError(t, validateFormat(formatJSON))
}

func TestLoadMembers(t *testing.T) {
	ctx := context.Background()
	srv := etcdtest.NewServer()
	seedScope(srv, "pg1", "n2", "n1", "n2")
	seedScope(srv, "pg0", "", "n3")

	drivers := []*driver.Driver{newTestDriver(t, srv, "pg1"), newTestDriver(t, srv, "pg0")}
	rows, err := loadMembers(ctx, drivers)
	require.NoError(t, err)

	var got []string
	for _, r := range rows {
		got = append(got, r.Scope+"/"+r.Member+"/"+r.Role)
	}
	assert.Equal(t, []string{"pg0/n3/replica", "pg1/n1/replica", "pg1/n2/master"}, got)
	assert.Equal(t, "10.0.0.1:5432", rows[1].Host)
}

func TestWatchMembersPrintsOnce(t *testing.T) {
	srv := etcdtest.NewServer()
	seedScope(srv, "pg0", "n1", "n1")

	var out bytes.Buffer
	err := watchMembers(context.Background(), &out, formatJSON, []*driver.Driver{newTestDriver(t, srv, "pg0")}, 0)
	require.NoError(t, err)

	var decoded []memberRow
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Len(t, decoded, 1)
}

func TestWatchMembersRefreshesUntilCancelled(t *testing.T) {
	srv := etcdtest.NewServer()
	seedScope(srv, "pg0", "n1", "n1")
	d := newTestDriver(t, srv, "pg0")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, watchMembers(ctx, &out, formatPretty, []*driver.Driver{d}, 10*time.Millisecond))
	assert.Greater(t, strings.Count(out.String(), "n1"), 1)
}

func TestPrompter(t *testing.T) {
	var out bytes.Buffer
	p := newPrompter(strings.NewReader("\nn3\ny\n"), &out)

	got, err := p.Prompt("Master", "n1")
	require.NoError(t, err)
	assert.Equal(t, "n1", got)

	got, err = p.Prompt("Candidate [n2 n3]", "")
	require.NoError(t, err)
	assert.Equal(t, "n3", got)

	ok, err := p.Confirm("Are you sure?")
	require.NoError(t, err)
	assert.True(t, ok)

	// end of input declines
	ok, err = p.Confirm("Are you sure?")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = p.Prompt("Master", "n1")
	assert.Error(t, err)

	assert.Contains(t, out.String(), "Master [n1]: ")
	assert.Contains(t, out.String(), "Are you sure? [y/N]: ")
}

func TestPrompterUnterminatedAnswer(t *testing.T) {
	p := newPrompter(strings.NewReader("no"), &bytes.Buffer{})
	ok, err := p.Confirm("Are you sure?")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProgressReporter(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = noColor }()

	var out bytes.Buffer
	report := progressReporter(&out)
	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	c := cluster.NewCluster(true, &cluster.Leader{Version: 1, Member: cluster.Member{Name: "n2", Version: 1}}, 0, nil, nil)

	report(failover.Transition{From: failover.StateIdle, To: failover.StateRequested, At: at})
	report(failover.Transition{From: failover.StateKeyCleared, To: failover.StateLeaderKnown, At: at, Cluster: c})
	report(failover.Transition{From: failover.StateLeaderKnown, To: failover.StateComplete, At: at, Cluster: c})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2024-05-01 12:30:00.000 Failover requested, waiting for the leader to step down", lines[0])
	assert.Equal(t, `2024-05-01 12:30:00.000 Successfully failed over to "n2"`, lines[1])
}

func TestMonitorObservesChanges(t *testing.T) {
	srv := etcdtest.NewServer()
	seedScope(srv, "pg0", "n1", "n1", "n2")

	m := metrics.NewMetrics(nil)
	d := newTestDriver(t, srv, "pg0", driver.WithMetrics{Metrics: m})
	hc := health.NewHealthChecker(nil, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		monitor(ctx, d, m, hc, time.Second)
	}()

	members := m.ClusterMembers.WithLabelValues("pg0")
	assert.Eventually(t, func() bool { return testutil.ToFloat64(members) == 2 }, 2*time.Second, 5*time.Millisecond)

	srv.Put("/service/pg0/members/n3", "{}")
	srv.Put("/service/pg0/failover", "n1:n3")
	assert.Eventually(t, func() bool { return testutil.ToFloat64(members) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ClusterFailoverPending.WithLabelValues("pg0")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClusterHasLeader.WithLabelValues("pg0")))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
