package etcdtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ajpantuso/hactl/internal/cluster"
	"github.com/Ajpantuso/hactl/internal/etcd"
)

type recorder struct {
	mu     sync.Mutex
	events []etcd.WatchEvent
	states []etcd.SessionState
}

func (r *recorder) event(ev etcd.WatchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) state(s etcd.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func TestNodeSemantics(t *testing.T) {
	ctx := context.Background()
	srv := NewServer()
	c := srv.NewClient()

	require.NoError(t, c.Create(ctx, "/service/pg0/failover", []byte("a:b"), false))
	assert.ErrorIs(t, c.Create(ctx, "/service/pg0/failover", []byte("x"), false), etcd.ErrNodeExists)

	n, err := c.Get(ctx, "/service/pg0/failover")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.Version)
	assert.Equal(t, int64(0), n.Owner)

	assert.ErrorIs(t, c.Set(ctx, "/service/pg0/failover", []byte("c:d"), cluster.AtVersion(5)), etcd.ErrBadVersion)
	require.NoError(t, c.Set(ctx, "/service/pg0/failover", []byte("c:d"), cluster.AtVersion(1)))
	require.NoError(t, c.Set(ctx, "/service/pg0/failover", []byte("e:f"), cluster.AnyVersion))

	n, err = c.Get(ctx, "/service/pg0/failover")
	require.NoError(t, err)
	assert.Equal(t, "e:f", string(n.Value))
	assert.Equal(t, int64(3), n.Version)

	assert.ErrorIs(t, c.Set(ctx, "/service/pg0/missing", nil, cluster.AnyVersion), etcd.ErrNoNode)
	assert.ErrorIs(t, c.Delete(ctx, "/service/pg0/missing", cluster.AnyVersion), etcd.ErrNoNode)
	_, err = c.Get(ctx, "/service/pg0/missing")
	assert.ErrorIs(t, err, etcd.ErrNoNode)

	assert.Equal(t, 3, srv.Writes())
}

func TestChildren(t *testing.T) {
	ctx := context.Background()
	srv := NewServer()
	c := srv.NewClient()

	srv.Put("/service/pg0/leader", "n1")
	srv.Put("/service/pg0/members/n1", "")
	srv.Put("/service/pg1/initialize", "x")

	names, err := c.Children(ctx, "/service")
	require.NoError(t, err)
	assert.Equal(t, []string{"pg0", "pg1"}, names)

	names, err = c.Children(ctx, "/service/pg0/")
	require.NoError(t, err)
	assert.Equal(t, []string{"leader", "members"}, names)

	names, err = c.Children(ctx, "/nothing")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestEphemeralNodesFollowSession(t *testing.T) {
	ctx := context.Background()
	srv := NewServer()
	a := srv.NewClient()
	b := srv.NewClient()

	var rec recorder
	b.Watch(ctx, "/service/pg0/", rec.event)
	a.AddListener(rec.state)

	require.NoError(t, a.Create(ctx, "/service/pg0/leader", []byte("a"), true))
	require.NoError(t, a.Create(ctx, "/service/pg0/optime/leader", []byte("1"), false))

	idA, ok := a.SessionID()
	require.True(t, ok)
	assert.Equal(t, idA, srv.Owner("/service/pg0/leader"))

	// a set keeps the ephemeral owner
	require.NoError(t, b.Set(ctx, "/service/pg0/leader", []byte("a"), cluster.AnyVersion))
	assert.Equal(t, idA, srv.Owner("/service/pg0/leader"))

	a.ExpireSession()
	newID, ok := a.SessionID()
	require.True(t, ok)
	assert.NotEqual(t, idA, newID)

	_, ok = srv.Value("/service/pg0/leader")
	assert.False(t, ok)
	_, ok = srv.Value("/service/pg0/optime/leader")
	assert.True(t, ok)

	assert.Equal(t, []etcd.SessionState{etcd.StateLost, etcd.StateConnected}, rec.states)
	assert.Equal(t, []etcd.WatchEvent{
		{Type: etcd.EventCreated, Path: "/service/pg0/leader"},
		{Type: etcd.EventCreated, Path: "/service/pg0/optime/leader"},
		{Type: etcd.EventChanged, Path: "/service/pg0/leader"},
		{Type: etcd.EventDeleted, Path: "/service/pg0/leader"},
	}, rec.events)
}

func TestWatchStopsWithContext(t *testing.T) {
	srv := NewServer()
	c := srv.NewClient()

	ctx, cancel := context.WithCancel(context.Background())
	var rec recorder
	c.Watch(ctx, "/service/", rec.event)

	srv.Put("/service/pg0/failover", "a:")
	cancel()
	srv.Put("/service/pg0/failover", "")

	assert.Len(t, rec.events, 1)
}

func TestFailNext(t *testing.T) {
	ctx := context.Background()
	srv := NewServer()
	c := srv.NewClient()

	c.FailNext(2, nil)
	_, err := c.Get(ctx, "/x")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, etcd.IsTransient(err))
	assert.ErrorIs(t, c.Create(ctx, "/x", nil, false), ErrUnavailable)
	assert.NoError(t, c.Create(ctx, "/x", nil, false))
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	srv := NewServer()
	c := srv.NewClient()

	require.NoError(t, c.Create(ctx, "/service/pg0/members/a", nil, true))
	require.NoError(t, c.Close())

	_, ok := srv.Value("/service/pg0/members/a")
	assert.False(t, ok)
	_, ok = c.SessionID()
	assert.False(t, ok)
	assert.ErrorIs(t, c.Create(ctx, "/y", nil, false), etcd.ErrNoSession)
}

func TestDelayEvents(t *testing.T) {
	ctx := context.Background()
	srv := NewServer()
	srv.DelayEvents(20 * time.Millisecond)
	c := srv.NewClient()

	var rec recorder
	c.Watch(ctx, "/service/", rec.event)

	require.NoError(t, c.Create(ctx, "/service/pg0/leader", []byte("a"), false))
	_, ok := srv.Value("/service/pg0/leader")
	assert.True(t, ok, "the write itself is not delayed")

	rec.mu.Lock()
	assert.Empty(t, rec.events)
	rec.mu.Unlock()

	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.events) == 1
	}, time.Second, 5*time.Millisecond)
}
