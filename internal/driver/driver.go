// Package driver implements dcs.DCS on top of a session-bound node store.
package driver

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync/atomic"
	"time"

	"github.com/Ajpantuso/hactl/internal/cluster"
	"github.com/Ajpantuso/hactl/internal/config"
	"github.com/Ajpantuso/hactl/internal/dcs"
	"github.com/Ajpantuso/hactl/internal/etcd"
)

const (
	initializeKey = "initialize"
	membersKey    = "members"
	leaderKey     = "leader"
	failoverKey   = "failover"
	optimeKey     = "optime"
)

var _ dcs.DCS = (*Driver)(nil)

type Driver struct {
	store Store
	cfg   *DriverConfig
	retry dcs.RetryPolicy

	name  string
	scope string
	base  string

	signal *dcs.ChangeSignal
	cache  atomic.Pointer[cluster.Cluster]
	// last successful touch of this node's member entry
	touched atomic.Pointer[touchState]
	// last successfully written progress marker
	optime atomic.Pointer[int64]

	cancel context.CancelFunc
}

type touchState struct {
	session int64
	data    string
}

// New binds a driver to cfg.Scope. The store session is not owned by the
// driver; several drivers may share one.
func New(store Store, cfg config.Config, opts ...DriverOption) (*Driver, error) {
	var dc DriverConfig
	dc.Options(opts...)
	dc.Default()

	if cfg.Scope == "" {
		return nil, errors.New("scope is required")
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = config.DefaultNamespace
	}

	retry := dcs.DefaultRetryPolicy()
	if cfg.Etcd.ReconnectTimeout > 0 {
		retry.Deadline = cfg.Etcd.ReconnectTimeout
	}
	if cfg.Etcd.RetryMaxDelay > 0 {
		retry.MaxDelay = cfg.Etcd.RetryMaxDelay
	}
	if dc.RetryPolicy != nil {
		retry = *dc.RetryPolicy
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		store:  store,
		cfg:    &dc,
		retry:  retry,
		name:   cfg.Name,
		scope:  cfg.Scope,
		base:   path.Join("/", namespace, cfg.Scope) + "/",
		signal: dcs.NewChangeSignal(),
		cancel: cancel,
	}

	store.AddListener(d.onSessionState)
	store.Watch(ctx, d.base, d.onEvent)

	dc.Logger.Debugw("DCS driver created",
		"scope", d.scope,
		"member", d.name,
		"path", d.base,
	)
	return d, nil
}

func (d *Driver) Scope() string {
	return d.scope
}

// Cached returns the last published snapshot without contacting the store.
// It is nil before the first successful GetCluster.
func (d *Driver) Cached() *cluster.Cluster {
	return d.cache.Load()
}

// Watch blocks until the cache is invalidated, timeout elapses or ctx is
// done, and reports whether the next GetCluster will reload.
func (d *Driver) Watch(ctx context.Context, timeout time.Duration) bool {
	d.signal.Wait(ctx, timeout)
	return d.signal.Stale()
}

// Close stops watching the scope. The store is left open.
func (d *Driver) Close() error {
	d.cancel()
	return nil
}

func (d *Driver) onSessionState(state etcd.SessionState) {
	d.cfg.Metrics.SessionTransitionsTotal.WithLabelValues(state.String()).Inc()
	switch state {
	case etcd.StateSuspended, etcd.StateLost:
		d.cfg.Logger.Debugw("Invalidating cluster cache", "scope", d.scope, "session_state", state.String())
		d.signal.Invalidate()
	}
}

// onEvent invalidates the cache when the child set of the scope changes or
// the failover request is rewritten.
func (d *Driver) onEvent(ev etcd.WatchEvent) {
	switch ev.Type {
	case etcd.EventCreated, etcd.EventDeleted, etcd.EventResync:
		d.signal.Invalidate()
	case etcd.EventChanged:
		if ev.Path == d.failoverPath() {
			d.signal.Invalidate()
		}
	}
}

// wrote forces the next GetCluster to reload so that it observes a write
// made through this driver, whose watch event may not have arrived yet.
func (d *Driver) wrote() {
	d.signal.MarkStale()
}

func (d *Driver) do(ctx context.Context, op string, fn func(context.Context) error) error {
	err := dcs.Retry(ctx, op, d.retry, etcd.IsTransient, fn)
	if err != nil && etcd.IsTransient(err) {
		d.cfg.Metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	}
	return err
}

func (d *Driver) initializePath() string { return d.base + initializeKey }
func (d *Driver) membersPath() string    { return d.base + membersKey + "/" }
func (d *Driver) memberPath() string     { return d.membersPath() + d.name }
func (d *Driver) leaderPath() string     { return d.base + leaderKey }
func (d *Driver) failoverPath() string   { return d.base + failoverKey }
func (d *Driver) optimePath() string     { return d.base + optimeKey + "/leader" }

// ListScopes returns the cluster scopes present under namespace.
func ListScopes(ctx context.Context, store Store, namespace string) ([]string, error) {
	if namespace == "" {
		namespace = config.DefaultNamespace
	}
	scopes, err := store.Children(ctx, path.Join("/", namespace))
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes under %s: %w", namespace, err)
	}
	return scopes, nil
}
