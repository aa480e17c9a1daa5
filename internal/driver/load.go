package driver

import (
	"context"
	"errors"
	"time"

	"github.com/Ajpantuso/hactl/internal/cluster"
	"github.com/Ajpantuso/hactl/internal/etcd"
	"github.com/Ajpantuso/hactl/internal/util"
)

// GetCluster returns the cached snapshot unless a watch or session event
// invalidated it, in which case the scope is reloaded from the store.
func (d *Driver) GetCluster(ctx context.Context) (*cluster.Cluster, error) {
	if p := d.cfg.Ensemble; p != nil && p.Poll(ctx) {
		endpoints := p.Endpoints()
		d.cfg.Logger.Infow("Store ensemble changed", "provider", p.Name(), "endpoints", endpoints)
		d.cfg.Metrics.EnsembleChangesTotal.WithLabelValues(p.Name()).Inc()
		d.store.SetEndpoints(endpoints)
	}

	prev := d.cache.Load()
	if !d.signal.Take() && prev != nil {
		return prev, nil
	}

	start := time.Now()
	var c *cluster.Cluster
	err := d.do(ctx, "get_cluster", func(ctx context.Context) error {
		var err error
		c, err = d.load(ctx, prev)
		return err
	})
	d.cfg.Metrics.ClusterLoadDuration.WithLabelValues(d.scope).Observe(time.Since(start).Seconds())

	if err != nil {
		d.cfg.Metrics.ClusterLoadsTotal.WithLabelValues(d.scope, "error").Inc()
		d.cfg.Logger.Errorw("Failed to load cluster", "scope", d.scope, "error", err)
		d.signal.Invalidate()
		if !errors.Is(err, util.ErrStoreUnavailable) {
			err = &util.StoreUnavailableError{Op: "get_cluster", Err: err}
		}
		return nil, err
	}

	d.cfg.Metrics.ClusterLoadsTotal.WithLabelValues(d.scope, "success").Inc()
	d.cache.Store(c)
	return c, nil
}

// load reads the scope once. prev is the snapshot being replaced and
// supplies the progress marker when the leader is unchanged.
func (d *Driver) load(ctx context.Context, prev *cluster.Cluster) (*cluster.Cluster, error) {
	children, err := d.store.Children(ctx, d.base)
	if err != nil {
		return nil, err
	}
	nodes := make(map[string]struct{}, len(children))
	for _, c := range children {
		nodes[c] = struct{}{}
	}
	has := func(key string) bool {
		_, ok := nodes[key]
		return ok
	}
	// an empty scope may be bootstrapping, look again next time
	refreshNext := len(nodes) == 0

	initialized := has(initializeKey)

	var members []cluster.Member
	if has(membersKey) {
		if members, err = d.loadMembers(ctx); err != nil {
			return nil, err
		}
	}

	var leader *cluster.Leader
	if has(leaderKey) {
		if leader, err = d.loadLeader(ctx, members); err != nil {
			return nil, err
		}
	}
	placeholder := leader != nil && leader.Member.IsPlaceholder()
	refreshNext = refreshNext || placeholder

	var failover *cluster.Failover
	if has(failoverKey) {
		if failover, err = d.loadFailover(ctx); err != nil {
			return nil, err
		}
	}

	var optime int64
	var prevLeader *cluster.Leader
	if prev != nil {
		optime = prev.LastLeaderOperation
		prevLeader = prev.Leader
	}
	if prev == nil || placeholder || !sameLeader(prevLeader, leader) {
		optime = 0
		if has(optimeKey) {
			if optime, err = d.loadOptime(ctx); err != nil {
				return nil, err
			}
		}
	}

	if refreshNext {
		d.signal.MarkStale()
	}

	return cluster.NewCluster(initialized, leader, optime, members, failover), nil
}

func (d *Driver) loadMembers(ctx context.Context) ([]cluster.Member, error) {
	names, err := d.store.Children(ctx, d.membersPath())
	if err != nil {
		return nil, err
	}

	members := make([]cluster.Member, 0, len(names))
	for _, name := range names {
		node, err := d.store.Get(ctx, d.membersPath()+name)
		if errors.Is(err, etcd.ErrNoNode) {
			continue
		}
		if err != nil {
			return nil, err
		}
		members = append(members, cluster.MemberFromNode(node.Version, name, node.Owner, string(node.Value)))
	}
	return members, nil
}

func (d *Driver) loadLeader(ctx context.Context, members []cluster.Member) (*cluster.Leader, error) {
	node, err := d.store.Get(ctx, d.leaderPath())
	if errors.Is(err, etcd.ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	name := string(node.Value)
	if id, ok := d.store.SessionID(); ok && d.name != "" && name == d.name && id != node.Owner {
		d.cfg.Logger.Infow("Leader key held by a previous session, removing it",
			"scope", d.scope,
			"session_id", id,
			"owner", node.Owner,
		)
		err := d.store.Delete(ctx, d.leaderPath(), cluster.AtVersion(node.Version))
		if err != nil && !errors.Is(err, etcd.ErrNoNode) && !errors.Is(err, etcd.ErrBadVersion) {
			return nil, err
		}
		d.cfg.Metrics.StaleLeaderRemovalsTotal.WithLabelValues(d.scope).Inc()
		return nil, nil
	}

	member := cluster.PlaceholderMember(name)
	for _, m := range members {
		if m.Name == name {
			member = m
			break
		}
	}
	return &cluster.Leader{Version: node.Version, Session: node.Owner, Member: member}, nil
}

func (d *Driver) loadFailover(ctx context.Context) (*cluster.Failover, error) {
	node, err := d.store.Get(ctx, d.failoverPath())
	if errors.Is(err, etcd.ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	failover, err := cluster.ParseFailover(node.Version, string(node.Value))
	if err != nil {
		d.cfg.Logger.Warnw("Ignoring failover request", "scope", d.scope, "error", err)
		return nil, nil
	}
	return failover, nil
}

func (d *Driver) loadOptime(ctx context.Context) (int64, error) {
	node, err := d.store.Get(ctx, d.optimePath())
	if errors.Is(err, etcd.ErrNoNode) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	optime, err := cluster.ParseOptime(string(node.Value))
	if err != nil {
		d.cfg.Logger.Warnw("Ignoring leader optime", "scope", d.scope, "error", err)
		return 0, nil
	}
	return optime, nil
}

func sameLeader(a, b *cluster.Leader) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Session == b.Session && a.Version == b.Version && a.Member.Name == b.Member.Name
}
