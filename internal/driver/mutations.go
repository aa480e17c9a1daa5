package driver

import (
	"context"
	"errors"
	"strconv"

	"github.com/Ajpantuso/hactl/internal/cluster"
	"github.com/Ajpantuso/hactl/internal/dcs"
	"github.com/Ajpantuso/hactl/internal/etcd"
)

func (d *Driver) Initialize(ctx context.Context) (bool, error) {
	err := d.do(ctx, "initialize", func(ctx context.Context) error {
		return d.store.Create(ctx, d.initializePath(), []byte(d.name), false)
	})
	if errors.Is(err, etcd.ErrNodeExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	d.wrote()
	return true, nil
}

// CancelInitialization removes the initialize marker only when this node
// wrote it and it has not changed since it was read.
func (d *Driver) CancelInitialization(ctx context.Context) {
	err := d.do(ctx, "cancel_initialization", func(ctx context.Context) error {
		node, err := d.store.Get(ctx, d.initializePath())
		if errors.Is(err, etcd.ErrNoNode) {
			return nil
		}
		if err != nil {
			return err
		}
		if string(node.Value) != d.name {
			return nil
		}
		err = d.store.Delete(ctx, d.initializePath(), cluster.AtVersion(node.Version))
		if errors.Is(err, etcd.ErrNoNode) {
			return nil
		}
		if err == nil {
			d.wrote()
		}
		return err
	})
	if err != nil {
		d.cfg.Logger.Errorw("Unable to delete initialize key", "scope", d.scope, "error", err)
	}
}

func (d *Driver) AttemptToAcquireLeader(ctx context.Context) (bool, error) {
	err := d.do(ctx, "acquire_leader", func(ctx context.Context) error {
		return d.store.Create(ctx, d.leaderPath(), []byte(d.name), true)
	})
	switch {
	case err == nil:
		d.wrote()
		d.cfg.Metrics.LeaderAttemptsTotal.WithLabelValues(d.scope, "acquired").Inc()
		d.cfg.Logger.Infow("Acquired leader key", "scope", d.scope, "member", d.name)
		return true, nil
	case errors.Is(err, etcd.ErrNodeExists):
		d.cfg.Metrics.LeaderAttemptsTotal.WithLabelValues(d.scope, "held").Inc()
		d.cfg.Logger.Infow("Could not take out leader lock", "scope", d.scope, "member", d.name)
		return false, nil
	default:
		d.cfg.Metrics.LeaderAttemptsTotal.WithLabelValues(d.scope, "error").Inc()
		return false, err
	}
}

// UpdateLeader is a no-op: the leader key lives as long as the session that
// created it.
func (d *Driver) UpdateLeader(ctx context.Context) error {
	return nil
}

// DeleteLeader releases leadership by replacing the session, which drops the
// leader key together with this node's member entry.
func (d *Driver) DeleteLeader(ctx context.Context) error {
	d.touched.Store(nil)
	if err := d.store.Restart(ctx); err != nil {
		return err
	}
	d.wrote()
	return nil
}

func (d *Driver) TouchMember(ctx context.Context, data string) error {
	id, hasSession := d.store.SessionID()
	last := d.touched.Load()

	var recorded *int64
	if c := d.cache.Load(); c != nil {
		if me, ok := c.Member(d.name); ok {
			recorded = &me.Session
		}
	}
	if recorded == nil && last != nil {
		recorded = &last.session
	}

	create := recorded == nil
	if recorded != nil && hasSession && *recorded != id {
		d.cfg.Logger.Infow("Member entry belongs to a previous session, recreating it",
			"scope", d.scope,
			"member", d.name,
			"session_id", id,
			"owner", *recorded,
		)
		err := d.do(ctx, "touch_member", func(ctx context.Context) error {
			return d.store.Delete(ctx, d.memberPath(), cluster.AnyVersion)
		})
		if err != nil && !errors.Is(err, etcd.ErrNoNode) {
			return err
		}
		create = true
	}

	if !create && last != nil && last.data == data && last.session == id {
		return nil
	}

	value := []byte(data)
	err := d.do(ctx, "touch_member", func(ctx context.Context) error {
		if create {
			err := d.store.Create(ctx, d.memberPath(), value, true)
			if !errors.Is(err, etcd.ErrNodeExists) {
				return err
			}
		}
		err := d.store.Set(ctx, d.memberPath(), value, cluster.AnyVersion)
		if errors.Is(err, etcd.ErrNoNode) {
			return d.store.Create(ctx, d.memberPath(), value, true)
		}
		return err
	})
	if err != nil {
		d.cfg.Logger.Errorw("Failed to touch member", "scope", d.scope, "member", d.name, "error", err)
		return err
	}

	d.wrote()
	if current, ok := d.store.SessionID(); ok {
		id = current
	}
	d.touched.Store(&touchState{session: id, data: data})
	return nil
}

// SetFailoverValue writes the failover request, creating it when absent. An
// empty value against an absent node is already the requested state.
func (d *Driver) SetFailoverValue(ctx context.Context, value string, expected cluster.ExpectedVersion) error {
	err := d.do(ctx, "set_failover", func(ctx context.Context) error {
		return d.store.Set(ctx, d.failoverPath(), []byte(value), expected)
	})
	switch {
	case err == nil:
		d.wrote()
		return nil
	case errors.Is(err, etcd.ErrBadVersion):
		return dcs.ErrVersionConflict
	case !errors.Is(err, etcd.ErrNoNode):
		return err
	}

	if value == "" {
		return nil
	}
	if _, checked := expected.Get(); checked {
		return dcs.ErrVersionConflict
	}

	err = d.do(ctx, "set_failover", func(ctx context.Context) error {
		return d.store.Create(ctx, d.failoverPath(), []byte(value), false)
	})
	if errors.Is(err, etcd.ErrNodeExists) {
		return dcs.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	d.wrote()
	return nil
}

func (d *Driver) WriteLeaderOptime(ctx context.Context, marker int64) {
	if last := d.optime.Load(); last != nil && *last == marker {
		return
	}

	value := []byte(strconv.FormatInt(marker, 10))
	err := d.do(ctx, "write_optime", func(ctx context.Context) error {
		err := d.store.Set(ctx, d.optimePath(), value, cluster.AnyVersion)
		if errors.Is(err, etcd.ErrNoNode) {
			err = d.store.Create(ctx, d.optimePath(), value, false)
			if errors.Is(err, etcd.ErrNodeExists) {
				return d.store.Set(ctx, d.optimePath(), value, cluster.AnyVersion)
			}
		}
		return err
	})
	if err != nil {
		d.cfg.Logger.Errorw("Failed to write leader optime", "scope", d.scope, "path", d.optimePath(), "error", err)
		return
	}
	d.optime.Store(&marker)
}
