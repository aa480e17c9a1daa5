package driver

import (
	"context"

	"github.com/Ajpantuso/hactl/internal/cluster"
	"github.com/Ajpantuso/hactl/internal/etcd"
)

// Store is the session-bound node store the driver is built on. etcd.Session
// implements it against a live cluster and etcdtest.Client in memory.
type Store interface {
	SessionID() (int64, bool)
	AddListener(fn etcd.Listener)
	SetEndpoints(endpoints []string)
	// Restart drops the current session, and with it every ephemeral node it
	// owns, and establishes a new one.
	Restart(ctx context.Context) error

	Children(ctx context.Context, path string) ([]string, error)
	Get(ctx context.Context, path string) (*etcd.Node, error)
	Create(ctx context.Context, path string, value []byte, ephemeral bool) error
	Set(ctx context.Context, path string, value []byte, expected cluster.ExpectedVersion) error
	Delete(ctx context.Context, path string, expected cluster.ExpectedVersion) error
	Watch(ctx context.Context, prefix string, fn func(etcd.WatchEvent))
}

var (
	_ Store = (*etcd.Session)(nil)
)
