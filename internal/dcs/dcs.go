// Package dcs defines the operations a distributed configuration store must
// expose to the rest of hactl, and the helpers shared by its drivers.
package dcs

import (
	"context"
	"errors"
	"time"

	"github.com/Ajpantuso/hactl/internal/cluster"
)

// ErrVersionConflict is returned by conditional writes whose expected version
// did not match the stored node.
var ErrVersionConflict = errors.New("version conflict")

// DCS is bound to a single cluster scope.
type DCS interface {
	Scope() string

	// GetCluster returns the latest snapshot, reloading it from the store
	// only when a watch or session event invalidated the cached copy.
	GetCluster(ctx context.Context) (*cluster.Cluster, error)

	// Initialize creates the scope's initialize marker. It returns false if
	// the marker already exists.
	Initialize(ctx context.Context) (bool, error)
	// CancelInitialization removes the initialize marker if this node owns
	// it. Failures are logged, not returned.
	CancelInitialization(ctx context.Context)

	// AttemptToAcquireLeader creates the leader key bound to this node's
	// session. It returns false if another holder exists.
	AttemptToAcquireLeader(ctx context.Context) (bool, error)
	UpdateLeader(ctx context.Context) error
	DeleteLeader(ctx context.Context) error

	// TouchMember ensures this node's member entry exists with data and is
	// owned by the current session.
	TouchMember(ctx context.Context, data string) error

	// SetFailoverValue writes the failover request. An empty value clears it.
	SetFailoverValue(ctx context.Context, value string, expected cluster.ExpectedVersion) error

	// WriteLeaderOptime records the leader progress marker. Best effort.
	WriteLeaderOptime(ctx context.Context, marker int64)

	// Watch blocks up to timeout for a change notification and reports
	// whether the next GetCluster will reload from the store.
	Watch(ctx context.Context, timeout time.Duration) bool

	Close() error
}
