package etcd

import "errors"

var (
	ErrNoNode     = errors.New("node does not exist")
	ErrNodeExists = errors.New("node already exists")
	ErrBadVersion = errors.New("node version mismatch")
	ErrNoSession  = errors.New("no active session")
)

// IsTransient reports whether err may succeed on retry. Node-level outcomes
// are final.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNoNode), errors.Is(err, ErrNodeExists), errors.Is(err, ErrBadVersion):
		return false
	}
	return true
}

// Node is the value and metadata of a single key.
type Node struct {
	Value   []byte
	Version int64
	// Owner is the lease of an ephemeral node, zero for persistent nodes.
	Owner int64
}

type EventType int

const (
	EventCreated EventType = iota
	EventChanged
	EventDeleted
	// EventResync is emitted after the watch was interrupted and events may
	// have been missed.
	EventResync
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventChanged:
		return "changed"
	case EventDeleted:
		return "deleted"
	case EventResync:
		return "resync"
	default:
		return "unknown"
	}
}

type WatchEvent struct {
	Type EventType
	Path string
}

type SessionState int

const (
	StateConnected SessionState = iota
	StateSuspended
	StateLost
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateSuspended:
		return "suspended"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Listener receives session state transitions. It is called from the
// session's own goroutines and must not block.
type Listener func(SessionState)
