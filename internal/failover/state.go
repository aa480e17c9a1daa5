package failover

import (
	"time"

	"github.com/Ajpantuso/hactl/internal/cluster"
)

// State is a step of the failover protocol.
type State int

const (
	StateIdle State = iota
	StateRequested
	StateKeyCleared
	StateLeaderKnown
	StateComplete
	// StateTimedOut is terminal. It is entered from StateRequested when the
	// request is never cleared and from StateKeyCleared when no leader
	// emerges.
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequested:
		return "requested"
	case StateKeyCleared:
		return "key-cleared"
	case StateLeaderKnown:
		return "leader-known"
	case StateComplete:
		return "complete"
	case StateTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateTimedOut
}

type Transition struct {
	From    State
	To      State
	At      time.Time
	Cluster *cluster.Cluster
}

// Reporter observes every state transition of a run.
type Reporter func(Transition)
