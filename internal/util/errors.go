package util

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable matches any StoreUnavailableError.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrProtocolViolation matches any ProtocolViolationError.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrMalformedNode matches any MalformedNodeError.
	ErrMalformedNode = errors.New("malformed node")
)

// StoreUnavailableError is returned when the store could not be reached after
// the retry policy was exhausted or the session was irrecoverably lost.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store unavailable: %s", e.Op)
	}
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// ViolationKind names the failover protocol check that failed.
type ViolationKind string

const (
	NoLeader              ViolationKind = "NoLeader"
	LeaderMismatch        ViolationKind = "LeaderMismatch"
	UnknownCandidate      ViolationKind = "UnknownCandidate"
	FailoverTimeout       ViolationKind = "FailoverTimeout"
	LeaderElectionTimeout ViolationKind = "LeaderElectionTimeout"
)

// ProtocolViolationError is a user-facing, non-retriable failover error.
type ProtocolViolationError struct {
	Kind     ViolationKind
	Scope    string
	Expected string
	Observed string
	Reason   string
}

func (e *ProtocolViolationError) Error() string {
	msg := fmt.Sprintf("%s: cluster %s: %s", e.Kind, e.Scope, e.Reason)
	if e.Expected != "" || e.Observed != "" {
		msg += fmt.Sprintf(" (expected %q, observed %q)", e.Expected, e.Observed)
	}
	return msg
}

func (e *ProtocolViolationError) Is(target error) bool {
	return target == ErrProtocolViolation
}

// IsProtocolViolation reports whether err is a ProtocolViolationError of kind.
func IsProtocolViolation(err error, kind ViolationKind) bool {
	var pv *ProtocolViolationError
	if !errors.As(err, &pv) {
		return false
	}
	return pv.Kind == kind
}

// MalformedNodeError is returned when a raw store value cannot be decoded
// into the cluster model.
type MalformedNodeError struct {
	Path   string
	Value  string
	Reason string
}

func (e *MalformedNodeError) Error() string {
	return fmt.Sprintf("malformed node %s: %s: %q", e.Path, e.Reason, e.Value)
}

func (e *MalformedNodeError) Is(target error) bool {
	return target == ErrMalformedNode
}
