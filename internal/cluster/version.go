package cluster

import "fmt"

// ExpectedVersion is the optimistic-concurrency precondition of a write. The
// zero value, AnyVersion, performs no version check.
type ExpectedVersion struct {
	version int64
	checked bool
}

var AnyVersion = ExpectedVersion{}

// AtVersion requires the target node to be at version v.
func AtVersion(v int64) ExpectedVersion {
	return ExpectedVersion{version: v, checked: true}
}

// Get returns the required version and whether a check applies.
func (e ExpectedVersion) Get() (int64, bool) {
	return e.version, e.checked
}

func (e ExpectedVersion) String() string {
	if !e.checked {
		return "any"
	}
	return fmt.Sprintf("%d", e.version)
}
