package coordinator

import "time"

// Task is a pending deferred call.
type Task interface {
	// Stop cancels the call. It reports false if the call already ran or was stopped.
	Stop() bool
}

// Scheduler runs deferred calls. Grace checks and mesh-refresh advisories are
// scheduled through it so tests can control time.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Task
}

type wallScheduler struct{}

// NewScheduler returns a Scheduler backed by time.AfterFunc.
func NewScheduler() Scheduler {
	return wallScheduler{}
}

func (wallScheduler) AfterFunc(d time.Duration, fn func()) Task {
	return time.AfterFunc(d, fn)
}
