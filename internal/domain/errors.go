package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMutationInFlight means a privileged mutation is already running;
	// the caller is rejected immediately rather than queued.
	ErrMutationInFlight = errors.New("a blocking change is already in progress")

	// ErrAuthorizationDeclined means the user rejected the privileged
	// prompt. State is left exactly as it was; no retry is scheduled.
	ErrAuthorizationDeclined = errors.New("administrator authorization was declined")

	// ErrHelperUnreachable means no helper is installed or it is not
	// answering on its socket.
	ErrHelperUnreachable = errors.New("privileged helper is not reachable")

	// ErrHelperVersionMismatch means a helper answered but speaks an
	// incompatible version. Functionally the same as unreachable, but
	// surfaced distinctly so the user can be told to reinstall.
	ErrHelperVersionMismatch = errors.New("privileged helper version mismatch, reinstall required")
)

// ValidationError identifies the first day of the week whose ranges are
// inverted or overlapping. Invalid schedules are never silently fixed.
type ValidationError struct {
	Day    Weekday
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid schedule for %s: %s", e.Day, e.Reason)
}

// HostsIOError wraps a failure to read or write the hosts file. It is a
// distinct "cannot verify or modify system state" condition.
type HostsIOError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *HostsIOError) Error() string {
	return fmt.Sprintf("hosts file %s failed: %v", e.Op, e.Err)
}

func (e *HostsIOError) Unwrap() error { return e.Err }
