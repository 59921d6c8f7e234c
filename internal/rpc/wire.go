// Package rpc is the privileged channel between the application and the
// enforcer daemon: JSON-RPC request/reply over a root-owned unix socket.
package rpc

import (
	"github.com/nottoday/nottoday/internal/domain"
)

// ServiceName is the registered RPC receiver name.
const ServiceName = "Helper"

// Empty is the argument type for operations that take none.
type Empty struct{}

// OpReply is the outcome of a mutating operation: explicit success plus a
// human-readable reason on failure.
type OpReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ActivateArgs carries the site list for activateBlocking.
type ActivateArgs struct {
	Sites []string `json:"sites"`
}

// BoolReply answers isBlockingActive.
type BoolReply struct {
	Value bool `json:"value"`
}

// SitesReply answers getBlockedSites.
type SitesReply struct {
	Sites []string `json:"sites"`
}

// UpdateScheduleArgs carries the serialized schedule and site list for
// updateSchedule. The WeekSchedule travels in its canonical JSON shape.
type UpdateScheduleArgs struct {
	Schedule domain.WeekSchedule `json:"schedule"`
	Sites    []string            `json:"sites"`
}

// SetEnabledArgs carries the flag for setScheduleEnabled.
type SetEnabledArgs struct {
	Enabled bool `json:"enabled"`
}

// VersionReply answers getVersion.
type VersionReply struct {
	Version string `json:"version"`
}
