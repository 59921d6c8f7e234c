package domain

import (
	"context"
	"time"
)

// HostsEditor applies and removes the managed section of the hosts file.
// Implementations must be idempotent and must never leave a half-written
// file: the full new content is produced in memory and installed in one
// operation.
type HostsEditor interface {
	// CurrentlyBlocking reads the hosts file and reports whether the
	// managed section start marker is present. This is ground truth;
	// cached flags are refreshed from it, never trusted instead of it.
	CurrentlyBlocking() (bool, error)

	// CurrentSites parses the managed section and returns the blocked
	// hostnames in file order. Empty when no section exists.
	CurrentSites() ([]string, error)

	// Activate strips any existing managed section and appends a fresh
	// one listing the given sites in input order, then flushes the DNS
	// cache best-effort. May block on an authorization prompt.
	Activate(ctx context.Context, sites []string) error

	// Deactivate strips the managed section if present. No-op when
	// already inactive.
	Deactivate(ctx context.Context) error

	// PlanActivate stages the activation as an ElevatedStep without
	// executing it, for combining with other privileged steps under a
	// single authorization.
	PlanActivate(sites []string) (ElevatedStep, error)
}

// PrivilegedRunner executes a shell fragment that needs root. The direct
// implementation assumes the process already runs with sufficient
// privileges; the prompting implementation goes through interactive OS
// authorization, which may block for human-scale durations.
type PrivilegedRunner interface {
	RunShell(ctx context.Context, script string) error
}

// ConfigStore persists the primary application's Configuration.
type ConfigStore interface {
	// Load reads the configuration, falling back to the default when the
	// file is absent or undecodable.
	Load() (*Configuration, error)

	// Save writes the configuration atomically.
	Save(cfg *Configuration) error

	// Path returns the backing file path (for watching and for tests).
	Path() string
}

// HelperStateStore persists the enforcer's HelperConfiguration.
type HelperStateStore interface {
	// Load returns the stored configuration, or nil when none exists yet
	// (the enforcer stays dormant until first configured over RPC).
	Load() (*HelperConfiguration, error)

	// Save writes the configuration atomically.
	Save(cfg *HelperConfiguration) error

	// Clear removes the stored configuration (helper uninstall).
	Clear() error
}

// HelperClient is the application side of the privileged RPC channel.
// Calls lazily dial the helper socket and re-dial after errors.
type HelperClient interface {
	// Ping verifies the helper is reachable and version-compatible.
	// Returns ErrHelperUnreachable or ErrHelperVersionMismatch.
	Ping(ctx context.Context) error

	Version(ctx context.Context) (string, error)
	ActivateBlocking(ctx context.Context, sites []string) error
	DeactivateBlocking(ctx context.Context) error
	IsBlockingActive(ctx context.Context) (bool, error)
	BlockedSites(ctx context.Context) ([]string, error)
	UpdateSchedule(ctx context.Context, cfg HelperConfiguration) error
	SetScheduleEnabled(ctx context.Context, enabled bool) error
	UninstallHelper(ctx context.Context) error
	Close() error
}

// ProcessManager handles OS process liveness checks.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// DeactivationScheduler provisions the independent system-level job that
// deactivates blocking at an absolute wall-clock instant, so the
// deactivation fires even if the application has quit. At most one job is
// live; scheduling a new one tears down its predecessor first.
type DeactivationScheduler interface {
	// Schedule installs a one-shot job firing at the given instant,
	// replacing any previous job.
	Schedule(ctx context.Context, at time.Time) error

	// Cancel removes the pending job, if any.
	Cancel(ctx context.Context) error

	// PlanSchedule stages the job installation as an ElevatedStep for
	// combining with other privileged steps under one authorization.
	PlanSchedule(at time.Time) (ElevatedStep, error)
}
