// Package daemon implements the privileged enforcer that keeps the hosts
// file converged with the persisted schedule.
package daemon

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nottoday/nottoday/internal/domain"
	"github.com/nottoday/nottoday/internal/schedule"
)

// PIDRegistrar records the daemon's PID so the application can check
// liveness without talking to launchd.
type PIDRegistrar interface {
	Write() error
	Remove() error
}

// Config holds enforcer daemon configuration.
type Config struct {
	ReconcileInterval time.Duration // how often to re-converge (default 30s)
	ShutdownGrace     time.Duration // delay between uninstall reply and exit
}

// DefaultConfig returns the default enforcer configuration.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval: 30 * time.Second,
		ShutdownGrace:     500 * time.Millisecond,
	}
}

// Enforcer runs as root under launchd. Every tick it evaluates the
// persisted schedule against the hosts file and mutates the file when the
// two disagree, so blocking stays honored even when the primary
// application never runs. Until a configuration arrives over RPC it stays
// dormant and touches nothing.
type Enforcer struct {
	config Config
	state  domain.HelperStateStore
	editor domain.HostsEditor
	pid    PIDRegistrar
	logger *zap.Logger

	mu          sync.Mutex
	current     *domain.HelperConfiguration
	manual      bool // explicit activate wins over the schedule until deactivated
	manualSites []string

	reconcileNow chan struct{}
	shutdown     chan struct{}
	now          func() time.Time
}

// NewEnforcer creates the enforcer daemon.
func NewEnforcer(
	config Config,
	state domain.HelperStateStore,
	editor domain.HostsEditor,
	pid PIDRegistrar,
	logger *zap.Logger,
) *Enforcer {
	return &Enforcer{
		config:       config,
		state:        state,
		editor:       editor,
		pid:          pid,
		logger:       logger,
		reconcileNow: make(chan struct{}, 1),
		shutdown:     make(chan struct{}),
		now:          time.Now,
	}
}

// Run starts the reconcile loop. It converges once immediately, then every
// ReconcileInterval and after each mutating RPC. Blocks until the context
// is cancelled or the daemon is uninstalled over RPC.
func (e *Enforcer) Run(ctx context.Context) error {
	if err := e.pid.Write(); err != nil {
		e.logger.Warn("failed to write pid file", zap.Error(err))
	}
	defer func() {
		if err := e.pid.Remove(); err != nil {
			e.logger.Warn("failed to remove pid file", zap.Error(err))
		}
	}()

	cfg, err := e.state.Load()
	if err != nil {
		e.logger.Error("failed to load persisted configuration", zap.Error(err))
	}
	e.mu.Lock()
	// An RPC update may already have raced ahead of this load; never
	// clobber it with older on-disk state.
	if e.current == nil {
		e.current = cfg
	}
	cfg = e.current
	e.mu.Unlock()
	if cfg == nil {
		e.logger.Info("no configuration yet, staying dormant until first update")
	} else {
		e.logger.Info("enforcer started",
			zap.Bool("enabled", cfg.Enabled),
			zap.Int("sites", len(cfg.BlockedSites)))
	}

	e.reconcile(ctx)

	ticker := time.NewTicker(e.config.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("enforcer stopping")
			return ctx.Err()

		case <-e.shutdown:
			e.logger.Info("enforcer uninstalled, exiting")
			return nil

		case <-ticker.C:
			e.reconcile(ctx)

		case <-e.reconcileNow:
			e.reconcile(ctx)
		}
	}
}

// reconcile compares desired blocking state against the hosts file and
// converges the file when they disagree.
func (e *Enforcer) reconcile(ctx context.Context) {
	e.mu.Lock()
	cfg := e.current
	manual := e.manual
	manualSites := e.manualSites
	e.mu.Unlock()

	if cfg == nil && !manual {
		return
	}

	var desired bool
	var sites []string
	switch {
	case manual:
		desired = true
		sites = manualSites
	default:
		desired = cfg.Enabled && schedule.IsActiveNow(e.now(), cfg.DaySchedules)
		sites = cfg.BlockedSites
	}

	actual, err := e.editor.CurrentlyBlocking()
	if err != nil {
		e.logger.Error("cannot read hosts file", zap.Error(err))
		return
	}

	switch {
	case desired && !actual:
		if err := e.editor.Activate(ctx, sites); err != nil {
			e.logger.Error("activation failed", zap.Error(err))
			return
		}
		e.logger.Info("blocking activated", zap.Int("sites", len(sites)))

	case desired && actual:
		// Repair a hand-edited section.
		installed, err := e.editor.CurrentSites()
		if err != nil {
			e.logger.Error("cannot read blocked sites", zap.Error(err))
			return
		}
		if !slices.Equal(installed, sites) {
			if err := e.editor.Activate(ctx, sites); err != nil {
				e.logger.Error("section repair failed", zap.Error(err))
				return
			}
			e.logger.Info("block section repaired", zap.Int("sites", len(sites)))
		}

	case !desired && actual:
		if err := e.editor.Deactivate(ctx); err != nil {
			e.logger.Error("deactivation failed", zap.Error(err))
			return
		}
		e.logger.Info("blocking deactivated")
	}
}

// triggerReconcile requests an immediate pass without waiting for the tick.
func (e *Enforcer) triggerReconcile() {
	select {
	case e.reconcileNow <- struct{}{}:
	default:
	}
}

// Activate handles the activateBlocking RPC. An explicit activation is a
// manual override: it holds regardless of the schedule until the matching
// deactivate call.
func (e *Enforcer) Activate(ctx context.Context, sites []string) error {
	e.mu.Lock()
	e.manual = true
	e.manualSites = append([]string(nil), sites...)
	e.mu.Unlock()

	if err := e.editor.Activate(ctx, sites); err != nil {
		e.mu.Lock()
		e.manual = false
		e.manualSites = nil
		e.mu.Unlock()
		return err
	}
	e.logger.Info("blocking activated over rpc", zap.Int("sites", len(sites)))
	e.triggerReconcile()
	return nil
}

// Deactivate handles the deactivateBlocking RPC and clears any manual
// override so the schedule owns the state again.
func (e *Enforcer) Deactivate(ctx context.Context) error {
	e.mu.Lock()
	e.manual = false
	e.manualSites = nil
	e.mu.Unlock()

	if err := e.editor.Deactivate(ctx); err != nil {
		return err
	}
	e.logger.Info("blocking deactivated over rpc")
	e.triggerReconcile()
	return nil
}

// IsActive reports the hosts-file ground truth.
func (e *Enforcer) IsActive() (bool, error) {
	return e.editor.CurrentlyBlocking()
}

// CurrentSites reports the installed block section contents.
func (e *Enforcer) CurrentSites() ([]string, error) {
	return e.editor.CurrentSites()
}

// UpdateConfiguration replaces the persisted schedule and site list. The
// enabled flag is carried over; setScheduleEnabled changes it separately.
func (e *Enforcer) UpdateConfiguration(week domain.WeekSchedule, sites []string) error {
	e.mu.Lock()
	enabled := true
	if e.current != nil {
		enabled = e.current.Enabled
	}
	next := &domain.HelperConfiguration{
		DaySchedules: week.Clone(),
		Enabled:      enabled,
		BlockedSites: append([]string(nil), sites...),
	}
	e.current = next
	e.mu.Unlock()

	if err := e.state.Save(next); err != nil {
		return err
	}
	e.logger.Info("configuration updated", zap.Int("sites", len(sites)))
	e.triggerReconcile()
	return nil
}

// SetScheduleEnabled flips the master switch on the persisted
// configuration. The current snapshot is never mutated in place;
// reconcile reads it outside the lock.
func (e *Enforcer) SetScheduleEnabled(enabled bool) error {
	e.mu.Lock()
	next := &domain.HelperConfiguration{
		DaySchedules: domain.WeekSchedule{},
		Enabled:      enabled,
	}
	if e.current != nil {
		next.DaySchedules = e.current.DaySchedules.Clone()
		next.BlockedSites = append([]string(nil), e.current.BlockedSites...)
	}
	e.current = next
	e.mu.Unlock()

	if err := e.state.Save(next); err != nil {
		return err
	}
	e.logger.Info("schedule enabled flag updated", zap.Bool("enabled", enabled))
	e.triggerReconcile()
	return nil
}

// Uninstall removes all blocking, wipes the persisted state, and schedules
// process exit shortly after so the RPC reply still reaches the caller.
func (e *Enforcer) Uninstall() error {
	if err := e.editor.Deactivate(context.Background()); err != nil {
		return err
	}
	if err := e.state.Clear(); err != nil {
		return err
	}

	e.mu.Lock()
	e.current = nil
	e.manual = false
	e.manualSites = nil
	e.mu.Unlock()

	go func() {
		time.Sleep(e.config.ShutdownGrace)
		close(e.shutdown)
	}()
	return nil
}
