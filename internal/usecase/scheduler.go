package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bep/debounce"
	"go.uber.org/zap"

	"github.com/nottoday/nottoday/internal/domain"
	"github.com/nottoday/nottoday/internal/schedule"
)

const (
	evaluateInterval = 60 * time.Second
	configDebounce   = 500 * time.Millisecond
)

// Session is a manual blocking session running outside the weekly schedule.
type Session struct {
	End time.Time
}

// Scheduler drives blocking from the weekly schedule. It evaluates once a
// minute plus immediately on start and after config edits. When a privileged
// enforcer is reachable the enforcer owns all schedule-driven mutation and
// this coordinator only re-syncs observed status; otherwise it activates and
// deactivates directly through the blocking coordinator.
type Scheduler struct {
	blocking     *Blocking
	store        domain.ConfigStore
	helper       domain.HelperClient
	configEvents <-chan struct{}
	logger       *zap.Logger

	interval time.Duration
	now      func() time.Time

	mu          sync.Mutex
	cfg         *domain.Configuration
	session     *Session
	pendingPush bool
}

// NewScheduler builds a schedule coordinator. helper and configEvents may be
// nil when no enforcer is installed or no watcher is running.
func NewScheduler(
	blocking *Blocking,
	store domain.ConfigStore,
	helper domain.HelperClient,
	configEvents <-chan struct{},
	logger *zap.Logger,
) (*Scheduler, error) {
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		blocking:     blocking,
		store:        store,
		helper:       helper,
		configEvents: configEvents,
		logger:       logger,
		interval:     evaluateInterval,
		now:          time.Now,
		cfg:          cfg,
	}, nil
}

// Run evaluates immediately, then once per interval and after each debounced
// config change, until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.Evaluate(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	debounced := debounce.New(configDebounce)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Evaluate(ctx)
		case _, ok := <-s.configEvents:
			if !ok {
				s.configEvents = nil
				continue
			}
			debounced(func() { s.onConfigChanged(ctx) })
		}
	}
}

// Evaluate runs one reconciliation pass against the current wall clock.
func (s *Scheduler) Evaluate(ctx context.Context) {
	now := s.now()
	s.expireSession(ctx, now)

	s.mu.Lock()
	cfg := s.cfg
	inSession := s.session != nil
	s.mu.Unlock()

	if s.enforcerReachable(ctx) {
		// The enforcer reconciles the hosts file itself; mutating here
		// too would race it. Only refresh the observed status.
		if _, err := s.blocking.SyncStatus(ctx); err != nil {
			s.logger.Warn("status sync failed", zap.Error(err))
		}
		return
	}

	// With scheduling disabled, or during a manual session, the schedule
	// must not drive any mutation; only the observed status is refreshed.
	// A block left active when scheduling gets disabled is ended by its
	// own provisioned deactivation job, or by the enforcer.
	if inSession || !cfg.Enabled {
		if _, err := s.blocking.SyncStatus(ctx); err != nil {
			s.logger.Warn("status sync failed", zap.Error(err))
		}
		return
	}

	desired := schedule.IsActiveNow(now, cfg.Schedule)
	actual, err := s.blocking.SyncStatus(ctx)
	if err != nil {
		s.logger.Warn("cannot read blocking state", zap.Error(err))
		return
	}

	switch {
	case desired && !actual:
		s.activateForWindow(ctx, cfg, now)
	case !desired && actual:
		if err := s.blocking.Deactivate(ctx); err != nil {
			s.logger.Error("scheduled deactivation failed", zap.Error(err))
		} else {
			s.logger.Info("blocking deactivated by schedule")
		}
	}
}

// activateForWindow activates for the remainder of the current scheduled
// window, provisioning the end-of-window deactivation job under the same
// elevation so the window closes without a second prompt.
func (s *Scheduler) activateForWindow(ctx context.Context, cfg *domain.Configuration, now time.Time) {
	end, hasEnd := schedule.NextDeactivation(now, cfg.Schedule)
	if !hasEnd {
		if err := s.blocking.Activate(ctx, cfg.BlockedSites); err != nil {
			s.logger.Error("scheduled activation failed", zap.Error(err))
		}
		return
	}
	if _, err := s.blocking.ActivateWithScheduledEnd(ctx, cfg.BlockedSites, end.Sub(now)); err != nil {
		s.logger.Error("scheduled activation failed", zap.Error(err))
		return
	}
	s.logger.Info("blocking activated by schedule", zap.Time("until", end))
}

// BlockForDuration starts a manual session ending at now+minutes. The session
// is recorded only after the activation actually succeeds, so a declined
// authorization leaves no phantom session behind.
func (s *Scheduler) BlockForDuration(ctx context.Context, minutes int) (time.Time, error) {
	if minutes <= 0 {
		return time.Time{}, fmt.Errorf("minutes must be positive, got %d", minutes)
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	end, err := s.blocking.ActivateWithScheduledEnd(ctx, cfg.BlockedSites, time.Duration(minutes)*time.Minute)
	if err != nil {
		return time.Time{}, err
	}

	s.mu.Lock()
	s.session = &Session{End: end}
	s.mu.Unlock()

	s.logger.Info("manual blocking session started", zap.Time("until", end))
	return end, nil
}

// CancelSession ends a manual session early: removes the block, tears down
// the pending deactivation job, and flushes any schedule edits that were
// deferred while the session ran.
func (s *Scheduler) CancelSession(ctx context.Context) error {
	s.mu.Lock()
	hasSession := s.session != nil
	s.mu.Unlock()
	if !hasSession {
		return nil
	}

	if err := s.blocking.Deactivate(ctx); err != nil {
		return err
	}
	if err := s.blocking.CancelScheduledEnd(ctx); err != nil {
		s.logger.Warn("deactivation job cleanup failed", zap.Error(err))
	}
	s.clearSession(ctx)
	s.logger.Info("manual blocking session cancelled")
	return nil
}

// CurrentSession returns the active manual session, if any.
func (s *Scheduler) CurrentSession() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}

// expireSession drops session state once the end instant passes. The hosts
// mutation itself is owned by the one-shot deactivation job; here we only
// converge bookkeeping and, on the direct path, mop up if the job has not
// fired yet.
func (s *Scheduler) expireSession(ctx context.Context, now time.Time) {
	s.mu.Lock()
	expired := s.session != nil && !now.Before(s.session.End)
	s.mu.Unlock()
	if !expired {
		return
	}

	s.logger.Info("manual blocking session ended")
	if !s.enforcerReachable(ctx) {
		if err := s.blocking.Deactivate(ctx); err != nil {
			s.logger.Warn("session-end deactivation failed", zap.Error(err))
		}
	}
	s.clearSession(ctx)
}

func (s *Scheduler) clearSession(ctx context.Context) {
	s.mu.Lock()
	s.session = nil
	flush := s.pendingPush
	s.pendingPush = false
	cfg := s.cfg
	s.mu.Unlock()

	if flush {
		s.pushToEnforcer(ctx, cfg)
	}
}

// onConfigChanged reloads the configuration after an on-disk edit and pushes
// the new schedule to the enforcer. Pushes are deferred while a manual
// session runs so the enforcer does not start reconciling against a schedule
// that would fight the session.
func (s *Scheduler) onConfigChanged(ctx context.Context) {
	cfg, err := s.store.Load()
	if err != nil {
		s.logger.Error("config reload failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.cfg = cfg
	inSession := s.session != nil
	if inSession {
		s.pendingPush = true
	}
	s.mu.Unlock()

	s.logger.Info("configuration reloaded",
		zap.Int("sites", len(cfg.BlockedSites)),
		zap.Bool("enabled", cfg.Enabled))

	if inSession {
		return
	}
	s.pushToEnforcer(ctx, cfg)
	s.Evaluate(ctx)
}

// pushToEnforcer sends the schedule projection over RPC. Failures are logged
// only; the enforcer re-converges from its own persisted copy and the next
// successful push.
func (s *Scheduler) pushToEnforcer(ctx context.Context, cfg *domain.Configuration) {
	if s.helper == nil {
		return
	}
	if err := s.helper.Ping(ctx); err != nil {
		s.logger.Debug("enforcer not reachable for schedule push", zap.Error(err))
		return
	}
	if err := s.helper.UpdateSchedule(ctx, cfg.HelperProjection()); err != nil {
		s.logger.Warn("schedule push failed", zap.Error(err))
		return
	}
	if err := s.helper.SetScheduleEnabled(ctx, cfg.Enabled); err != nil {
		s.logger.Warn("schedule enable push failed", zap.Error(err))
	}
}

func (s *Scheduler) enforcerReachable(ctx context.Context) bool {
	return s.helper != nil && s.helper.Ping(ctx) == nil
}
