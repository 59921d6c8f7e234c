package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/maniartech/signals"
	"go.uber.org/zap"

	"github.com/nottoday/nottoday/internal/domain"
)

// Blocking coordinates every mutation of the blocking state. All writes go
// through a single-flight latch so concurrent activations cannot interleave,
// and the hosts file itself is re-read before and after each mutation so the
// cached flag never drifts from ground truth.
type Blocking struct {
	editor    domain.HostsEditor
	helper    domain.HelperClient
	scheduler domain.DeactivationScheduler
	runner    domain.PrivilegedRunner
	logger    *zap.Logger

	inFlight atomic.Bool
	blocking atomic.Bool
	status   signals.Signal[bool]

	now func() time.Time
}

// NewBlocking builds a coordinator. helper may be nil when no privileged
// enforcer is installed; every operation then takes the direct path.
func NewBlocking(
	editor domain.HostsEditor,
	helper domain.HelperClient,
	scheduler domain.DeactivationScheduler,
	runner domain.PrivilegedRunner,
	logger *zap.Logger,
) *Blocking {
	return &Blocking{
		editor:    editor,
		helper:    helper,
		scheduler: scheduler,
		runner:    runner,
		logger:    logger,
		status:    signals.New[bool](),
		now:       time.Now,
	}
}

// IsBlocking returns the cached blocking flag. It reflects the last observed
// ground truth; call SyncStatus to refresh it from the hosts file.
func (b *Blocking) IsBlocking() bool {
	return b.blocking.Load()
}

// StatusChanged fires with the new flag whenever the observed blocking state
// flips. Listeners run outside the mutation path.
func (b *Blocking) StatusChanged() signals.Signal[bool] {
	return b.status
}

// SyncStatus re-reads the hosts file and reconciles the cached flag with what
// is actually installed. It never mutates anything.
func (b *Blocking) SyncStatus(ctx context.Context) (bool, error) {
	active, err := b.editor.CurrentlyBlocking()
	if err != nil {
		return b.blocking.Load(), err
	}
	b.setBlocking(ctx, active)
	return active, nil
}

// Activate installs the block section for the given sites. If the section is
// already present with exactly these sites the call succeeds without touching
// anything. A second caller arriving while a mutation is in flight gets
// domain.ErrMutationInFlight instead of queueing.
func (b *Blocking) Activate(ctx context.Context, sites []string) error {
	if !b.inFlight.CompareAndSwap(false, true) {
		return domain.ErrMutationInFlight
	}
	defer b.inFlight.Store(false)

	already, err := b.converged(sites)
	if err != nil {
		return err
	}
	if already {
		b.setBlocking(ctx, true)
		return nil
	}

	if err := b.mutateActivate(ctx, sites); err != nil {
		return err
	}
	return b.verifyActive(ctx)
}

// ActivateWithScheduledEnd activates blocking and provisions a one-shot
// privileged job that deactivates at now+duration, so the block ends even if
// this process is gone by then. On the direct path both the hosts edit and
// the job installation run under a single elevation. The returned time is the
// absolute end computed at call time.
func (b *Blocking) ActivateWithScheduledEnd(ctx context.Context, sites []string, duration time.Duration) (time.Time, error) {
	if duration <= 0 {
		return time.Time{}, fmt.Errorf("blocking duration must be positive, got %s", duration)
	}
	if !b.inFlight.CompareAndSwap(false, true) {
		return time.Time{}, domain.ErrMutationInFlight
	}
	defer b.inFlight.Store(false)

	end := b.now().Add(duration)

	if b.helperUsable(ctx) {
		if err := b.helper.ActivateBlocking(ctx, sites); err != nil {
			return time.Time{}, err
		}
		if err := b.scheduler.Schedule(ctx, end); err != nil {
			// Without the end-of-block job the activation must not stand,
			// or the block would run forever.
			if derr := b.helper.DeactivateBlocking(ctx); derr != nil {
				b.logger.Error("rollback after failed job install failed", zap.Error(derr))
			}
			return time.Time{}, err
		}
	} else {
		hostsStep, err := b.editor.PlanActivate(sites)
		if err != nil {
			return time.Time{}, err
		}
		jobStep, err := b.scheduler.PlanSchedule(end)
		if err != nil {
			if hostsStep.Cleanup != nil {
				hostsStep.Cleanup()
			}
			return time.Time{}, err
		}
		if err := domain.RunSteps(ctx, b.runner, hostsStep, jobStep); err != nil {
			return time.Time{}, err
		}
	}

	if err := b.verifyActive(ctx); err != nil {
		return time.Time{}, err
	}
	return end, nil
}

// Deactivate removes the block section. Removing an absent section succeeds
// without a privileged call.
func (b *Blocking) Deactivate(ctx context.Context) error {
	if !b.inFlight.CompareAndSwap(false, true) {
		return domain.ErrMutationInFlight
	}
	defer b.inFlight.Store(false)

	active, err := b.editor.CurrentlyBlocking()
	if err != nil {
		return err
	}
	if !active {
		b.setBlocking(ctx, false)
		return nil
	}

	if err := b.mutateDeactivate(ctx); err != nil {
		return err
	}

	active, err = b.editor.CurrentlyBlocking()
	if err != nil {
		return err
	}
	if active {
		return errors.New("hosts file still contains the block section after deactivation")
	}
	b.setBlocking(ctx, false)
	return nil
}

// CancelScheduledEnd tears down a pending one-shot deactivation job, if any.
// The blocking state itself is untouched.
func (b *Blocking) CancelScheduledEnd(ctx context.Context) error {
	return b.scheduler.Cancel(ctx)
}

func (b *Blocking) mutateActivate(ctx context.Context, sites []string) error {
	if b.helperUsable(ctx) {
		return b.helper.ActivateBlocking(ctx, sites)
	}
	return b.editor.Activate(ctx, sites)
}

func (b *Blocking) mutateDeactivate(ctx context.Context) error {
	if b.helperUsable(ctx) {
		return b.helper.DeactivateBlocking(ctx)
	}
	return b.editor.Deactivate(ctx)
}

// helperUsable reports whether the privileged enforcer should perform the
// mutation on our behalf. A version mismatch is logged distinctly but still
// sends the call down the direct path.
func (b *Blocking) helperUsable(ctx context.Context) bool {
	if b.helper == nil {
		return false
	}
	err := b.helper.Ping(ctx)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrHelperVersionMismatch):
		b.logger.Warn("enforcer version is incompatible, using direct path", zap.Error(err))
	case errors.Is(err, domain.ErrHelperUnreachable):
		b.logger.Debug("enforcer unreachable, using direct path")
	default:
		b.logger.Warn("enforcer ping failed, using direct path", zap.Error(err))
	}
	return false
}

// converged reports whether the hosts file already contains exactly the
// requested sites.
func (b *Blocking) converged(sites []string) (bool, error) {
	active, err := b.editor.CurrentlyBlocking()
	if err != nil {
		return false, err
	}
	if !active {
		return false, nil
	}
	current, err := b.editor.CurrentSites()
	if err != nil {
		return false, err
	}
	return slices.Equal(current, sites), nil
}

func (b *Blocking) verifyActive(ctx context.Context) error {
	active, err := b.editor.CurrentlyBlocking()
	if err != nil {
		return err
	}
	if !active {
		return errors.New("hosts file does not contain the block section after activation")
	}
	b.setBlocking(ctx, true)
	return nil
}

func (b *Blocking) setBlocking(ctx context.Context, v bool) {
	if b.blocking.Swap(v) != v {
		b.status.Emit(ctx, v)
	}
}
