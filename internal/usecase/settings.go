package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nottoday/nottoday/internal/domain"
	"github.com/nottoday/nottoday/internal/schedule"
)

// Settings applies configuration edits: load, mutate, validate, save, and
// push the new projection to the enforcer when one is reachable. Every edit
// goes through the store's atomic save, so a running scheduler picks the
// change up via its file watcher.
type Settings struct {
	store  domain.ConfigStore
	helper domain.HelperClient
	logger *zap.Logger
}

func NewSettings(store domain.ConfigStore, helper domain.HelperClient, logger *zap.Logger) *Settings {
	return &Settings{store: store, helper: helper, logger: logger}
}

// Current returns the persisted configuration.
func (s *Settings) Current() (*domain.Configuration, error) {
	return s.store.Load()
}

// AddSite adds a hostname to the block list. Adding a duplicate reports
// changed=false and writes nothing.
func (s *Settings) AddSite(ctx context.Context, site string) (bool, error) {
	site = normalizeSite(site)
	if site == "" {
		return false, fmt.Errorf("site must not be empty")
	}
	cfg, err := s.store.Load()
	if err != nil {
		return false, err
	}
	if !cfg.AddSite(site) {
		return false, nil
	}
	return true, s.persist(ctx, cfg)
}

// RemoveSite drops a hostname from the block list.
func (s *Settings) RemoveSite(ctx context.Context, site string) (bool, error) {
	cfg, err := s.store.Load()
	if err != nil {
		return false, err
	}
	if !cfg.RemoveSite(normalizeSite(site)) {
		return false, nil
	}
	return true, s.persist(ctx, cfg)
}

// SetEnabled flips the master schedule switch.
func (s *Settings) SetEnabled(ctx context.Context, enabled bool) error {
	cfg, err := s.store.Load()
	if err != nil {
		return err
	}
	if cfg.Enabled == enabled {
		return nil
	}
	cfg.Enabled = enabled
	return s.persist(ctx, cfg)
}

// SetDaySchedule replaces one weekday's schedule. The whole week is
// re-validated before saving so an edit cannot persist overlapping ranges.
func (s *Settings) SetDaySchedule(ctx context.Context, day domain.Weekday, ds domain.DaySchedule) error {
	cfg, err := s.store.Load()
	if err != nil {
		return err
	}
	next := cfg.Schedule.Clone()
	next[day] = ds
	if err := schedule.Validate(next); err != nil {
		return err
	}
	cfg.Schedule = next
	return s.persist(ctx, cfg)
}

func (s *Settings) persist(ctx context.Context, cfg *domain.Configuration) error {
	if err := s.store.Save(cfg); err != nil {
		return err
	}
	s.push(ctx, cfg)
	return nil
}

// push mirrors the saved configuration to the enforcer. Best-effort: the
// enforcer keeps converging on its persisted copy until a push lands.
func (s *Settings) push(ctx context.Context, cfg *domain.Configuration) {
	if s.helper == nil {
		return
	}
	if err := s.helper.Ping(ctx); err != nil {
		s.logger.Debug("enforcer not reachable for settings push", zap.Error(err))
		return
	}
	if err := s.helper.UpdateSchedule(ctx, cfg.HelperProjection()); err != nil {
		s.logger.Warn("settings push failed", zap.Error(err))
		return
	}
	if err := s.helper.SetScheduleEnabled(ctx, cfg.Enabled); err != nil {
		s.logger.Warn("settings enable push failed", zap.Error(err))
	}
}

func normalizeSite(site string) string {
	site = strings.TrimSpace(strings.ToLower(site))
	site = strings.TrimPrefix(site, "https://")
	site = strings.TrimPrefix(site, "http://")
	site = strings.TrimSuffix(site, "/")
	return site
}
