package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/nottoday/nottoday/internal/domain"
)

// FileConfigStore persists the primary application's Configuration as a
// JSON file, the single source of truth. Writes are atomic (unique temp
// file + rename).
type FileConfigStore struct {
	path   string
	logger *zap.Logger
}

// NewFileConfigStore creates a store at the default user config path.
func NewFileConfigStore(paths *Paths, logger *zap.Logger) *FileConfigStore {
	return NewFileConfigStoreWithPath(paths.ConfigPath, logger)
}

// NewFileConfigStoreWithPath creates a store at a custom path (for testing).
func NewFileConfigStoreWithPath(path string, logger *zap.Logger) *FileConfigStore {
	return &FileConfigStore{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *FileConfigStore) Path() string {
	return s.path
}

// Load reads the configuration. A missing file yields the default
// configuration; an undecodable file is logged and also falls back to the
// default rather than crashing.
func (s *FileConfigStore) Load() (*domain.Configuration, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.DefaultConfiguration(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg domain.Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		s.logger.Warn("config file undecodable, using defaults",
			zap.String("path", s.path),
			zap.Error(err))
		return domain.DefaultConfiguration(), nil
	}
	return &cfg, nil
}

// Save writes the configuration atomically, creating the directory on
// first save.
func (s *FileConfigStore) Save(cfg *domain.Configuration) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(s.path, data, 0644)
}

// HelperFileStore persists the enforcer's HelperConfiguration. Unlike the
// app configuration, absence here means "never configured": the enforcer
// stays dormant until it receives its first RPC update.
type HelperFileStore struct {
	path string
}

// NewHelperFileStore creates the store at the enforcer's state path.
func NewHelperFileStore(paths *Paths) *HelperFileStore {
	return NewHelperFileStoreWithPath(paths.HelperCfg)
}

// NewHelperFileStoreWithPath creates the store at a custom path (for testing).
func NewHelperFileStoreWithPath(path string) *HelperFileStore {
	return &HelperFileStore{path: path}
}

// Load returns the stored configuration, or nil when none exists yet.
func (s *HelperFileStore) Load() (*domain.HelperConfiguration, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read helper config: %w", err)
	}

	var cfg domain.HelperConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode helper config: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration atomically.
func (s *HelperFileStore) Save(cfg *domain.HelperConfiguration) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(s.path, data, 0600)
}

// Clear removes the stored configuration.
func (s *HelperFileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// atomicWriteFile writes via a unique temp file and rename so a crashed
// write never leaves a truncated file behind.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

var _ domain.ConfigStore = (*FileConfigStore)(nil)
var _ domain.HelperStateStore = (*HelperFileStore)(nil)
