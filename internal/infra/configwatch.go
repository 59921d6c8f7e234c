package infra

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ConfigWatcher reports writes to the configuration file. It watches the
// containing directory rather than the file itself so atomic
// rename-into-place saves are seen as well.
type ConfigWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	events  chan struct{}
	logger  *zap.Logger
}

// NewConfigWatcher starts watching the configuration file's directory.
func NewConfigWatcher(path string, logger *zap.Logger) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	return &ConfigWatcher{
		path:    path,
		watcher: w,
		events:  make(chan struct{}, 1),
		logger:  logger,
	}, nil
}

// Events yields one value per observed config change. The channel is
// buffered with depth one; bursts coalesce here and again behind the
// coordinator's debounce.
func (c *ConfigWatcher) Events() <-chan struct{} {
	return c.events
}

// Run pumps filesystem events until the context is cancelled.
func (c *ConfigWatcher) Run(ctx context.Context) {
	defer c.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != c.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case c.events <- struct{}{}:
			default:
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
