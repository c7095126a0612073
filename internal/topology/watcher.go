package topology

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc reloads one watched configuration file.
type ReloadFunc func(path string) error

// Watcher reloads configuration files (topology document, rule pack) on
// change. Editors often emit several events per save, so reloads are
// debounced per path.
type Watcher struct {
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
	reloads  map[string]ReloadFunc
}

// NewWatcher constructs a Watcher over the given path->reload mapping.
func NewWatcher(logger *slog.Logger, reloads map[string]ReloadFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	normalised := make(map[string]ReloadFunc, len(reloads))
	for path, fn := range reloads {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		normalised[abs] = fn
		// Watch the parent directory: atomic saves (rename-over) drop
		// the watch when the file itself is watched.
		if err := fsw.Add(filepath.Dir(abs)); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	return &Watcher{
		watcher:  fsw,
		logger:   logger,
		debounce: 250 * time.Millisecond,
		reloads:  normalised,
	}, nil
}

// Run processes events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	pending := make(map[string]*time.Timer)
	for {
		select {
		case <-ctx.Done():
			for _, t := range pending {
				t.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			path, err := filepath.Abs(event.Name)
			if err != nil {
				path = event.Name
			}
			reload, watched := w.reloads[path]
			if !watched {
				continue
			}
			if t, exists := pending[path]; exists {
				t.Stop()
			}
			pending[path] = time.AfterFunc(w.debounce, func() {
				if err := reload(path); err != nil {
					w.logger.Warn("config reload failed", slog.String("path", path), slog.Any("error", err))
					return
				}
				w.logger.Info("config reloaded", slog.String("path", path))
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.Any("error", err))
		}
	}
}
