package hotlist

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Loader receives every successfully parsed hot list
type Loader interface {
	BulkLoad(ids []string)
}

// Watcher reloads a hot list file into a Loader whenever the file changes.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	loader   Loader
	debounce time.Duration
	timer    *time.Timer
	logger   *zap.Logger
	onReload func(*HotList)
}

// NewWatcher watches the directory holding path, so editors that replace the
// file by rename are picked up too.
func NewWatcher(path string, loader Loader, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Watcher{
		watcher:  watcher,
		path:     abs,
		loader:   loader,
		debounce: debounce,
		logger:   logger.Named("hotlist"),
	}, nil
}

// OnReload registers a callback run after each successful reload
func (w *Watcher) OnReload(fn func(*HotList)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Reload loads the file now. A file that fails to parse leaves the loader untouched.
func (w *Watcher) Reload() (*HotList, error) {
	list, err := Load(w.path)
	if err != nil {
		return nil, err
	}

	w.loader.BulkLoad(list.IDs)
	w.logger.Info("hot list loaded",
		zap.String("path", w.path),
		zap.Int("entries", len(list.IDs)),
		zap.String("version", list.Version))

	w.mu.Lock()
	fn := w.onReload
	w.mu.Unlock()
	if fn != nil {
		fn(list)
	}
	return list, nil
}

// Run processes file events until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return
		}
	}
}

// schedule reloads once writes have settled for the debounce period.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if _, err := w.Reload(); err != nil {
			w.logger.Warn("hot list reload failed, keeping previous list", zap.Error(err))
		}
	})
}

// Close stops watching
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
