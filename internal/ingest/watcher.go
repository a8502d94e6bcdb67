package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches the raw images directory and registers files as they
// appear, so dropping an image into the directory is enough to queue it for
// the next pipeline run. Registration only; embedding stays with the
// pipeline.
type Watcher struct {
	root        string
	seeder      *Seeder
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger // optional; when set, logs debug events
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets a logger for debug output (file events, registrations).
func WithWatcherLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a watcher over root that registers new files via seeder.
func NewWatcher(root string, seeder *Seeder, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		root:        root,
		seeder:      seeder,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts watching. It runs until ctx is cancelled or Stop is called.
// The root directory is created if it does not exist.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(w.root, 0755); err != nil {
		w.mu.Unlock()
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(w.root); err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	if w.logger != nil {
		w.logger.Debug("ingest watcher starting", zap.String("root", w.root))
	}
	w.mu.Unlock()
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("ingest watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	path := ev.Name
	if !w.seeder.matchExtension(path) {
		return
	}
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return
	}
	if w.logger != nil {
		w.logger.Debug("ingest watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	}
	w.debounceRegister(ctx, path)
}

// debounceRegister delays registration so a file still being written is
// hashed once, after its last write event settles.
func (w *Watcher) debounceRegister(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.debounceMap[path]; ok {
		timer.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		if _, _, err := w.seeder.RegisterFile(ctx, path); err != nil && w.logger != nil {
			w.logger.Warn("ingest watcher register failed", zap.String("path", path), zap.Error(err))
		}
	})
}

// SyncExisting registers files already present under the root.
func (w *Watcher) SyncExisting(ctx context.Context) {
	summary, err := w.seeder.SeedDirectory(ctx, w.root)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("ingest watcher sync failed", zap.String("root", w.root), zap.Error(err))
		}
		return
	}
	if w.logger != nil {
		w.logger.Debug("ingest watcher synced existing files",
			zap.Int("registered", summary.Registered),
			zap.Int("duplicates", summary.Duplicates),
		)
	}
}

// Stop stops the watcher. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		for path, timer := range w.debounceMap {
			timer.Stop()
			delete(w.debounceMap, path)
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		w.mu.Unlock()
	})
}

// Root returns the watched directory.
func (w *Watcher) Root() string {
	return filepath.Clean(w.root)
}
