package prompts

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watcher monitors the override directory and invalidates the library
// cache when prompt files change, so edits take effect on the next
// model call without a restart.
type Watcher struct {
	lib    *Library
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
}

// NewWatcher creates a watcher for the library's override directory.
func NewWatcher(lib *Library) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{lib: lib, fsw: fsw}, nil
}

// Start begins watching. A missing override directory is fine; there
// is simply nothing to watch yet.
func (w *Watcher) Start(ctx context.Context) error {
	dir := w.lib.OverrideDir()
	if dir == "" {
		return nil
	}

	watched := 0
	if err := w.fsw.Add(dir); err == nil {
		watched++
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := w.fsw.Add(filepath.Join(dir, e.Name())); err == nil {
			watched++
		}
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)

	slog.Info("prompt watcher started", "dir", dir, "watched", watched)
	return nil
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.fsw.Close()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("prompt watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// New subdirectory (e.g. a fresh topology/ group) → watch it too.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.fsw.Add(event.Name)
		}
	}

	if !strings.HasSuffix(event.Name, ".md") &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	w.scheduleInvalidate()
}

func (w *Watcher) scheduleInvalidate() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, func() {
		w.flush()
	})
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if !w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	w.lib.Invalidate()
	slog.Info("prompts changed, cache invalidated", "version", w.lib.Version())
}
