// Package ingest watches a drop directory and feeds stable capture
// files through the full session pipeline, so captures become
// queryable without a manual upload.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/capclaw/internal/session"
)

// Defaults for unset options.
const (
	defaultStability = 2 * time.Second
	defaultRescan    = 30 * time.Second
)

var defaultPatterns = []string{"*.pcap", "*.pcapng", "*.cap"}

// Options configures a Watcher.
type Options struct {
	Manager  *session.Manager
	WatchDir string

	// Patterns are filename globs accepted from incoming/.
	Patterns []string
	// Stability is how long a file's size must hold still before it
	// is picked up; writers are still copying below that.
	Stability time.Duration
	// RescanInterval backs up the fsnotify events with a full scan,
	// catching files dropped while events were lost.
	RescanInterval time.Duration

	Logger *slog.Logger
}

// Watcher moves captures through incoming → processing → processed or
// failed, indexing each into its own session.
type Watcher struct {
	manager   *session.Manager
	watchDir  string
	patterns  []string
	stability time.Duration
	rescan    time.Duration
	log       *slog.Logger

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup

	scanMu sync.Mutex // serializes scans from events and the ticker
}

// NewWatcher creates a watcher. Start must be called to begin.
func NewWatcher(opts Options) (*Watcher, error) {
	if opts.Manager == nil {
		return nil, fmt.Errorf("ingest: manager is required")
	}
	if opts.WatchDir == "" {
		return nil, fmt.Errorf("ingest: watch dir is required")
	}
	w := &Watcher{
		manager:   opts.Manager,
		watchDir:  opts.WatchDir,
		patterns:  opts.Patterns,
		stability: opts.Stability,
		rescan:    opts.RescanInterval,
		log:       opts.Logger,
	}
	if len(w.patterns) == 0 {
		w.patterns = defaultPatterns
	}
	if w.stability <= 0 {
		w.stability = defaultStability
	}
	if w.rescan <= 0 {
		w.rescan = defaultRescan
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	return w, nil
}

func (w *Watcher) incomingDir() string   { return filepath.Join(w.watchDir, "incoming") }
func (w *Watcher) processingDir() string { return filepath.Join(w.watchDir, "processing") }
func (w *Watcher) processedDir() string  { return filepath.Join(w.watchDir, "processed") }
func (w *Watcher) failedDir() string     { return filepath.Join(w.watchDir, "failed") }

// Start creates the stage directories and begins watching.
func (w *Watcher) Start(ctx context.Context) error {
	for _, dir := range []string{w.incomingDir(), w.processingDir(), w.processedDir(), w.failedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	if err := fsw.Add(w.incomingDir()); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", w.incomingDir(), err)
	}
	w.fsw = fsw

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)

	w.log.Info("ingest watcher started", "dir", w.incomingDir(), "rescan", w.rescan)
	return nil
}

// Stop shuts the watcher down and waits for an in-flight scan.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if w.fsw != nil {
		w.fsw.Close()
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.rescan)
	defer ticker.Stop()

	// Pick up anything already sitting in incoming.
	w.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !w.matches(filepath.Base(ev.Name)) {
				continue
			}
			w.scan(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("ingest watch error", "error", err)

		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// scan processes every stable matching file in incoming, oldest first.
func (w *Watcher) scan(ctx context.Context) {
	w.scanMu.Lock()
	defer w.scanMu.Unlock()

	entries, err := os.ReadDir(w.incomingDir())
	if err != nil {
		w.log.Warn("read incoming dir", "error", err)
		return
	}

	type candidate struct {
		name    string
		modTime time.Time
	}
	var files []candidate
	for _, entry := range entries {
		if entry.IsDir() || !w.matches(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{name: entry.Name(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	for _, f := range files {
		if ctx.Err() != nil {
			return
		}
		path := filepath.Join(w.incomingDir(), f.name)
		if !w.isStable(ctx, path) {
			w.log.Debug("file not yet stable, skipping", "file", f.name)
			continue
		}
		w.processFile(ctx, path)
	}
}

// processFile runs one capture through the pipeline. Failures leave
// the file in failed/ for inspection; they never stop the watcher.
func (w *Watcher) processFile(ctx context.Context, srcPath string) {
	name := filepath.Base(srcPath)
	procPath := filepath.Join(w.processingDir(), name)
	if err := os.Rename(srcPath, procPath); err != nil {
		w.log.Warn("move to processing failed", "file", name, "error", err)
		return
	}

	w.log.Info("ingesting capture", "file", name)

	id, err := w.ingest(ctx, procPath, name)
	if err != nil {
		w.log.Error("ingest failed", "file", name, "error", err)
		if moveErr := os.Rename(procPath, filepath.Join(w.failedDir(), name)); moveErr != nil {
			w.log.Warn("move to failed dir", "file", name, "error", moveErr)
		}
		return
	}

	if err := os.Rename(procPath, filepath.Join(w.processedDir(), name)); err != nil {
		w.log.Warn("move to processed dir", "file", name, "error", err)
	}
	w.log.Info("capture indexed", "file", name, "session", id)
}

// ingest creates a session and runs upload → decode → index on it.
func (w *Watcher) ingest(ctx context.Context, path, name string) (string, error) {
	id, err := w.manager.NewSession(ctx)
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return id, fmt.Errorf("read capture: %w", err)
	}
	if _, err := w.manager.UploadBytes(ctx, id, name, data); err != nil {
		return id, fmt.Errorf("upload: %w", err)
	}
	if _, err := w.manager.Decode(ctx, id); err != nil {
		return id, fmt.Errorf("decode: %w", err)
	}
	if _, err := w.manager.Index(ctx, id); err != nil {
		return id, fmt.Errorf("index: %w", err)
	}
	return id, nil
}

// isStable reports whether the file size holds still for the
// stability window.
func (w *Watcher) isStable(ctx context.Context, path string) bool {
	info1, err := os.Stat(path)
	if err != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(w.stability):
	}
	info2, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info1.Size() == info2.Size()
}

func (w *Watcher) matches(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range w.patterns {
		if ok, _ := filepath.Match(pattern, lower); ok {
			return true
		}
	}
	return false
}
