// Package watch feeds audio files dropped into an inbox directory to a
// handler, typically the recording pipeline.
//
// A file is handed over once it has stopped changing for the settle delay,
// so recordings still being copied in are not picked up half written. Each
// path is handled at most once per watcher lifetime.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Handler processes one settled file.
type Handler func(ctx context.Context, path string) error

// Watcher watches one directory.
type Watcher struct {
	dir           string
	handler       Handler
	exts          []string
	maxConcurrent int
	settle        time.Duration
	existing      bool

	fs    *fsnotify.Watcher
	ready chan string
	sem   chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	timers  map[string]*time.Timer
	handled map[string]bool
}

// Option configures a [Watcher].
type Option func(*Watcher)

// WithExtensions limits the watcher to files with these extensions
// (case-insensitive, leading dot). Empty accepts every file.
func WithExtensions(exts ...string) Option {
	return func(w *Watcher) {
		w.exts = w.exts[:0]
		for _, e := range exts {
			w.exts = append(w.exts, strings.ToLower(e))
		}
	}
}

// WithMaxConcurrent bounds how many files are handled at once. Default: 1.
func WithMaxConcurrent(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.maxConcurrent = n
		}
	}
}

// WithSettle sets how long a file must stay unchanged. Default: 2s.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.settle = d
		}
	}
}

// WithExisting also handles the matching files already in the directory
// when [Watcher.Run] starts.
func WithExisting() Option {
	return func(w *Watcher) { w.existing = true }
}

// New starts watching dir. Call [Watcher.Run] to begin dispatching and
// [Watcher.Close] to release the OS watch.
func New(dir string, handler Handler, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watch: handler is required")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch: add %q: %w", dir, err)
	}

	w := &Watcher{
		dir:           dir,
		handler:       handler,
		maxConcurrent: 1,
		settle:        2 * time.Second,
		fs:            fw,
		ready:         make(chan string, 64),
		timers:        make(map[string]*time.Timer),
		handled:       make(map[string]bool),
	}
	for _, o := range opts {
		o(w)
	}
	w.sem = make(chan struct{}, w.maxConcurrent)
	return w, nil
}

// Run dispatches settled files until ctx is cancelled, then waits for the
// handlers in flight and returns ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	slog.Info("watch: started", "dir", w.dir, "extensions", w.exts, "max_concurrent", w.maxConcurrent)
	defer w.stopTimers()

	if w.existing {
		if err := w.scan(ctx); err != nil {
			slog.Warn("watch: initial scan failed", "dir", w.dir, "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			slog.Info("watch: stopped", "dir", w.dir)
			return ctx.Err()

		case ev, ok := <-w.fs.Events:
			if !ok {
				w.wg.Wait()
				return errors.New("watch: event channel closed")
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) {
				w.touch(ctx, ev.Name)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				w.wg.Wait()
				return errors.New("watch: error channel closed")
			}
			slog.Warn("watch: watcher error", "dir", w.dir, "err", err)

		case path := <-w.ready:
			if err := w.dispatch(ctx, path); err != nil {
				w.wg.Wait()
				return err
			}
		}
	}
}

// Close releases the OS watch. Safe to call after Run returned.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			w.touch(ctx, filepath.Join(w.dir, e.Name()))
		}
	}
	return nil
}

// touch (re)starts the settle timer of path.
func (w *Watcher) touch(ctx context.Context, path string) {
	if !w.accepts(path) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handled[path] {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		select {
		case w.ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) dispatch(ctx context.Context, path string) error {
	w.mu.Lock()
	delete(w.timers, path)
	if w.handled[path] {
		w.mu.Unlock()
		return nil
	}
	w.handled[path] = true
	w.mu.Unlock()

	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		slog.Debug("watch: file vanished before processing", "path", path)
		return nil
	}

	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	slog.Info("watch: new recording", "path", path)
	w.wg.Go(func() {
		defer func() { <-w.sem }()
		if err := w.handler(ctx, path); err != nil {
			slog.Error("watch: handler failed", "path", path, "err", err)
		}
	})
	return nil
}

func (w *Watcher) accepts(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	if len(w.exts) == 0 {
		return true
	}
	return slices.Contains(w.exts, strings.ToLower(filepath.Ext(path)))
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}
