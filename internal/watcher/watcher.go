// Package watcher watches the corpus root with fsnotify and reports debounced bursts of changes.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/ragsync/internal/corpus"
)

// DefaultDebounce is the quiet period after the last event before a burst is reported.
const DefaultDebounce = time.Second

// ChangeFunc receives the sorted, slash-separated names relative to the root that changed
// in one burst. Calls are serialized: a burst that settles while a call is running is
// reported after it returns.
type ChangeFunc func(ctx context.Context, names []string)

// Watcher watches a directory tree and invokes a ChangeFunc once per burst of events.
type Watcher struct {
	root       string
	ignoreDirs []string
	extensions []string
	onChange   ChangeFunc
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]struct{}
	timer    *time.Timer
	fire     chan struct{}
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for watch events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets the quiet period. Values <= 0 keep DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher for root. Directories named in ignoreDirs are not watched and
// only files with one of extensions are reported (all files when empty).
func New(root string, ignoreDirs, extensions []string, onChange ChangeFunc, opts ...Option) *Watcher {
	w := &Watcher{
		root:       filepath.Clean(root),
		ignoreDirs: ignoreDirs,
		extensions: extensions,
		onChange:   onChange,
		debounce:   DefaultDebounce,
		logger:     zap.NewNop(),
		pending:    make(map[string]struct{}),
		fire:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	info, err := os.Stat(w.root)
	if err != nil {
		return fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root: %w", corpus.ErrRootNotDir)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	if err := w.addTreeLocked(w.root); err != nil {
		_ = fw.Close()
		w.watcher = nil
		return err
	}
	w.started = true
	w.logger.Debug("watcher started",
		zap.String("root", w.root), zap.Strings("ignore", w.ignoreDirs), zap.Duration("debounce", w.debounce))

	w.wg.Add(2)
	go w.run(ctx, fw)
	go w.dispatch(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			go w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// dispatch runs the callback for each settled burst, one at a time.
func (w *Watcher) dispatch(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-w.fire:
			names := w.takePending()
			if len(names) == 0 {
				continue
			}
			w.logger.Debug("watcher burst settled", zap.Strings("paths", names))
			if w.onChange != nil {
				w.onChange(ctx, names)
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	name, ok := w.relative(ev.Name)
	if !ok {
		return
	}
	if corpus.IsIgnored(name, w.ignoreDirs) || w.ignoredDir(filepath.Base(ev.Name)) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", name))

	switch {
	case ev.Op.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			err := w.addTreeLocked(ev.Name)
			w.mu.Unlock()
			if err != nil {
				w.logger.Warn("watcher failed to add directory", zap.String("path", name), zap.Error(err))
			}
			w.mark(name)
			return
		}
		if corpus.HasExtension(name, w.extensions) {
			w.mark(name)
		}
	case ev.Op.Has(fsnotify.Write):
		if corpus.HasExtension(name, w.extensions) {
			w.mark(name)
		}
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		// Removed directories carry no extension and have to be reported too.
		if corpus.HasExtension(name, w.extensions) || filepath.Ext(name) == "" {
			w.mark(name)
		}
	}
}

// mark records name as changed and restarts the quiet period.
func (w *Watcher) mark(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.pending[name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.fire <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) takePending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.pending))
	for name := range w.pending {
		names = append(names, name)
	}
	w.pending = make(map[string]struct{})
	sort.Strings(names)
	return names
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) ignoredDir(base string) bool {
	for _, d := range w.ignoreDirs {
		if base == d {
			return true
		}
	}
	return false
}

// addTreeLocked watches dir and every directory below it that is not ignored.
func (w *Watcher) addTreeLocked(dir string) error {
	if w.watcher == nil {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != dir && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignoredDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// WatchList returns the directories currently watched.
func (w *Watcher) WatchList() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	list := w.watcher.WatchList()
	sort.Strings(list)
	return list
}

// Stop stops watching and waits for a running callback to return.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

// Done is closed once the watcher has stopped.
func (w *Watcher) Done() <-chan struct{} { return w.done }
