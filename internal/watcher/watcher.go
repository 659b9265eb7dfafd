// Package watcher reports changes to configuration files on disk.
package watcher

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// ChangeCallback is called with the watched file's path after its content
// has changed.
type ChangeCallback func(path string)

// Watcher monitors individual files for content changes.
type Watcher struct {
	mu       sync.Mutex
	watchers map[string]*fileWatcher // absolute path → watcher
	debounce time.Duration
	callback ChangeCallback
	logger   *zap.Logger
}

type fileWatcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}

	mu   sync.Mutex
	last []byte
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period after the last event before the file
// is re-read.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a new file watcher.
func New(callback ChangeCallback, opts ...Option) *Watcher {
	w := &Watcher{
		watchers: make(map[string]*fileWatcher),
		debounce: defaultDebounce,
		callback: callback,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts watching path. The containing directory is watched so that
// editors replacing the file through a rename are still observed.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	w.mu.Lock()
	_, exists := w.watchers[abs]
	w.mu.Unlock()
	if exists {
		return nil
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsW.Add(filepath.Dir(abs)); err != nil {
		fsW.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	fw := &fileWatcher{
		path:      abs,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
	}
	fw.last, _ = os.ReadFile(abs)

	w.mu.Lock()
	if _, exists := w.watchers[abs]; exists {
		// A concurrent Watch of the same path got there first.
		w.mu.Unlock()
		fsW.Close()
		return nil
	}
	w.watchers[abs] = fw
	w.mu.Unlock()

	go w.watchLoop(fw)

	w.logger.Debug("watching file", zap.String("path", abs))
	return nil
}

// Unwatch stops watching path.
func (w *Watcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	fw, ok := w.watchers[abs]
	if ok {
		delete(w.watchers, abs)
	}
	w.mu.Unlock()

	if ok {
		close(fw.cancel)
		fw.fsWatcher.Close()
	}
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(fw *fileWatcher) {
	var timer *time.Timer

	for {
		select {
		case <-fw.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fw.fsWatcher.Events:
			if !ok {
				return
			}

			// Sibling files in the directory are not of interest.
			if filepath.Clean(event.Name) != fw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				w.reread(fw)
			})

		case err, ok := <-fw.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.String("path", fw.path), zap.Error(err))
		}
	}
}

// reread loads the file and notifies if its content changed.
func (w *Watcher) reread(fw *fileWatcher) {
	data, err := os.ReadFile(fw.path)
	if err != nil {
		// Mid-rename; the following create event retriggers.
		w.logger.Debug("file not readable", zap.String("path", fw.path), zap.Error(err))
		return
	}

	fw.mu.Lock()
	changed := !bytes.Equal(data, fw.last)
	if changed {
		fw.last = data
	}
	fw.mu.Unlock()

	if changed && w.callback != nil {
		w.callback(fw.path)
	}
}

// Shutdown stops all watchers.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.watchers))
	for p := range w.watchers {
		paths = append(paths, p)
	}
	w.mu.Unlock()

	for _, p := range paths {
		w.Unwatch(p)
	}
}
