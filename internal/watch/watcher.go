// Package watch reports settled batches of file changes under an app root
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/interfaces"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/utils"
)

// DefaultSettlingDelay is how long the tree must be quiet before a batch is
// delivered
const DefaultSettlingDelay = 500 * time.Millisecond

// ErrAlreadyWatching is returned by Watch on a watcher that is running
var ErrAlreadyWatching = errors.New("watcher is already running")

// Watcher watches a directory tree with fsnotify. Changes are collected
// until the tree has been quiet for the settling delay, then delivered as
// one batch of paths relative to the root.
type Watcher struct {
	watcher    *fsnotify.Watcher
	logger     logger.Logger
	exclusions *utils.ExclusionMatcher
	settling   time.Duration

	mu       sync.Mutex
	root     string
	callback interfaces.FileChangeCallback
	pending  map[string]bool
	timer    *time.Timer
	running  bool
	done     chan struct{}
}

// Option configures a Watcher
type Option func(*Watcher)

// WithSettlingDelay sets the quiet period before a batch is delivered
func WithSettlingDelay(d time.Duration) Option {
	return func(w *Watcher) { w.settling = d }
}

// WithExclusions replaces the default exclusions
func WithExclusions(m *utils.ExclusionMatcher) Option {
	return func(w *Watcher) { w.exclusions = m }
}

// New creates a watcher. The default exclusions match the files never
// staged into an apk.
func New(log logger.Logger, opts ...Option) (*Watcher, error) {
	if log == nil {
		log = logger.Discard()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fw,
		logger:   log.WithComponent("watch"),
		settling: DefaultSettlingDelay,
		pending:  make(map[string]bool),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.exclusions == nil {
		exclusions, err := utils.NewExclusionMatcher(utils.GetDefaultExclusions())
		if err != nil {
			fw.Close()
			return nil, err
		}
		w.exclusions = exclusions
	}
	return w, nil
}

// Watch starts watching root recursively and calls callback with every
// settled batch until ctx is cancelled or Close is called
func (w *Watcher) Watch(ctx context.Context, root string, callback interfaces.FileChangeCallback) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyWatching
	}
	w.running = true
	w.root = filepath.Clean(root)
	w.callback = callback
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}

	go w.processEvents(ctx)

	w.logger.Info(fmt.Sprintf("Watching %s for changes", root))
	return nil
}

// Close stops watching and drops pending changes
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()
	return w.watcher.Close()
}

// Done is closed when event processing has stopped
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) addTree(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.logger.Warn(fmt.Sprintf("Failed to read %s: %v", path, err))
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != w.root && w.isExcluded(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn(fmt.Sprintf("Failed to watch directory %s: %v", path, err))
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.isExcluded(event.Name) {
				continue
			}

			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn(fmt.Sprintf("Failed to watch new directory %s: %v", event.Name, err))
					}
				}
			}

			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error(fmt.Sprintf("Watcher error: %v", err))
		}
	}
}

// schedule records a change and restarts the settling timer
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.settling, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]bool)
	callback := w.callback
	root := w.root
	w.mu.Unlock()

	if len(paths) == 0 || callback == nil {
		return
	}
	sort.Strings(paths)

	changes := make([]interfaces.FileChange, 0, len(paths))
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			rel = p
		}
		_, statErr := os.Stat(p)
		changes = append(changes, interfaces.FileChange{Name: filepath.ToSlash(rel), Exists: statErr == nil})
	}

	w.logger.Debug(fmt.Sprintf("Files changed: %d", len(changes)))
	callback(changes)
}

func (w *Watcher) isExcluded(path string) bool {
	w.mu.Lock()
	root := w.root
	w.mu.Unlock()

	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return w.exclusions.IsExcluded(filepath.ToSlash(rel))
}
