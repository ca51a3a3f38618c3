package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
)

// ReloadManager reloads the env and app configuration files when either
// changes on disk
type ReloadManager struct {
	manager        *Manager
	envPath        string
	appPath        string
	logger         logger.Logger
	watcher        *fsnotify.Watcher
	callbacks      []ReloadCallback
	lastModTime    time.Time
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	mu             sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
	isWatching     bool
}

// ReloadCallback is called with the reloaded configuration, or the error
// that prevented reloading it
type ReloadCallback func(*Files, error)

// ReloadEventType represents the type of reload event
type ReloadEventType string

const (
	ReloadEventTypeModified ReloadEventType = "modified"
	ReloadEventTypeCreated  ReloadEventType = "created"
	ReloadEventTypeRemoved  ReloadEventType = "removed"
	ReloadEventTypeError    ReloadEventType = "error"
)

// NewReloadManager creates a reload manager for the given files; an empty
// path is not watched
func NewReloadManager(manager *Manager, envPath, appPath string, log logger.Logger) *ReloadManager {
	if log == nil {
		log = logger.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &ReloadManager{
		manager:        manager,
		envPath:        envPath,
		appPath:        appPath,
		logger:         log.WithComponent("config"),
		debouncePeriod: 500 * time.Millisecond,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// AddCallback adds a reload callback
func (rm *ReloadManager) AddCallback(callback ReloadCallback) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.callbacks = append(rm.callbacks, callback)
}

// StartWatching begins watching the configuration files for changes
func (rm *ReloadManager) StartWatching() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isWatching {
		return fmt.Errorf("already watching configuration files")
	}

	paths := rm.paths()
	if len(paths) == 0 {
		return fmt.Errorf("no configuration files to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Editors replace files on save, so the directories are watched
	dirs := map[string]bool{}
	for _, p := range paths {
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch config directory: %w", err)
		}
	}
	rm.watcher = watcher
	rm.lastModTime = latestModTime(paths)
	rm.isWatching = true

	go rm.watchLoop(watcher)

	rm.logger.Debug("Started watching configuration files",
		logger.WithField("paths", strings.Join(paths, ",")))

	return nil
}

// StopWatching stops watching the configuration files
func (rm *ReloadManager) StopWatching() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.isWatching {
		return nil
	}

	rm.cancel()

	if rm.debounceTimer != nil {
		rm.debounceTimer.Stop()
		rm.debounceTimer = nil
	}

	if rm.watcher != nil {
		if err := rm.watcher.Close(); err != nil {
			rm.logger.Warn("Error closing file watcher", logger.WithField("error", err))
		}
		rm.watcher = nil
	}

	rm.isWatching = false

	rm.logger.Debug("Stopped watching configuration files")
	return nil
}

// IsWatching returns whether the manager is currently watching
func (rm *ReloadManager) IsWatching() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.isWatching
}

// TriggerReload reloads the configuration now, regardless of modification
// times
func (rm *ReloadManager) TriggerReload() {
	rm.logger.Debug("Manually triggering configuration reload")
	rm.reload(ReloadEventTypeModified)
}

// SetDebouncePeriod sets the debounce period for file change events
func (rm *ReloadManager) SetDebouncePeriod(period time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.debouncePeriod = period
}

func (rm *ReloadManager) paths() []string {
	var paths []string
	for _, p := range []string{rm.envPath, rm.appPath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func (rm *ReloadManager) watchLoop(watcher *fsnotify.Watcher) {
	defer func() {
		if r := recover(); r != nil {
			rm.logger.Error("Configuration watcher panic recovered",
				logger.WithField("panic", r))
		}
	}()

	for {
		select {
		case <-rm.ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !rm.isConfigFileEvent(event.Name) {
				continue
			}

			rm.logger.Debug("Configuration file event received",
				logger.WithField("event", event.String()))

			rm.debounceReload(mapFsnotifyEvent(event.Op))

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			rm.logger.Error("Configuration file watcher error",
				logger.WithField("error", err))
			rm.notifyCallbacks(nil, err)
		}
	}
}

func (rm *ReloadManager) isConfigFileEvent(eventPath string) bool {
	eventName := filepath.Base(eventPath)
	for _, p := range rm.paths() {
		if filepath.Dir(eventPath) != filepath.Dir(p) {
			continue
		}
		name := filepath.Base(p)
		if eventName == name {
			return true
		}
		// Temporary files written by editors
		if strings.HasSuffix(eventName, ".tmp") && strings.Contains(eventName, name) {
			return true
		}
	}
	return false
}

func mapFsnotifyEvent(op fsnotify.Op) ReloadEventType {
	switch {
	case op&fsnotify.Write == fsnotify.Write:
		return ReloadEventTypeModified
	case op&fsnotify.Create == fsnotify.Create:
		return ReloadEventTypeCreated
	case op&fsnotify.Remove == fsnotify.Remove, op&fsnotify.Rename == fsnotify.Rename:
		return ReloadEventTypeRemoved
	default:
		return ReloadEventTypeModified
	}
}

func (rm *ReloadManager) debounceReload(eventType ReloadEventType) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.debounceTimer != nil {
		rm.debounceTimer.Stop()
	}
	rm.debounceTimer = time.AfterFunc(rm.debouncePeriod, func() {
		rm.handleConfigChange(eventType)
	})
}

func (rm *ReloadManager) handleConfigChange(eventType ReloadEventType) {
	rm.logger.Debug("Processing configuration change",
		logger.WithField("eventType", eventType))

	paths := rm.paths()
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			rm.notifyCallbacks(nil, fmt.Errorf("configuration file unavailable: %w", err))
			return
		}
	}

	// Skip events that did not change any file contents
	modTime := latestModTime(paths)
	rm.mu.Lock()
	if eventType != ReloadEventTypeCreated && !modTime.After(rm.lastModTime) {
		rm.mu.Unlock()
		rm.logger.Debug("Configuration files not modified, skipping reload")
		return
	}
	rm.lastModTime = modTime
	rm.mu.Unlock()

	rm.reload(eventType)
}

func (rm *ReloadManager) reload(eventType ReloadEventType) {
	files, err := rm.manager.Load(rm.envPath, rm.appPath)
	if err != nil {
		rm.logger.Error("Failed to reload configuration",
			logger.WithField("error", err))
		rm.notifyCallbacks(nil, err)
		return
	}

	rm.logger.Info("Configuration reloaded",
		logger.WithField("eventType", eventType))
	rm.notifyCallbacks(files, nil)
}

func (rm *ReloadManager) notifyCallbacks(files *Files, err error) {
	rm.mu.RLock()
	callbacks := make([]ReloadCallback, len(rm.callbacks))
	copy(callbacks, rm.callbacks)
	rm.mu.RUnlock()

	for _, callback := range callbacks {
		func(cb ReloadCallback) {
			defer func() {
				if r := recover(); r != nil {
					rm.logger.Error("Reload callback panic recovered",
						logger.WithField("panic", r))
				}
			}()
			cb(files, err)
		}(callback)
	}
}

func latestModTime(paths []string) time.Time {
	var latest time.Time
	for _, p := range paths {
		if stat, err := os.Stat(p); err == nil && stat.ModTime().After(latest) {
			latest = stat.ModTime()
		}
	}
	return latest
}
