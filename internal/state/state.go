// Package state persists the outcome of the most recent build of each app
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
)

// DirName is the state directory, relative to the output directory
const DirName = ".xwalk-apkgen/state"

// StaleAfter is how long a "building" record from another process is
// honoured before it is treated as abandoned
const StaleAfter = time.Hour

// ErrNoState is returned when an app has never been built
var ErrNoState = errors.New("no build state recorded")

// AppState is the persisted state of one app
type AppState struct {
	App          string             `json:"app"`
	Status       types.BuildStatus  `json:"status"`
	BuildCount   int                `json:"buildCount"`
	FailureCount int                `json:"failureCount"`
	ProcessID    int                `json:"processId"`
	UpdatedAt    time.Time          `json:"updatedAt"`
	LastBuild    *types.BuildRecord `json:"lastBuild,omitempty"`
}

// Manager reads and writes state files under <root>/.xwalk-apkgen/state
type Manager struct {
	fs       afero.Fs
	stateDir string
	logger   logger.Logger
	mu       sync.Mutex
}

// NewManager creates a state manager rooted at root. A nil fs means the OS
// filesystem.
func NewManager(fs afero.Fs, root string, log logger.Logger) *Manager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		fs:       fs,
		stateDir: filepath.Join(root, filepath.FromSlash(DirName)),
		logger:   log.WithComponent("state"),
	}
}

// Dir returns the directory state files are written to
func (m *Manager) Dir() string {
	return m.stateDir
}

// Begin marks app as building under this process
func (m *Manager) Begin(record types.BuildRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.loadOrNew(record.App)
	if err != nil {
		return err
	}
	st.Status = types.BuildStatusBuilding
	st.ProcessID = os.Getpid()
	record.Status = types.BuildStatusBuilding
	st.LastBuild = &record

	return m.save(st)
}

// Finish records the outcome of a build and updates the counters
func (m *Manager) Finish(record types.BuildRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.loadOrNew(record.App)
	if err != nil {
		return err
	}

	switch record.Status {
	case types.BuildStatusSucceeded:
		st.BuildCount++
	case types.BuildStatusFailed:
		st.FailureCount++
	}
	st.Status = record.Status
	st.ProcessID = 0
	st.LastBuild = &record

	return m.save(st)
}

// Read returns the state recorded for app
func (m *Manager) Read(app string) (*AppState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(app)
}

// Remove deletes the state file of app
func (m *Manager) Remove(app string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fs.Remove(m.path(app)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// IsLocked reports whether another process is currently building app
func (m *Manager) IsLocked(app string) (bool, error) {
	st, err := m.Read(app)
	if err != nil {
		if errors.Is(err, ErrNoState) {
			return false, nil
		}
		return false, err
	}

	if st.Status != types.BuildStatusBuilding || st.ProcessID == os.Getpid() || st.ProcessID == 0 {
		return false, nil
	}
	return time.Since(st.UpdatedAt) < StaleAfter, nil
}

// Discover loads every state file, keyed by app name. Unreadable files are
// logged and skipped.
func (m *Manager) Discover() (map[string]*AppState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]*AppState)

	entries, err := afero.ReadDir(m.fs, m.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return states, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		app := strings.TrimSuffix(entry.Name(), ".json")
		st, err := m.load(app)
		if err != nil {
			m.logger.Warn("Failed to load state file",
				logger.WithField("app", app),
				logger.WithField("error", err.Error()))
			continue
		}
		states[app] = st
	}

	return states, nil
}

func (m *Manager) path(app string) string {
	return filepath.Join(m.stateDir, app+".json")
}

func (m *Manager) loadOrNew(app string) (*AppState, error) {
	st, err := m.load(app)
	if errors.Is(err, ErrNoState) {
		return &AppState{App: app, Status: types.BuildStatusIdle}, nil
	}
	return st, err
}

func (m *Manager) load(app string) (*AppState, error) {
	data, err := afero.ReadFile(m.fs, m.path(app))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w for %s", ErrNoState, app)
		}
		return nil, err
	}

	var st AppState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &st, nil
}

func (m *Manager) save(st *AppState) error {
	st.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := m.fs.MkdirAll(m.stateDir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Write atomically
	stateFile := m.path(st.App)
	tempFile := stateFile + ".tmp"
	if err := afero.WriteFile(m.fs, tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := m.fs.Rename(tempFile, stateFile); err != nil {
		_ = m.fs.Remove(tempFile)
		return fmt.Errorf("failed to rename state file: %w", err)
	}
	return nil
}
