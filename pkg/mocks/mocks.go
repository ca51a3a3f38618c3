// Package mocks provides mock implementations of interfaces for testing.
package mocks

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/command"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/interfaces"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
)

var (
	_ command.Executor         = (*MockExecutor)(nil)
	_ interfaces.StateManager  = (*MockStateManager)(nil)
	_ interfaces.BuildNotifier = (*MockBuildNotifier)(nil)
)

// MockExecutor answers command lines by program name. Programs without a
// scripted answer succeed with empty output.
type MockExecutor struct {
	mu      sync.Mutex
	lines   []string
	outputs map[string]command.Result
	errors  map[string]error
}

// NewMockExecutor creates an executor with no scripted answers
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		outputs: make(map[string]command.Result),
		errors:  make(map[string]error),
	}
}

// NewJavaToolchainExecutor returns an executor that passes the java,
// javac, ant and jarsigner checks
func NewJavaToolchainExecutor() *MockExecutor {
	m := NewMockExecutor()
	m.SetOutput("java", "", `openjdk version "1.8.0_392"`+"\nOpenJDK Runtime Environment (build 1.8.0_392-b08)")
	m.SetOutput("javac", "", "javac 1.8.0_392")
	m.SetOutput("ant", "Apache Ant(TM) version 1.9.3 compiled on December 23 2013", "")
	m.SetError("jarsigner", &command.Error{
		Command:  "jarsigner -help",
		Stdout:   "Usage: jarsigner [options] jar-file alias",
		ExitCode: 1,
	})
	return m
}

// SetOutput scripts the output of program
func (m *MockExecutor) SetOutput(program, stdout, stderr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[program] = command.Result{Stdout: stdout, Stderr: stderr}
	delete(m.errors, program)
}

// SetError makes program fail with err
func (m *MockExecutor) SetError(program string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[program] = err
}

// Run implements command.Executor
func (m *MockExecutor) Run(_ context.Context, line string) (command.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, line)

	program := ""
	if fields := strings.Fields(line); len(fields) > 0 {
		program = filepath.Base(fields[0])
	}

	if err, ok := m.errors[program]; ok {
		return command.Result{Command: line}, err
	}
	res := m.outputs[program]
	res.Command = line
	return res, nil
}

// Lines returns every command line run so far
func (m *MockExecutor) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

// Ran reports whether a command line starting with prefix was run
func (m *MockExecutor) Ran(prefix string) bool {
	for _, l := range m.Lines() {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

// MockStateManager is a mock implementation of StateManager for testing
type MockStateManager struct {
	mu       sync.RWMutex
	begun    []types.BuildRecord
	finished []types.BuildRecord
	locked   map[string]bool

	beginError error
	lockError  error
}

// NewMockStateManager creates a new mock state manager
func NewMockStateManager() *MockStateManager {
	return &MockStateManager{locked: make(map[string]bool)}
}

// Begin records the start of a build
func (m *MockStateManager) Begin(record types.BuildRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beginError != nil {
		return m.beginError
	}
	m.begun = append(m.begun, record)
	return nil
}

// Finish records the outcome of a build
func (m *MockStateManager) Finish(record types.BuildRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, record)
	return nil
}

// IsLocked reports the lock set with SetLocked
func (m *MockStateManager) IsLocked(app string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lockError != nil {
		return false, m.lockError
	}
	return m.locked[app], nil
}

// SetLocked pretends another process is building app
func (m *MockStateManager) SetLocked(app string, locked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked[app] = locked
}

// SetBeginError makes Begin fail
func (m *MockStateManager) SetBeginError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beginError = err
}

// SetLockError makes IsLocked fail
func (m *MockStateManager) SetLockError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockError = err
}

// Finished returns the records passed to Finish
func (m *MockStateManager) Finished() []types.BuildRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.BuildRecord(nil), m.finished...)
}

// Begun returns the records passed to Begin
func (m *MockStateManager) Begun() []types.BuildRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.BuildRecord(nil), m.begun...)
}

// MockBuildNotifier is a mock implementation of BuildNotifier for testing
type MockBuildNotifier struct {
	mu        sync.Mutex
	Started   []string
	Succeeded []string
	Failed    []error

	// Built receives the apk of every successful build when non-nil
	Built chan string
}

// NewMockBuildNotifier creates a new mock notifier
func NewMockBuildNotifier() *MockBuildNotifier {
	return &MockBuildNotifier{}
}

// NotifyBuildStart records a build start
func (m *MockBuildNotifier) NotifyBuildStart(app string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Started = append(m.Started, app)
}

// NotifyBuildSuccess records a successful build
func (m *MockBuildNotifier) NotifyBuildSuccess(_, apk string, _ time.Duration) {
	m.mu.Lock()
	m.Succeeded = append(m.Succeeded, apk)
	built := m.Built
	m.mu.Unlock()

	if built != nil {
		built <- apk
	}
}

// NotifyBuildFailure records a failed build
func (m *MockBuildNotifier) NotifyBuildFailure(_ string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failed = append(m.Failed, err)
}

// Snapshot returns copies of the recorded calls
func (m *MockBuildNotifier) Snapshot() (started, succeeded []string, failed []error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Started...),
		append([]string(nil), m.Succeeded...),
		append([]error(nil), m.Failed...)
}
