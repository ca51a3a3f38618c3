package state_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/internal/state"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
)

func record(app string, status types.BuildStatus) types.BuildRecord {
	return types.BuildRecord{
		BuildID:   "build_1",
		App:       app,
		Arch:      types.ArchX86,
		Status:    status,
		StartedAt: time.Now(),
	}
}

func TestManager_BeginAndFinish(t *testing.T) {
	fs := afero.NewMemMapFs()
	sm := state.NewManager(fs, "/out", nil)

	if err := sm.Begin(record("app", types.BuildStatusIdle)); err != nil {
		t.Fatalf("failed to begin: %v", err)
	}

	st, err := sm.Read("app")
	if err != nil {
		t.Fatalf("failed to read state: %v", err)
	}
	if st.Status != types.BuildStatusBuilding {
		t.Errorf("expected building status, got %s", st.Status)
	}
	if st.ProcessID != os.Getpid() {
		t.Errorf("expected current PID, got %d", st.ProcessID)
	}

	done := record("app", types.BuildStatusSucceeded)
	done.OutputApk = "/out/app.x86.apk"
	done.Duration = 3 * time.Second
	if err := sm.Finish(done); err != nil {
		t.Fatalf("failed to finish: %v", err)
	}

	st, err = sm.Read("app")
	if err != nil {
		t.Fatalf("failed to read state: %v", err)
	}
	if st.Status != types.BuildStatusSucceeded || st.BuildCount != 1 || st.FailureCount != 0 {
		t.Errorf("unexpected state after success: %+v", st)
	}
	if st.ProcessID != 0 {
		t.Errorf("expected PID to be cleared, got %d", st.ProcessID)
	}
	if st.LastBuild == nil || st.LastBuild.OutputApk != "/out/app.x86.apk" {
		t.Errorf("expected last build output to be recorded, got %+v", st.LastBuild)
	}

	if exists, _ := afero.Exists(fs, filepath.Join("/out", filepath.FromSlash(state.DirName), "app.json")); !exists {
		t.Error("state file was not created")
	}
}

func TestManager_Counters(t *testing.T) {
	sm := state.NewManager(afero.NewMemMapFs(), "/out", nil)

	for _, status := range []types.BuildStatus{
		types.BuildStatusSucceeded,
		types.BuildStatusFailed,
		types.BuildStatusFailed,
		types.BuildStatusCancelled,
	} {
		if err := sm.Finish(record("app", status)); err != nil {
			t.Fatalf("failed to finish: %v", err)
		}
	}

	st, err := sm.Read("app")
	if err != nil {
		t.Fatalf("failed to read state: %v", err)
	}
	if st.BuildCount != 1 {
		t.Errorf("expected 1 successful build, got %d", st.BuildCount)
	}
	if st.FailureCount != 2 {
		t.Errorf("expected 2 failed builds, got %d", st.FailureCount)
	}
	if st.Status != types.BuildStatusCancelled {
		t.Errorf("expected cancelled status, got %s", st.Status)
	}
}

func TestManager_ReadMissing(t *testing.T) {
	sm := state.NewManager(afero.NewMemMapFs(), "/out", nil)

	_, err := sm.Read("never-built")
	if !errors.Is(err, state.ErrNoState) {
		t.Errorf("expected ErrNoState, got %v", err)
	}
}

func TestManager_Remove(t *testing.T) {
	sm := state.NewManager(afero.NewMemMapFs(), "/out", nil)

	if err := sm.Finish(record("app", types.BuildStatusSucceeded)); err != nil {
		t.Fatalf("failed to finish: %v", err)
	}
	if err := sm.Remove("app"); err != nil {
		t.Fatalf("failed to remove: %v", err)
	}
	if _, err := sm.Read("app"); !errors.Is(err, state.ErrNoState) {
		t.Errorf("expected state to be gone, got %v", err)
	}
	if err := sm.Remove("app"); err != nil {
		t.Errorf("removing twice should not fail: %v", err)
	}
}

func TestManager_IsLocked(t *testing.T) {
	tests := []struct {
		name     string
		state    state.AppState
		expected bool
	}{
		{
			name:     "other process building",
			state:    state.AppState{App: "app", Status: types.BuildStatusBuilding, ProcessID: os.Getpid() + 1, UpdatedAt: time.Now()},
			expected: true,
		},
		{
			name:     "stale build",
			state:    state.AppState{App: "app", Status: types.BuildStatusBuilding, ProcessID: os.Getpid() + 1, UpdatedAt: time.Now().Add(-2 * state.StaleAfter)},
			expected: false,
		},
		{
			name:     "own process",
			state:    state.AppState{App: "app", Status: types.BuildStatusBuilding, ProcessID: os.Getpid(), UpdatedAt: time.Now()},
			expected: false,
		},
		{
			name:     "finished",
			state:    state.AppState{App: "app", Status: types.BuildStatusSucceeded, UpdatedAt: time.Now()},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			sm := state.NewManager(fs, "/out", nil)

			data, err := json.Marshal(tt.state)
			if err != nil {
				t.Fatal(err)
			}
			if err := afero.WriteFile(fs, filepath.Join(sm.Dir(), "app.json"), data, 0o644); err != nil {
				t.Fatal(err)
			}

			locked, err := sm.IsLocked("app")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if locked != tt.expected {
				t.Errorf("expected locked=%v, got %v", tt.expected, locked)
			}
		})
	}

	sm := state.NewManager(afero.NewMemMapFs(), "/out", nil)
	if locked, err := sm.IsLocked("never-built"); err != nil || locked {
		t.Errorf("expected an unbuilt app to be unlocked, got %v, %v", locked, err)
	}
}

func TestManager_Discover(t *testing.T) {
	fs := afero.NewMemMapFs()
	sm := state.NewManager(fs, "/out", nil)

	for _, app := range []string{"one", "two"} {
		if err := sm.Finish(record(app, types.BuildStatusSucceeded)); err != nil {
			t.Fatalf("failed to finish %s: %v", app, err)
		}
	}
	if err := afero.WriteFile(fs, filepath.Join(sm.Dir(), "broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, filepath.Join(sm.Dir(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	states, err := sm.Discover()
	if err != nil {
		t.Fatalf("failed to discover: %v", err)
	}
	if len(states) != 2 || states["one"] == nil || states["two"] == nil {
		t.Errorf("expected states for one and two, got %v", states)
	}

	empty := state.NewManager(afero.NewMemMapFs(), "/nowhere", nil)
	states, err = empty.Discover()
	if err != nil || len(states) != 0 {
		t.Errorf("expected no states, got %v, %v", states, err)
	}
}

func TestManager_Concurrency(t *testing.T) {
	sm := state.NewManager(afero.NewMemMapFs(), "/out", nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sm.Finish(record("app", types.BuildStatusSucceeded)); err != nil {
				t.Errorf("failed to finish: %v", err)
			}
		}()
	}
	wg.Wait()

	st, err := sm.Read("app")
	if err != nil {
		t.Fatalf("failed to read state: %v", err)
	}
	if st.BuildCount != 10 {
		t.Errorf("expected 10 builds, got %d", st.BuildCount)
	}
}

func TestManager_AtomicWrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	sm := state.NewManager(fs, "/out", nil)

	if err := sm.Finish(record("app", types.BuildStatusSucceeded)); err != nil {
		t.Fatalf("failed to finish: %v", err)
	}

	if exists, _ := afero.Exists(fs, filepath.Join(sm.Dir(), "app.json.tmp")); exists {
		t.Error("temporary file was left behind")
	}

	data, err := afero.ReadFile(fs, filepath.Join(sm.Dir(), "app.json"))
	if err != nil {
		t.Fatal(err)
	}
	var st state.AppState
	if err := json.Unmarshal(data, &st); err != nil {
		t.Errorf("state file is not valid JSON: %v", err)
	}
}
