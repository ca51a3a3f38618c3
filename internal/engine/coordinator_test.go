package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/internal/engine"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/command"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/staging"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/tools"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
)

// fakeToolchain records calls and writes the files each real tool would
// produce, so later stages find their inputs.
type fakeToolchain struct {
	fs afero.Fs

	mu         sync.Mutex
	calls      []string
	rJava      []tools.RJavaOptions
	signedApks []string
	signedData []byte

	fail  map[string]error
	panic string
}

func newFakeToolchain(fs afero.Fs) *fakeToolchain {
	return &fakeToolchain{fs: fs, fail: map[string]error{}}
}

func (f *fakeToolchain) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.panic == name {
		panic(name + " exploded")
	}
	return f.fail[name]
}

func (f *fakeToolchain) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeToolchain) GenerateRJava(_ context.Context, opts tools.RJavaOptions) error {
	if err := f.record("GenerateRJava"); err != nil {
		return err
	}
	f.mu.Lock()
	f.rJava = append(f.rJava, opts)
	f.mu.Unlock()
	return nil
}

func (f *fakeToolchain) Compile(context.Context, tools.CompileOptions) error {
	return f.record("Compile")
}

func (f *fakeToolchain) PackageResources(_ context.Context, opts tools.PackageOptions) error {
	if err := f.record("PackageResources"); err != nil {
		return err
	}
	return afero.WriteFile(f.fs, opts.ResPackageApk, []byte("ap_"), 0o644)
}

func (f *fakeToolchain) Dex(_ context.Context, opts tools.DexOptions) error {
	if err := f.record("Dex"); err != nil {
		return err
	}
	return afero.WriteFile(f.fs, opts.DexFile, []byte("dex"), 0o644)
}

func (f *fakeToolchain) PackageUnsigned(_ context.Context, opts tools.UnsignedOptions) error {
	if err := f.record("PackageUnsigned"); err != nil {
		return err
	}
	return afero.WriteFile(f.fs, opts.UnsignedApk, []byte("unsigned apk"), 0o644)
}

func (f *fakeToolchain) Sign(_ context.Context, apk string) error {
	if err := f.record("Sign"); err != nil {
		return err
	}
	data, err := afero.ReadFile(f.fs, apk)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.signedApks = append(f.signedApks, apk)
	f.signedData = data
	f.mu.Unlock()
	return nil
}

func (f *fakeToolchain) Align(_ context.Context, signed, final string) error {
	if err := f.record("Align"); err != nil {
		return err
	}
	data, err := afero.ReadFile(f.fs, signed)
	if err != nil {
		return err
	}
	return afero.WriteFile(f.fs, final, data, 0o644)
}

func buildConfig(embedded bool) types.BuildConfiguration {
	cfg := types.BuildConfiguration{
		AndroidSDKDir:          "/sdk",
		XwalkAndroidDir:        "/xwalk",
		AndroidAPILevel:        19,
		Arch:                   types.ArchX86,
		Embedded:               embedded,
		SourceJavaVersion:      "1.5",
		TargetJavaVersion:      "1.5",
		Java:                   "java",
		Javac:                  "javac",
		Ant:                    "ant",
		Jarsigner:              "jarsigner",
		Aapt:                   "/sdk/build-tools/19.0.1/aapt",
		Dx:                     "/sdk/build-tools/19.0.1/dx",
		Zipalign:               "/sdk/tools/zipalign",
		AnttasksJar:            "/sdk/tools/lib/anttasks.jar",
		AndroidJar:             "/sdk/platforms/android-19/android.jar",
		XwalkRuntimeClientJar:  "/xwalk/libs/xwalk_app_runtime_client_java.jar",
		XwalkApkPackageAntFile: "/xwalk/scripts/ant/apk-package.xml",
		Keystore:               "/xwalk/scripts/ant/xwalk-debug.keystore",
		KeystoreAlias:          "xwalkdebugkey",
		KeystorePassword:       "xwalkdebug",
	}
	if embedded {
		cfg.XwalkEmbeddedJar = "/xwalk/libs/xwalk_core_embedded.dex.jar"
		cfg.XwalkAssets = "/xwalk/assets"
		cfg.NativeLibs = "/xwalk/native_libs/x86/libs"
		cfg.XwalkCoreResources = &types.ResourceBundle{ResDirs: []string{"/xwalk/libs_res/xwalk_core"}, Package: "org.xwalk.core"}
		cfg.ChromiumUIResources = &types.ResourceBundle{ResDirs: []string{"/xwalk/libs_res/ui"}, Package: "org.chromium.ui"}
		cfg.ChromiumContentResources = &types.ResourceBundle{ResDirs: []string{"/xwalk/libs_res/content"}, Package: "org.chromium.content"}
	}
	return cfg
}

func buildLayout(t *testing.T, cfg types.BuildConfiguration, destDir string) *staging.Layout {
	t.Helper()
	app := types.AppConfig{Name: "Test App", SanitisedName: "Test_App", Package: "org.example.test"}
	layout, err := staging.ForBuild(app, cfg, destDir)
	require.NoError(t, err)
	return layout
}

func TestCoordinatorBuild_Success(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := buildConfig(true)
	layout := buildLayout(t, cfg, filepath.FromSlash("/work/out/nested"))
	tc := newFakeToolchain(fs)

	apk, err := engine.NewCoordinator(tc, nil, engine.WithFs(fs)).Build(context.Background(), cfg, layout)
	require.NoError(t, err)

	assert.Equal(t, layout.FinalApk(), apk)
	isDir, err := afero.IsDir(fs, filepath.Dir(apk))
	require.NoError(t, err)
	assert.True(t, isDir)
	exists, err := afero.Exists(fs, apk)
	require.NoError(t, err)
	assert.True(t, exists)

	for _, name := range []string{"Compile", "PackageResources", "Dex", "PackageUnsigned", "Sign", "Align"} {
		assert.Equal(t, 1, tc.called(name), name)
	}
}

func TestCoordinatorBuild_ResourceIndexPerBundle(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := buildConfig(true)
	layout := buildLayout(t, cfg, "/out")
	tc := newFakeToolchain(fs)

	_, err := engine.NewCoordinator(tc, nil, engine.WithFs(fs)).Build(context.Background(), cfg, layout)
	require.NoError(t, err)

	require.Len(t, tc.rJava, 4)
	var packages []string
	for _, opts := range tc.rJava {
		packages = append(packages, opts.Package)
		assert.Equal(t, layout.ResourceDirs(), opts.ResDirs)
		assert.Equal(t, layout.SrcDir(), opts.SrcDir)
	}
	assert.ElementsMatch(t, []string{"", "org.xwalk.core", "org.chromium.ui", "org.chromium.content"}, packages)
}

func TestCoordinatorBuild_SharedMode(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := buildConfig(false)
	layout := buildLayout(t, cfg, "/out")
	tc := newFakeToolchain(fs)

	_, err := engine.NewCoordinator(tc, nil, engine.WithFs(fs)).Build(context.Background(), cfg, layout)
	require.NoError(t, err)
	assert.Equal(t, 1, tc.called("GenerateRJava"))
}

func TestCoordinatorBuild_DexFailureStopsPackaging(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := buildConfig(false)
	layout := buildLayout(t, cfg, "/out")
	tc := newFakeToolchain(fs)
	cmdErr := &command.Error{Command: "dx --dex", Stderr: "UNEXPECTED TOP-LEVEL EXCEPTION", ExitCode: 2}
	tc.fail["Dex"] = cmdErr

	_, err := engine.NewCoordinator(tc, nil, engine.WithFs(fs)).Build(context.Background(), cfg, layout)
	require.Error(t, err)

	var stageErr *engine.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, engine.StageDex, stageErr.Stage)

	var got *command.Error
	require.True(t, errors.As(err, &got))
	assert.Same(t, cmdErr, got)
	assert.Contains(t, err.Error(), "UNEXPECTED TOP-LEVEL EXCEPTION")

	assert.Zero(t, tc.called("PackageUnsigned"))
	assert.Zero(t, tc.called("Sign"))
}

func TestCoordinatorBuild_SignsCopy(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := buildConfig(false)
	layout := buildLayout(t, cfg, "/out")
	require.NoError(t, afero.WriteFile(fs, layout.SignedApk(), []byte("stale"), 0o644))
	tc := newFakeToolchain(fs)

	_, err := engine.NewCoordinator(tc, nil, engine.WithFs(fs)).Build(context.Background(), cfg, layout)
	require.NoError(t, err)

	require.Equal(t, []string{layout.SignedApk()}, tc.signedApks)
	assert.NotEqual(t, layout.UnsignedApk(), tc.signedApks[0])
	assert.Equal(t, "unsigned apk", string(tc.signedData))

	unsigned, err := afero.ReadFile(fs, layout.UnsignedApk())
	require.NoError(t, err)
	assert.Equal(t, "unsigned apk", string(unsigned))
}

func TestCoordinatorBuild_StageErrors(t *testing.T) {
	tests := []struct {
		failing string
		stage   engine.Stage
		notRun  []string
	}{
		{"GenerateRJava", engine.StageResourceIndex, []string{"Compile"}},
		{"Compile", engine.StageCompile, []string{"PackageResources", "Dex"}},
		{"PackageResources", engine.StagePackageResources, []string{"PackageUnsigned"}},
		{"PackageUnsigned", engine.StagePackageUnsigned, []string{"Sign"}},
		{"Sign", engine.StageSign, []string{"Align"}},
		{"Align", engine.StageAlign, nil},
	}

	for _, tt := range tests {
		t.Run(tt.failing, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			cfg := buildConfig(true)
			layout := buildLayout(t, cfg, "/out")
			tc := newFakeToolchain(fs)
			tc.fail[tt.failing] = errors.New(tt.failing + " failed")

			apk, err := engine.NewCoordinator(tc, nil, engine.WithFs(fs)).Build(context.Background(), cfg, layout)
			assert.Empty(t, apk)

			var stageErr *engine.StageError
			require.True(t, errors.As(err, &stageErr))
			assert.Equal(t, tt.stage, stageErr.Stage)
			for _, name := range tt.notRun {
				assert.Zero(t, tc.called(name), name)
			}
		})
	}
}

func TestCoordinatorBuild_PanicBecomesStageError(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := buildConfig(false)
	layout := buildLayout(t, cfg, "/out")
	tc := newFakeToolchain(fs)
	tc.panic = "Compile"

	_, err := engine.NewCoordinator(tc, nil, engine.WithFs(fs)).Build(context.Background(), cfg, layout)

	var stageErr *engine.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, engine.StageCompile, stageErr.Stage)
	assert.Contains(t, err.Error(), "Compile exploded")
}

func TestCoordinatorBuild_CleanupOnFailure(t *testing.T) {
	for _, cleanup := range []bool{false, true} {
		fs := afero.NewMemMapFs()
		cfg := buildConfig(false)
		layout := buildLayout(t, cfg, "/out")
		tc := newFakeToolchain(fs)
		tc.fail["Align"] = errors.New("zipalign failed")

		_, err := engine.NewCoordinator(tc, nil,
			engine.WithFs(fs),
			engine.WithCleanupOnFailure(cleanup),
		).Build(context.Background(), cfg, layout)
		require.Error(t, err)

		for _, path := range layout.Intermediates() {
			exists, err := afero.Exists(fs, path)
			require.NoError(t, err)
			assert.Equal(t, !cleanup, exists, "cleanup=%v path=%s", cleanup, path)
		}
	}
}

func TestCoordinatorBuild_RejectsIncompleteConfiguration(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := buildConfig(false)
	layout := buildLayout(t, cfg, "/out")
	cfg.Dx = ""
	tc := newFakeToolchain(fs)

	_, err := engine.NewCoordinator(tc, nil, engine.WithFs(fs)).Build(context.Background(), cfg, layout)
	require.ErrorIs(t, err, engine.ErrIncompleteConfiguration)

	var incomplete *engine.IncompleteConfigError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, []string{"dx"}, incomplete.Fields)
	assert.Empty(t, tc.calls)
}

func TestCoordinatorBuild_NilLayout(t *testing.T) {
	_, err := engine.NewCoordinator(newFakeToolchain(afero.NewMemMapFs()), nil).Build(context.Background(), buildConfig(false), nil)
	assert.ErrorIs(t, err, engine.ErrNilLayout)
}

func TestCoordinatorBuild_Cancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := buildConfig(false)
	layout := buildLayout(t, cfg, "/out")
	tc := newFakeToolchain(fs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.NewCoordinator(tc, nil, engine.WithFs(fs)).Build(ctx, cfg, layout)
	var stageErr *engine.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, engine.StageResourceIndex, stageErr.Stage)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tc.calls)
}

// gatedToolchain holds the call named gate until release is closed. An
// R.java call is named by the bundle package it generates for.
type gatedToolchain struct {
	*fakeToolchain
	gate    string
	entered chan struct{}
	release chan struct{}
}

func newGatedToolchain(fs afero.Fs, gate string) *gatedToolchain {
	return &gatedToolchain{
		fakeToolchain: newFakeToolchain(fs),
		gate:          gate,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (g *gatedToolchain) wait(name string) {
	if name == g.gate {
		close(g.entered)
		<-g.release
	}
}

func (g *gatedToolchain) GenerateRJava(ctx context.Context, opts tools.RJavaOptions) error {
	g.wait("R.java " + opts.Package)
	return g.fakeToolchain.GenerateRJava(ctx, opts)
}

func (g *gatedToolchain) PackageResources(ctx context.Context, opts tools.PackageOptions) error {
	g.wait("PackageResources")
	return g.fakeToolchain.PackageResources(ctx, opts)
}

func (g *gatedToolchain) Dex(ctx context.Context, opts tools.DexOptions) error {
	g.wait("Dex")
	return g.fakeToolchain.Dex(ctx, opts)
}

func (f *fakeToolchain) lastCall(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := -1
	for i, c := range f.calls {
		if c == name {
			last = i
		}
	}
	return last
}

func (f *fakeToolchain) firstCall(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.calls {
		if c == name {
			return i
		}
	}
	return -1
}

func TestCoordinatorBuild_StageOrdering(t *testing.T) {
	tests := []struct {
		name       string
		gate       string
		others     map[string]int
		downstream string
		upstream   []string
	}{
		{
			name:       "compile waits for a bundle R.java",
			gate:       "R.java org.xwalk.core",
			others:     map[string]int{"GenerateRJava": 3},
			downstream: "Compile",
			upstream:   []string{"GenerateRJava"},
		},
		{
			name:       "unsigned packaging waits for dx",
			gate:       "Dex",
			others:     map[string]int{"PackageResources": 1},
			downstream: "PackageUnsigned",
			upstream:   []string{"PackageResources", "Dex"},
		},
		{
			name:       "unsigned packaging waits for resource packaging",
			gate:       "PackageResources",
			others:     map[string]int{"Dex": 1},
			downstream: "PackageUnsigned",
			upstream:   []string{"PackageResources", "Dex"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			cfg := buildConfig(true)
			layout := buildLayout(t, cfg, "/out")
			tc := newGatedToolchain(fs, tt.gate)

			done := make(chan error, 1)
			go func() {
				_, err := engine.NewCoordinator(tc, nil, engine.WithFs(fs), engine.WithMaxParallel(4)).
					Build(context.Background(), cfg, layout)
				done <- err
			}()

			<-tc.entered
			for name, n := range tt.others {
				require.Eventually(t, func() bool { return tc.called(name) == n },
					time.Second, 5*time.Millisecond, "%s should run alongside the held call", name)
			}
			assert.Never(t, func() bool { return tc.called(tt.downstream) > 0 },
				100*time.Millisecond, 5*time.Millisecond, "%s started early", tt.downstream)

			close(tc.release)
			require.NoError(t, <-done)

			start := tc.firstCall(tt.downstream)
			require.GreaterOrEqual(t, start, 0)
			for _, up := range tt.upstream {
				assert.Less(t, tc.lastCall(up), start, "%s must finish before %s", up, tt.downstream)
			}
		})
	}
}

func TestStages_ReturnsCopy(t *testing.T) {
	stages := engine.Stages()
	require.Len(t, stages, 7)
	stages[0] = engine.StageAlign
	assert.Equal(t, engine.StageResourceIndex, engine.Stages()[0])
}

// concurrencyToolchain tracks how many R.java generations overlap
type concurrencyToolchain struct {
	*fakeToolchain
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *concurrencyToolchain) GenerateRJava(ctx context.Context, opts tools.RJavaOptions) error {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return c.fakeToolchain.GenerateRJava(ctx, opts)
}

func TestCoordinatorBuild_MaxParallel(t *testing.T) {
	tests := []struct {
		name string
		opts []engine.CoordinatorOption
		max  int32
	}{
		{"one at a time", []engine.CoordinatorOption{engine.WithMaxParallel(1)}, 1},
		{"two at a time", []engine.CoordinatorOption{engine.WithMaxParallel(2)}, 2},
		{"zero keeps the default", []engine.CoordinatorOption{engine.WithMaxParallel(0)}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			cfg := buildConfig(true)
			layout := buildLayout(t, cfg, "/out")
			tc := &concurrencyToolchain{fakeToolchain: newFakeToolchain(fs)}

			opts := append([]engine.CoordinatorOption{engine.WithFs(fs)}, tt.opts...)
			_, err := engine.NewCoordinator(tc, nil, opts...).Build(context.Background(), cfg, layout)
			require.NoError(t, err)

			assert.Equal(t, 4, tc.called("GenerateRJava"))
			assert.LessOrEqual(t, tc.peak.Load(), tt.max)
			assert.GreaterOrEqual(t, tc.peak.Load(), int32(1))
		})
	}
}
