package tools_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/command"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/tools"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
)

type recordingExecutor struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (r *recordingExecutor) Run(_ context.Context, line string) (command.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if r.err != nil {
		return command.Result{Command: line}, r.err
	}
	return command.Result{Command: line}, nil
}

func (r *recordingExecutor) args(t *testing.T, i int) []string {
	t.Helper()
	require.Greater(t, len(r.lines), i)
	args, err := shellquote.Split(r.lines[i])
	require.NoError(t, err)
	return args
}

func config() types.BuildConfiguration {
	return types.BuildConfiguration{
		AndroidSDKDir:          "/sdk",
		Aapt:                   "/sdk/build-tools/19.0.1/aapt",
		Dx:                     "/sdk/build-tools/19.0.1/dx",
		Zipalign:               "/sdk/tools/zipalign",
		Javac:                  "javac",
		Ant:                    "ant",
		Jarsigner:              "jarsigner",
		SourceJavaVersion:      "1.5",
		TargetJavaVersion:      "1.6",
		AnttasksJar:            "/sdk/tools/lib/anttasks.jar",
		XwalkApkPackageAntFile: "/xwalk/scripts/ant/apk-package.xml",
		Keystore:               "/keys/release.keystore",
		KeystoreAlias:          "release",
		KeystorePassword:       "s3cret pass",
	}
}

func TestGenerateRJava(t *testing.T) {
	exec := &recordingExecutor{}
	tc := tools.New(config(), exec)

	err := tc.GenerateRJava(context.Background(), tools.RJavaOptions{
		AndroidManifest: "/out/AndroidManifest.xml",
		AssetsDir:       "/out/assets",
		ResDirs:         []string{"/out/res", "/xwalk/libs_res/ui/"},
		BuildJars:       []string{"/sdk/android.jar"},
		SrcDir:          "/out/src",
		Package:         "org.chromium.ui",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/sdk/build-tools/19.0.1/aapt", "package", "-m",
		"-M", "/out/AndroidManifest.xml",
		"-A", "/out/assets",
		"-f", "--auto-add-overlay",
		"-S", "/out/res",
		"-S", "/xwalk/libs_res/ui",
		"-I", "/sdk/android.jar",
		"--custom-package", "org.chromium.ui",
		"-J", "/out/src",
	}, exec.args(t, 0))
}

func TestPackageResources(t *testing.T) {
	exec := &recordingExecutor{}
	tc := tools.New(config(), exec)

	err := tc.PackageResources(context.Background(), tools.PackageOptions{
		AndroidManifest: "/out/AndroidManifest.xml",
		AssetsDir:       "/out/assets",
		ResDirs:         []string{"/out/res"},
		BuildJars:       []string{"/sdk/android.jar"},
		ResPackageApk:   "/out/app.x86.ap_",
	})
	require.NoError(t, err)

	args := exec.args(t, 0)
	assert.NotContains(t, args, "-J")
	assert.Equal(t, []string{"-F", "/out/app.x86.ap_", "--ignore-assets", tools.IgnoreAssets}, args[len(args)-4:])
}

func TestCompile(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, p := range []string{"/out/src/org/example/R.java", "/out/src/org/example/AppActivity.java", "/out/src/org/example/notes.txt"} {
		require.NoError(t, afero.WriteFile(fs, filepath.FromSlash(p), []byte("x"), 0o644))
	}

	tests := []struct {
		platform string
		cp       string
	}{
		{"linux", "/sdk/android.jar:/xwalk/runtime.jar"},
		{"windows", "/sdk/android.jar;/xwalk/runtime.jar"},
	}

	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			exec := &recordingExecutor{}
			tc := tools.New(config(), exec, tools.WithFs(fs), tools.WithPlatform(tt.platform))

			err := tc.Compile(context.Background(), tools.CompileOptions{
				ClassesDir: "/out/classes",
				SrcDir:     filepath.FromSlash("/out/src"),
				BuildJars:  []string{"/sdk/android.jar", "/xwalk/runtime.jar"},
			})
			require.NoError(t, err)

			assert.Equal(t, []string{
				"javac", "-g", "-d", "/out/classes",
				"-source", "1.5", "-target", "1.6",
				"-Xlint:unchecked", "-Xlint:deprecation",
				"-classpath", tt.cp,
				filepath.FromSlash("/out/src/org/example/AppActivity.java"),
				filepath.FromSlash("/out/src/org/example/R.java"),
			}, exec.args(t, 0))
		})
	}
}

func TestCompile_NoSources(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/out/src", 0o755))

	exec := &recordingExecutor{}
	tc := tools.New(config(), exec, tools.WithFs(fs))
	err := tc.Compile(context.Background(), tools.CompileOptions{ClassesDir: "/out/classes", SrcDir: "/out/src"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no java sources")
	assert.Empty(t, exec.lines)
}

func TestDex(t *testing.T) {
	exec := &recordingExecutor{}
	tc := tools.New(config(), exec)

	require.NoError(t, tc.Dex(context.Background(), tools.DexOptions{
		DexFile:    "/out/classes.dex",
		ClassesDir: "/out/classes",
		Jars:       []string{"/xwalk/runtime.jar", "/xwalk/embedded.jar"},
	}))

	assert.Equal(t, []string{
		"/sdk/build-tools/19.0.1/dx", "--dex", "--output", "/out/classes.dex",
		"/out/classes", "/xwalk/runtime.jar", "/xwalk/embedded.jar",
	}, exec.args(t, 0))
}

func TestPackageUnsigned(t *testing.T) {
	exec := &recordingExecutor{}
	tc := tools.New(config(), exec)

	dest := filepath.FromSlash("/out")
	require.NoError(t, tc.PackageUnsigned(context.Background(), tools.UnsignedOptions{
		DestDir:       dest,
		ResPackageApk: filepath.Join(dest, "app.x86.ap_"),
		SrcDir:        filepath.Join(dest, "src"),
		UnsignedApk:   filepath.Join(dest, "app-unsigned.x86.apk"),
		NativeLibs:    []string{filepath.FromSlash("/xwalk/native_libs/x86/libs/")},
	}))

	assert.Equal(t, []string{
		"ant",
		"-Dbasedir=" + dest,
		"-DANDROID_SDK_ROOT=/sdk",
		"-DANT_TASKS_JAR=/sdk/tools/lib/anttasks.jar",
		"-DAPK_NAME=app.x86",
		"-DCONFIGURATION_NAME=Release",
		"-DOUT_DIR=" + dest,
		"-DSOURCE_DIR=src",
		"-DUNSIGNED_APK_PATH=" + filepath.Join(dest, "app-unsigned.x86.apk"),
		"-DNATIVE_LIBS_DIR=" + filepath.FromSlash("../xwalk/native_libs/x86/libs"),
		"-buildfile", "/xwalk/scripts/ant/apk-package.xml",
	}, exec.args(t, 0))
}

func TestSignAndAlign(t *testing.T) {
	exec := &recordingExecutor{}
	tc := tools.New(config(), exec)

	require.NoError(t, tc.Sign(context.Background(), "/out/app-signed.x86.apk"))
	require.NoError(t, tc.Align(context.Background(), "/out/app-signed.x86.apk", "/out/app.x86.apk"))

	assert.Equal(t, []string{
		"jarsigner", "-sigalg", "SHA1withRSA", "-digestalg", "SHA1",
		"-keystore", "/keys/release.keystore",
		"-storepass", "s3cret pass",
		"/out/app-signed.x86.apk", "release",
	}, exec.args(t, 0))
	assert.Equal(t, []string{
		"/sdk/tools/zipalign", "-f", "4", "/out/app-signed.x86.apk", "/out/app.x86.apk",
	}, exec.args(t, 1))
}

func TestToolFailurePropagates(t *testing.T) {
	cmdErr := &command.Error{Command: "dx", Stderr: "trouble processing", ExitCode: 2}
	exec := &recordingExecutor{err: cmdErr}
	tc := tools.New(config(), exec)

	err := tc.Dex(context.Background(), tools.DexOptions{DexFile: "/out/classes.dex", ClassesDir: "/out/classes"})
	var got *command.Error
	require.True(t, errors.As(err, &got))
	assert.Equal(t, 2, got.ExitCode)
	assert.Contains(t, got.Output(), "trouble processing")
}
