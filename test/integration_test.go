//go:build integration
// +build integration

package integration_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/internal/state"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/cli"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
)

// requireEnvironment skips unless a real Android SDK and Crosswalk
// distribution are configured
func requireEnvironment(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	for _, name := range []string{"XWALK_ANDROID_SDK_DIR", "XWALK_XWALK_ANDROID_DIR"} {
		if os.Getenv(name) == "" {
			t.Skipf("%s is not set", name)
		}
	}
}

func writeApp(t *testing.T, root string) string {
	t.Helper()
	appRoot := filepath.Join(root, "app")
	require.NoError(t, os.MkdirAll(filepath.Join(appRoot, "js"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appRoot, "index.html"),
		[]byte(`<html><body><script src="js/main.js"></script></body></html>`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(appRoot, "js", "main.js"),
		[]byte(`document.body.appendChild(document.createTextNode("hello"));`), 0o644))
	return appRoot
}

func run(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	c := cli.NewCLI(&cli.Config{ProjectRoot: root, Version: "integration"},
		cli.WithFs(afero.NewOsFs()),
		cli.WithOutput(out, errOut),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	err := c.ExecuteContext(ctx, append([]string{"--root", root}, args...))
	if err != nil {
		t.Logf("stderr:\n%s", errOut.String())
	}
	return out.String(), err
}

func TestCheckRealEnvironment(t *testing.T) {
	requireEnvironment(t)

	_, err := run(t, t.TempDir(), "check")
	require.NoError(t, err)
}

func TestEndToEndBuild(t *testing.T) {
	requireEnvironment(t)

	for _, embedded := range []bool{false, true} {
		embedded := embedded
		name := "shared"
		if embedded {
			name = "embedded"
		}

		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			appRoot := writeApp(t, root)
			outDir := filepath.Join(root, "out")

			args := []string{
				"build",
				"--name", "Integration App",
				"--package", "org.crosswalkproject.integration",
				"--version", "1.0.0",
				"--app-root", appRoot,
				"--app-local-path", "index.html",
				"--arch", "x86",
				"-o", outDir,
				"--build-dir", filepath.Join(root, "build"),
			}
			if !embedded {
				args = append(args, "--embedded=false")
			}

			_, err := run(t, root, args...)
			require.NoError(t, err)

			apk := filepath.Join(outDir, "Integration_App.x86.apk")
			info, err := os.Stat(apk)
			require.NoError(t, err)
			assert.Greater(t, info.Size(), int64(0))

			st, err := state.NewManager(afero.NewOsFs(), root, nil).Read("Integration_App")
			require.NoError(t, err)
			assert.Equal(t, types.BuildStatusSucceeded, st.Status)
			assert.Equal(t, apk, st.LastBuild.OutputApk)
		})
	}
}

func TestLocateWritesReusableConfig(t *testing.T) {
	requireEnvironment(t)

	root := t.TempDir()
	written := filepath.Join(root, "env.json")

	report, err := run(t, root, "locate", "--write", written)
	require.NoError(t, err)
	assert.Contains(t, report, "Build environment")

	_, err = run(t, root, "check", "--env-config", written)
	require.NoError(t, err)
}
