package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/config"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/env"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
)

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func TestLoadEnvConfig_JSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/cfg/env.json", `{
		"androidSDKDir": "/opt/android-sdk",
		"xwalkAndroidDir": "/opt/xwalk",
		"arch": "arm",
		"embedded": false,
		"androidAPILevel": 19,
		"androidVersions": {"20": "4.4W"}
	}`)

	cfg, err := config.NewManager(fs).LoadEnvConfig("/cfg/env.json")
	require.NoError(t, err)

	assert.Equal(t, "/opt/android-sdk", cfg.AndroidSDKDir)
	assert.Equal(t, "arm", cfg.Arch)
	require.NotNil(t, cfg.Embedded)
	assert.False(t, *cfg.Embedded)
	assert.Equal(t, 19, cfg.AndroidAPILevel)
	assert.Equal(t, map[int]string{20: "4.4W"}, cfg.AndroidVersions)
}

func TestLoadEnvConfig_YAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/cfg/env.yaml", `
androidSDKDir: /opt/android-sdk
xwalkAndroidDir: /opt/xwalk
keystore: /keys/release.keystore
keystoreAlias: release
`)

	cfg, err := config.NewManager(fs).LoadEnvConfig("/cfg/env.yaml")
	require.NoError(t, err)

	assert.Equal(t, "/opt/xwalk", cfg.XwalkAndroidDir)
	assert.Equal(t, "/keys/release.keystore", cfg.Keystore)
	assert.Equal(t, "release", cfg.KeystoreAlias)
	assert.Nil(t, cfg.Embedded)
}

func TestLoadEnvConfig_RejectsUnknownKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/cfg/env.json", `{"androidSDKDir": "/sdk", "androidSdk": "/sdk"}`)

	_, err := config.NewManager(fs).LoadEnvConfig("/cfg/env.json")

	require.ErrorIs(t, err, env.ErrUnrecognisedKey)
	assert.Contains(t, err.Error(), "androidSdk")
}

func TestReadRaw_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/cfg/broken.json", "{ not: [valid")
	m := config.NewManager(fs)

	_, err := m.ReadRaw("/cfg/broken.json")
	assert.ErrorIs(t, err, config.ErrParse)

	_, err = m.ReadRaw("/cfg/missing.json")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, config.ErrParse)
}

func TestLoadAppConfig_ResolvesRelativePaths(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/projects/demo/app.yaml", `
name: Demo
pkg: org.example.demo
appRoot: www
appLocalPath: index.html
icon: www/icon.png
fullscreen: true
permissions: [CAMERA, VIBRATE]
jars: [libs/extra.jar, /abs/other.jar]
javaSrcDirs: [src]
`)

	app, err := config.NewManager(fs).LoadAppConfig("/projects/demo/app.yaml")
	require.NoError(t, err)

	assert.Equal(t, "Demo", app.Name)
	assert.Equal(t, "org.example.demo", app.Package)
	assert.Equal(t, "/projects/demo/www", app.AppRoot)
	assert.Equal(t, "index.html", app.AppLocalPath)
	assert.Equal(t, "/projects/demo/www/icon.png", app.Icon)
	assert.Equal(t, []string{"/projects/demo/libs/extra.jar", "/abs/other.jar"}, app.Jars)
	assert.Equal(t, []string{"/projects/demo/src"}, app.JavaSrcDirs)
	require.NotNil(t, app.Fullscreen)
	assert.True(t, *app.Fullscreen)
	assert.Equal(t, []string{"CAMERA", "VIBRATE"}, app.Permissions)
}

func TestLoadAppConfig_IconsAndExtensions(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/projects/demo/app.json", `{
  "name": "Demo",
  "pkg": "org.example.demo",
  "appUrl": "https://example.org/",
  "icons": {"hdpi": "icons/hdpi/demo.png", "mdpi": "/abs/mdpi/demo.png"},
  "extensions": {
    "echo": {"class": "my.ext.Echo", "jsapi": "ext/echo.js", "permissions": ["VIBRATE"]}
  }
}`)

	app, err := config.NewManager(fs).LoadAppConfig("/projects/demo/app.json")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"hdpi": "/projects/demo/icons/hdpi/demo.png",
		"mdpi": "/abs/mdpi/demo.png",
	}, app.Icons)
	assert.Equal(t, map[string]types.Extension{
		"echo": {Class: "my.ext.Echo", JsAPI: "/projects/demo/ext/echo.js", Permissions: []string{"VIBRATE"}},
	}, app.Extensions)
}

func TestLoadExtensions(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/projects/demo/extensions.json", `{
  "echo": {"class": "my.ext.Echo", "jsapi": "js/echo.js"},
  "lister": {"class": "my.ext.Lister", "jsapi": "/abs/lister.js", "permissions": ["READ_EXTERNAL_STORAGE"]}
}`)
	m := config.NewManager(fs)

	exts, err := m.LoadExtensions("/projects/demo/extensions.json")
	require.NoError(t, err)
	assert.Equal(t, map[string]types.Extension{
		"echo":   {Class: "my.ext.Echo", JsAPI: "/projects/demo/js/echo.js"},
		"lister": {Class: "my.ext.Lister", JsAPI: "/abs/lister.js", Permissions: []string{"READ_EXTERNAL_STORAGE"}},
	}, exts)

	writeFile(t, fs, "/projects/demo/bad.json", `{"echo": {"class": "my.ext.Echo", "jsapi": "js/echo.js", "api": "x"}}`)
	_, err = m.LoadExtensions("/projects/demo/bad.json")
	assert.ErrorIs(t, err, env.ErrUnrecognisedKey)
}

func TestLoadAppConfig_KeepsURLs(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/cfg/app.json", `{"name": "Hosted", "pkg": "org.example.hosted", "appUrl": "https://example.org/"}`)

	app, err := config.NewManager(fs).LoadAppConfig("/cfg/app.json")
	require.NoError(t, err)

	assert.Equal(t, "https://example.org/", app.AppURL)
	assert.Empty(t, app.AppRoot)
}

func TestLoadAppConfig_RejectsUnknownKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/cfg/app.json", `{"name": "X", "pkg": "a.b", "package": "a.b"}`)

	_, err := config.NewManager(fs).LoadAppConfig("/cfg/app.json")
	assert.ErrorIs(t, err, env.ErrUnrecognisedKey)
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/cfg/env.json", `{"arch": "x86"}`)
	m := config.NewManager(fs)

	files, err := m.Load("/cfg/env.json", "")
	require.NoError(t, err)
	require.NotNil(t, files.Env)
	assert.Equal(t, "x86", files.Env.Arch)
	assert.Nil(t, files.App)

	_, err = m.Load("/cfg/env.json", "/cfg/missing.json")
	assert.Error(t, err)
}

func TestWriteConfig_RoundTripsThroughLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := config.NewManager(fs)
	embedded := true
	cfg := types.EnvConfig{
		AndroidSDKDir:   "/sdk",
		XwalkAndroidDir: "/xwalk",
		Embedded:        &embedded,
		Aapt:            "/sdk/build-tools/19.0.1/aapt",
	}

	for _, path := range []string{"/out/env.json", "/out/env.yaml"} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			require.NoError(t, m.WriteConfig(path, cfg))

			loaded, err := m.LoadEnvConfig(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestReloadManager_TriggerReload(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "env.json")
	require.NoError(t, os.WriteFile(envPath, []byte(`{"arch": "arm"}`), 0o644))

	rm := config.NewReloadManager(config.NewManager(nil), envPath, "", nil)

	var got *config.Files
	var gotErr error
	rm.AddCallback(func(files *config.Files, err error) {
		got, gotErr = files, err
	})
	rm.TriggerReload()

	require.NoError(t, gotErr)
	require.NotNil(t, got)
	assert.Equal(t, "arm", got.Env.Arch)
}

func TestReloadManager_ReportsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "env.json")
	require.NoError(t, os.WriteFile(envPath, []byte(`{"bogus": 1}`), 0o644))

	rm := config.NewReloadManager(config.NewManager(nil), envPath, "", nil)

	var gotErr error
	rm.AddCallback(func(_ *config.Files, err error) { gotErr = err })
	rm.TriggerReload()

	assert.ErrorIs(t, gotErr, env.ErrUnrecognisedKey)
}

func TestReloadManager_WatchesFileChanges(t *testing.T) {
	dir := t.TempDir()
	appPath := filepath.Join(dir, "app.json")
	require.NoError(t, os.WriteFile(appPath, []byte(`{"name": "One", "pkg": "a.b"}`), 0o644))

	rm := config.NewReloadManager(config.NewManager(nil), "", appPath, nil)
	rm.SetDebouncePeriod(20 * time.Millisecond)

	var once sync.Once
	reloaded := make(chan *config.Files, 1)
	rm.AddCallback(func(files *config.Files, err error) {
		if err == nil {
			once.Do(func() { reloaded <- files })
		}
	})

	require.NoError(t, rm.StartWatching())
	defer rm.StopWatching()
	assert.True(t, rm.IsWatching())
	assert.Error(t, rm.StartWatching())

	// Guarantee a later modification time on coarse-grained filesystems
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(appPath, []byte(`{"name": "Two", "pkg": "a.b"}`), 0o644))
	require.NoError(t, os.Chtimes(appPath, later, later))

	select {
	case files := <-reloaded:
		assert.Equal(t, "Two", files.App.Name)
	case <-time.After(3 * time.Second):
		t.Fatal("configuration was not reloaded")
	}

	require.NoError(t, rm.StopWatching())
	assert.False(t, rm.IsWatching())
}

func TestReloadManager_NothingToWatch(t *testing.T) {
	rm := config.NewReloadManager(config.NewManager(nil), "", "", nil)
	assert.Error(t, rm.StartWatching())
}

func TestDecode_IconsFromString(t *testing.T) {
	var app types.AppConfig
	require.NoError(t, config.Decode(map[string]interface{}{"icons": "xhdpi=/i/96.png, mdpi=/i/48.png"}, &app))
	assert.Equal(t, map[string]string{"xhdpi": "/i/96.png", "mdpi": "/i/48.png"}, app.Icons)

	err := config.Decode(map[string]interface{}{"icons": "xhdpi"}, &app)
	assert.Error(t, err)
}
