// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/env"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
)

// ErrParse is returned when a file is neither JSON nor YAML
var ErrParse = errors.New("failed to parse config as JSON or YAML")

// Files holds the configuration loaded for one build. Either half may be
// nil when its file was not given.
type Files struct {
	Env *types.EnvConfig
	App *types.AppConfig
}

// Manager handles configuration operations
type Manager struct {
	fs afero.Fs
}

// NewManager creates a new configuration manager; a nil fs means the OS
// filesystem
func NewManager(fs afero.Fs) *Manager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Manager{fs: fs}
}

// ReadRaw reads a JSON or YAML object into a map
func (m *Manager) ReadRaw(path string) (map[string]interface{}, error) {
	data, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]interface{}

	// Try JSON first
	if err := json.Unmarshal(data, &raw); err == nil {
		return raw, nil
	}

	if err := yaml.Unmarshal(data, &raw); err == nil && raw != nil {
		return raw, nil
	}

	return nil, fmt.Errorf("%s: %w", path, ErrParse)
}

// LoadEnvConfig loads an environment configuration. Unknown keys are
// rejected.
func (m *Manager) LoadEnvConfig(path string) (types.EnvConfig, error) {
	raw, err := m.ReadRaw(path)
	if err != nil {
		return types.EnvConfig{}, err
	}

	cfg, err := env.Decode(raw)
	if err != nil {
		return types.EnvConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadAppConfig loads an app configuration. Relative paths inside it are
// resolved against the directory holding the file.
func (m *Manager) LoadAppConfig(path string) (types.AppConfig, error) {
	raw, err := m.ReadRaw(path)
	if err != nil {
		return types.AppConfig{}, err
	}

	var app types.AppConfig
	if err := Decode(raw, &app); err != nil {
		return app, fmt.Errorf("%s: %w", path, err)
	}

	base := filepath.Dir(path)
	app.AppRoot = resolve(base, app.AppRoot)
	app.Icon = resolve(base, app.Icon)
	for i, jar := range app.Jars {
		app.Jars[i] = resolve(base, jar)
	}
	for i, dir := range app.JavaSrcDirs {
		app.JavaSrcDirs[i] = resolve(base, dir)
	}
	for density, icon := range app.Icons {
		app.Icons[density] = resolve(base, icon)
	}
	resolveExtensions(base, app.Extensions)
	return app, nil
}

// LoadExtensions loads a file mapping extension names to their class,
// jsapi and permissions. Relative jsapi paths are resolved against the
// directory holding the file.
func (m *Manager) LoadExtensions(path string) (map[string]types.Extension, error) {
	raw, err := m.ReadRaw(path)
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Extensions map[string]types.Extension `mapstructure:"extensions"`
	}
	if err := Decode(map[string]interface{}{"extensions": raw}, &wrapped); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	resolveExtensions(filepath.Dir(path), wrapped.Extensions)
	return wrapped.Extensions, nil
}

func resolveExtensions(base string, exts map[string]types.Extension) {
	for name, ext := range exts {
		ext.JsAPI = resolve(base, ext.JsAPI)
		exts[name] = ext
	}
}

// Decode decodes raw onto out, which must be a pointer to a config struct.
// Fields raw does not mention keep their value; unknown keys are rejected.
func Decode(raw map[string]interface{}, out interface{}) error {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       stringToMapHook,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		return &env.UnrecognisedKeyError{Keys: md.Unused}
	}
	return nil
}

// stringToMapHook reads "key=value,key=value" strings, as set through
// environment variables, into string maps
func stringToMapHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(map[string]string{}) {
		return data, nil
	}

	out := map[string]string{}
	str := strings.Trim(data.(string), "[]")
	if str == "" {
		return out, nil
	}
	for _, pair := range strings.Split(str, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("%q is not a key=value pair", pair)
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out, nil
}

// Load loads whichever of the two files is named
func (m *Manager) Load(envPath, appPath string) (*Files, error) {
	files := &Files{}
	if envPath != "" {
		cfg, err := m.LoadEnvConfig(envPath)
		if err != nil {
			return nil, err
		}
		files.Env = &cfg
	}
	if appPath != "" {
		app, err := m.LoadAppConfig(appPath)
		if err != nil {
			return nil, err
		}
		files.App = &app
	}
	return files, nil
}

// WriteConfig writes v as YAML when path ends in .yaml or .yml, JSON
// otherwise
func (m *Manager) WriteConfig(path string, v interface{}) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(v)
	default:
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := m.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := afero.WriteFile(m.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// resolve makes p absolute relative to base; empty, absolute and URL-like
// values are returned untouched
func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) || strings.Contains(p, "://") {
		return p
	}
	return filepath.Join(base, p)
}
