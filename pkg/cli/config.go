package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/config"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
)

// EnvPrefix prefixes every environment variable the CLI reads
const EnvPrefix = "XWALK"

// ProjectFileName is the project file looked up in the project root,
// without extension
const ProjectFileName = "xwalk-apkgen"

// Config holds all CLI configuration, making it testable and eliminating globals.
type Config struct {
	// ConfigFile is the project file; empty means xwalk-apkgen.yaml in
	// ProjectRoot when present
	ConfigFile  string
	ProjectRoot string
	Verbose     bool
	Version     string
}

// NewConfig creates a new CLI configuration with defaults
func NewConfig() *Config {
	return &Config{
		ProjectRoot: ".",
	}
}

// envFlagKeys maps flags onto environment configuration keys
var envFlagKeys = map[string]string{
	"android-sdk-dir":   "androidSDKDir",
	"xwalk-android-dir": "xwalkAndroidDir",
	"android-api-level": "androidAPILevel",
	"arch":              "arch",
	"embedded":          "embedded",
	"keystore":          "keystore",
	"keystore-alias":    "keystoreAlias",
	"keystore-password": "keystorePassword",
}

// appFlagKeys maps flags onto app configuration keys
var appFlagKeys = map[string]string{
	"name":           "name",
	"package":        "pkg",
	"version":        "version",
	"app-root":       "appRoot",
	"app-local-path": "appLocalPath",
	"app-url":        "appUrl",
	"icon":           "icon",
	"icons":          "icons",
	"fullscreen":     "fullscreen",
	"orientation":    "orientation",
}

// settings layers the project file, environment variables and flags.
// Environment variables win over flags, flags over the project file.
type settings struct {
	v *viper.Viper
}

func newSettings(fs afero.Fs) *settings {
	v := viper.New()
	v.SetFs(fs)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return &settings{v: v}
}

// envVar returns the environment variable read for key
func envVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// readProjectFile reads the project file. A missing default project file
// is not an error; a missing explicit one is.
func (s *settings) readProjectFile(cfg *Config) (string, error) {
	if cfg.ConfigFile != "" {
		s.v.SetConfigFile(cfg.ConfigFile)
	} else {
		s.v.AddConfigPath(cfg.ProjectRoot)
		s.v.SetConfigName(ProjectFileName)
		s.v.SetConfigType("yaml")
	}

	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfg.ConfigFile == "" && errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read project file: %w", err)
	}
	return s.v.ConfigFileUsed(), nil
}

// bindFlags records every changed flag unless its environment variable
// is set
func (s *settings) bindFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		if _, ok := os.LookupEnv(envVar(f.Name)); ok {
			return
		}
		var value interface{} = f.Value.String()
		if f.Value.Type() == "stringToString" {
			if m, err := flags.GetStringToString(f.Name); err == nil {
				value = m
			}
		}
		s.v.Set(f.Name, value)
	})
}

func (s *settings) getString(key string) string {
	return s.v.GetString(key)
}

func (s *settings) getBool(key string) bool {
	return s.v.GetBool(key)
}

func (s *settings) getInt(key string) int {
	return s.v.GetInt(key)
}

func (s *settings) getDuration(key string) time.Duration {
	return s.v.GetDuration(key)
}

// overrides collects the configured values of keys under their
// configuration names
func (s *settings) overrides(keys map[string]string) map[string]interface{} {
	raw := map[string]interface{}{}
	for flag, key := range keys {
		if s.v.IsSet(flag) {
			raw[key] = s.v.Get(flag)
		}
	}
	return raw
}

// loadEnvConfig reads the --env-config file and applies overrides on top
func (s *settings) loadEnvConfig(m *config.Manager) (types.EnvConfig, error) {
	var cfg types.EnvConfig
	if path := s.getString("env-config"); path != "" {
		loaded, err := m.LoadEnvConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if err := config.Decode(s.overrides(envFlagKeys), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadAppConfig reads the --app-config file and applies overrides on top.
// Extensions from the --ext-config file replace same-named ones.
func (s *settings) loadAppConfig(m *config.Manager) (types.AppConfig, error) {
	var app types.AppConfig
	if path := s.getString("app-config"); path != "" {
		loaded, err := m.LoadAppConfig(path)
		if err != nil {
			return app, err
		}
		app = loaded
	}
	if err := config.Decode(s.overrides(appFlagKeys), &app); err != nil {
		return app, err
	}

	if path := s.getString("ext-config"); path != "" {
		exts, err := m.LoadExtensions(path)
		if err != nil {
			return app, err
		}
		if app.Extensions == nil {
			app.Extensions = make(map[string]types.Extension, len(exts))
		}
		for name, ext := range exts {
			app.Extensions[name] = ext
		}
	}
	return app, nil
}
