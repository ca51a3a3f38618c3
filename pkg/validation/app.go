// Package validation provides application configuration validation
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/staging"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/utils"
)

// ErrInvalidApp is returned when an application configuration has errors
var ErrInvalidApp = errors.New("one or more app configuration errors occurred")

// DefaultTheme is the Android theme applied when none is configured
const DefaultTheme = "Theme.Holo.Light.NoActionBar"

// DefaultPermissions returns the permissions granted to every app unless
// overridden
func DefaultPermissions() []string {
	return []string{
		"ACCESS_FINE_LOCATION",
		"ACCESS_NETWORK_STATE",
		"CAMERA",
		"INTERNET",
		"MODIFY_AUDIO_SETTINGS",
		"RECORD_AUDIO",
		"WAKE_LOCK",
		"WRITE_EXTERNAL_STORAGE",
	}
}

var (
	invalidChars      = regexp.MustCompile(`[\\/:*?'"<>|\-\s!]`)
	repeatUnderscores = regexp.MustCompile(`_{2,}`)
	packageShape      = regexp.MustCompile(`.+\..+`)
	packageDigit      = regexp.MustCompile(`(\.\d|^\d)`)
	versionShape      = regexp.MustCompile(`^\d+(\.\d+)*$`)
	jsIdentifier      = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
	Level   ValidationLevel
}

// ValidationLevel represents error severity
type ValidationLevel string

const (
	ValidationLevelError   ValidationLevel = "error"
	ValidationLevelWarning ValidationLevel = "warning"
)

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Level, e.Field, e.Message)
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// AddError adds an error to the validation result
func (r *ValidationResult) AddError(field, message string, level ValidationLevel) {
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Message: message,
		Level:   level,
	})
	if level == ValidationLevelError {
		r.Valid = false
	}
}

// Warnings returns the warning-level entries
func (r *ValidationResult) Warnings() []ValidationError {
	var out []ValidationError
	for _, e := range r.Errors {
		if e.Level == ValidationLevelWarning {
			out = append(out, e)
		}
	}
	return out
}

// Err returns nil for a valid result, otherwise an error wrapping
// ErrInvalidApp listing every error-level message
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	var lines []string
	for _, e := range r.Errors {
		if e.Level == ValidationLevelError {
			lines = append(lines, e.Field+": "+e.Message)
		}
	}
	return fmt.Errorf("%w\n%s", ErrInvalidApp, strings.Join(lines, "\n"))
}

// SanitiseName replaces characters that are unsafe in file names and Java
// identifiers with '_'. Periods are replaced too unless keepPeriods is set
// (package names). Runs of underscores collapse to one and a trailing
// underscore is dropped.
func SanitiseName(value string, keepPeriods bool) string {
	value = invalidChars.ReplaceAllString(value, "_")
	if !keepPeriods {
		value = strings.ReplaceAll(value, ".", "_")
	}
	value = repeatUnderscores.ReplaceAllString(value, "_")
	return strings.TrimSuffix(value, "_")
}

// AppValidator validates application configurations against the filesystem
type AppValidator struct {
	fsu *utils.FileSystemUtils
}

// NewAppValidator creates a validator; a nil fs means the OS filesystem
func NewAppValidator(fs afero.Fs) *AppValidator {
	return &AppValidator{fsu: utils.NewFileSystemUtils(fs)}
}

// Validate checks app without modifying it
func (v *AppValidator) Validate(app *types.AppConfig) *ValidationResult {
	result := &ValidationResult{Valid: true}

	v.validateIdentity(app, result)
	v.validateLocation(app, result)
	v.validateExtras(app, result)

	return result
}

func (v *AppValidator) validateIdentity(app *types.AppConfig, result *ValidationResult) {
	if app.Name == "" {
		result.AddError("name", "name must be set", ValidationLevelError)
	} else if SanitiseName(app.Name, false) == "" && app.SanitisedName == "" {
		result.AddError("name", "name has no characters usable in a file name; set sanitisedName", ValidationLevelError)
	}

	if app.Package == "" {
		result.AddError("pkg", "pkg must be set", ValidationLevelError)
		return
	}
	if !packageShape.MatchString(app.Package) {
		result.AddError("pkg", `pkg must contain at least two character sequences separated by a period (.) character, e.g. "foo.bar"`, ValidationLevelError)
	}
	if packageDigit.MatchString(app.Package) {
		result.AddError("pkg", `pkg must not start with a digit (e.g. "1.org" is BAD) and must have no sequences where a digit follows a period character (e.g. "foo.123" is BAD)`, ValidationLevelError)
	}

	if app.Version != "" && !versionShape.MatchString(app.Version) {
		result.AddError("version", fmt.Sprintf("version %q should be dotted numbers, e.g. 1.0.0", app.Version), ValidationLevelWarning)
	}
}

func (v *AppValidator) validateLocation(app *types.AppConfig, result *ValidationResult) {
	urlSet := app.AppURL != "" && app.AppRoot == "" && app.AppLocalPath == ""
	rootSet := app.AppURL == "" && app.AppRoot != "" && app.AppLocalPath != ""

	if !urlSet && !rootSet {
		result.AddError("appRoot", "one of appUrl OR (appLocalPath AND appRoot) must be set", ValidationLevelError)
		return
	}
	if !rootSet {
		return
	}

	if !v.fsu.IsDirectory(app.AppRoot) {
		result.AddError("appRoot", fmt.Sprintf("app root %s is not a directory; check appRoot", app.AppRoot), ValidationLevelError)
		return
	}
	if !v.fsu.IsFile(filepath.Join(app.AppRoot, app.AppLocalPath)) {
		result.AddError("appLocalPath", fmt.Sprintf("expected HTML file at %s does not exist under %s; check appRoot and appLocalPath", app.AppLocalPath, app.AppRoot), ValidationLevelError)
	}
}

func (v *AppValidator) validateExtras(app *types.AppConfig, result *ValidationResult) {
	if app.Icon != "" && !v.fsu.IsFile(app.Icon) {
		result.AddError("icon", fmt.Sprintf("icon file %s does not exist", app.Icon), ValidationLevelError)
	}
	v.validateIcons(app, result)
	v.validateExtensions(app, result)
	for _, dir := range app.JavaSrcDirs {
		if !v.fsu.IsDirectory(dir) {
			result.AddError("javaSrcDirs", fmt.Sprintf("java source directory %s does not exist", dir), ValidationLevelError)
		}
	}
	for _, jar := range app.Jars {
		if !v.fsu.IsFile(jar) {
			result.AddError("jars", fmt.Sprintf("jar %s does not exist", jar), ValidationLevelError)
		}
	}
}

func (v *AppValidator) validateIcons(app *types.AppConfig, result *ValidationResult) {
	if len(app.Icons) == 0 {
		return
	}
	if app.Icon != "" {
		result.AddError("icons", "set icon or icons, not both", ValidationLevelError)
	}

	known := map[string]bool{}
	for _, d := range staging.DrawableDensities() {
		known[d] = true
	}

	densities := make([]string, 0, len(app.Icons))
	for d := range app.Icons {
		densities = append(densities, d)
	}
	sort.Strings(densities)

	base := ""
	for _, d := range densities {
		icon := app.Icons[d]
		switch {
		case !known[d]:
			result.AddError("icons", fmt.Sprintf("unknown density %q; use one of %s", d, strings.Join(staging.DrawableDensities(), ", ")), ValidationLevelError)
			continue
		case !v.fsu.IsFile(icon):
			result.AddError("icons", fmt.Sprintf("%s icon file %s does not exist", d, icon), ValidationLevelError)
			continue
		}
		if base == "" {
			base = filepath.Base(icon)
		} else if filepath.Base(icon) != base {
			result.AddError("icons", fmt.Sprintf("%s icon %s must be named %s like the other densities", d, icon, base), ValidationLevelError)
		}
	}
}

func (v *AppValidator) validateExtensions(app *types.AppConfig, result *ValidationResult) {
	jsFiles := map[string]string{}
	for _, name := range app.ExtensionNames() {
		ext := app.Extensions[name]
		field := "extensions." + name
		if !jsIdentifier.MatchString(name) {
			result.AddError(field, "extension name should be a valid JavaScript identifier", ValidationLevelWarning)
		}
		if ext.Class == "" {
			result.AddError(field, "class must be set", ValidationLevelError)
		}
		if ext.JsAPI == "" {
			result.AddError(field, "jsapi must be set", ValidationLevelError)
			continue
		}
		if !v.fsu.IsFile(ext.JsAPI) {
			result.AddError(field, fmt.Sprintf("jsapi file %s does not exist", ext.JsAPI), ValidationLevelError)
			continue
		}
		base := filepath.Base(ext.JsAPI)
		if other, ok := jsFiles[base]; ok {
			result.AddError(field, fmt.Sprintf("jsapi file name %s is also used by extension %s", base, other), ValidationLevelError)
			continue
		}
		jsFiles[base] = name
	}
}

// Prepare validates app and returns a copy with defaults applied: theme,
// permissions, sanitised name and sanitised package.
func (v *AppValidator) Prepare(app types.AppConfig) (types.AppConfig, *ValidationResult, error) {
	result := v.Validate(&app)
	if err := result.Err(); err != nil {
		return types.AppConfig{}, result, err
	}

	if app.Theme == "" {
		app.Theme = DefaultTheme
	}
	if app.IsFullscreen() && !strings.HasSuffix(app.Theme, ".Fullscreen") {
		app.Theme += ".Fullscreen"
	}
	if app.Permissions == nil {
		app.Permissions = DefaultPermissions()
	}
	if app.SanitisedName == "" {
		app.SanitisedName = SanitiseName(app.Name, false)
	}
	app.Package = SanitiseName(app.Package, true)
	if app.Version == "" {
		app.Version = "1.0.0"
	}

	return app, result, nil
}
