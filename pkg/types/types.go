// Package types provides core types and configurations for xwalk-apkgen
package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Arch represents a target CPU architecture for the output apk
type Arch string

const (
	ArchX86 Arch = "x86"
	ArchARM Arch = "arm"
)

// ParseArch normalises an architecture name. "armeabi-v7a" is accepted as
// an alias for arm.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x86":
		return ArchX86, nil
	case "arm", "armeabi-v7a":
		return ArchARM, nil
	default:
		return "", fmt.Errorf("unsupported arch %q: must be x86 or arm", s)
	}
}

// ABI returns the Android ABI directory name for the architecture
func (a Arch) ABI() string {
	if a == ArchARM {
		return "armeabi-v7a"
	}
	return string(a)
}

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// BuildStatus represents the current state of a build
type BuildStatus string

const (
	BuildStatusIdle      BuildStatus = "idle"
	BuildStatusBuilding  BuildStatus = "building"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusCancelled BuildStatus = "cancelled"
)

// ResourceBundle is a group of resource and library directories that get
// their own R.java in Package
type ResourceBundle struct {
	ResDirs []string `json:"resDirs" yaml:"resDirs" mapstructure:"resDirs"`
	Libs    []string `json:"libs" yaml:"libs" mapstructure:"libs"`
	Package string   `json:"pkg" yaml:"pkg" mapstructure:"pkg"`
}

// Dirs returns libs followed by resource dirs, the order aapt receives them
func (b *ResourceBundle) Dirs() []string {
	if b == nil {
		return nil
	}
	dirs := make([]string, 0, len(b.Libs)+len(b.ResDirs))
	dirs = append(dirs, b.Libs...)
	return append(dirs, b.ResDirs...)
}

// EnvConfig is the sparse, user-supplied build environment. Empty fields
// are filled in from defaults or located on disk.
type EnvConfig struct {
	AndroidSDKDir   string `json:"androidSDKDir,omitempty" yaml:"androidSDKDir,omitempty" mapstructure:"androidSDKDir"`
	XwalkAndroidDir string `json:"xwalkAndroidDir,omitempty" yaml:"xwalkAndroidDir,omitempty" mapstructure:"xwalkAndroidDir"`
	AndroidAPILevel int    `json:"androidAPILevel,omitempty" yaml:"androidAPILevel,omitempty" mapstructure:"androidAPILevel"`
	Arch            string `json:"arch,omitempty" yaml:"arch,omitempty" mapstructure:"arch"`
	Embedded        *bool  `json:"embedded,omitempty" yaml:"embedded,omitempty" mapstructure:"embedded"`

	Java              string `json:"java,omitempty" yaml:"java,omitempty" mapstructure:"java"`
	Javac             string `json:"javac,omitempty" yaml:"javac,omitempty" mapstructure:"javac"`
	Ant               string `json:"ant,omitempty" yaml:"ant,omitempty" mapstructure:"ant"`
	Jarsigner         string `json:"jarsigner,omitempty" yaml:"jarsigner,omitempty" mapstructure:"jarsigner"`
	SourceJavaVersion string `json:"sourceJavaVersion,omitempty" yaml:"sourceJavaVersion,omitempty" mapstructure:"sourceJavaVersion"`
	TargetJavaVersion string `json:"targetJavaVersion,omitempty" yaml:"targetJavaVersion,omitempty" mapstructure:"targetJavaVersion"`

	Aapt        string `json:"aapt,omitempty" yaml:"aapt,omitempty" mapstructure:"aapt"`
	Dx          string `json:"dx,omitempty" yaml:"dx,omitempty" mapstructure:"dx"`
	Zipalign    string `json:"zipalign,omitempty" yaml:"zipalign,omitempty" mapstructure:"zipalign"`
	AnttasksJar string `json:"anttasksJar,omitempty" yaml:"anttasksJar,omitempty" mapstructure:"anttasksJar"`
	AndroidJar  string `json:"androidJar,omitempty" yaml:"androidJar,omitempty" mapstructure:"androidJar"`

	XwalkRuntimeClientJar    string          `json:"xwalkRuntimeClientJar,omitempty" yaml:"xwalkRuntimeClientJar,omitempty" mapstructure:"xwalkRuntimeClientJar"`
	XwalkApkPackageAntFile   string          `json:"xwalkApkPackageAntFile,omitempty" yaml:"xwalkApkPackageAntFile,omitempty" mapstructure:"xwalkApkPackageAntFile"`
	XwalkEmbeddedJar         string          `json:"xwalkEmbeddedJar,omitempty" yaml:"xwalkEmbeddedJar,omitempty" mapstructure:"xwalkEmbeddedJar"`
	XwalkAssets              string          `json:"xwalkAssets,omitempty" yaml:"xwalkAssets,omitempty" mapstructure:"xwalkAssets"`
	NativeLibs               string          `json:"nativeLibs,omitempty" yaml:"nativeLibs,omitempty" mapstructure:"nativeLibs"`
	XwalkCoreResources       *ResourceBundle `json:"xwalkCoreResources,omitempty" yaml:"xwalkCoreResources,omitempty" mapstructure:"xwalkCoreResources"`
	ChromiumUIResources      *ResourceBundle `json:"chromiumUiResources,omitempty" yaml:"chromiumUiResources,omitempty" mapstructure:"chromiumUiResources"`
	ChromiumContentResources *ResourceBundle `json:"chromiumContentResources,omitempty" yaml:"chromiumContentResources,omitempty" mapstructure:"chromiumContentResources"`

	Keystore         string `json:"keystore,omitempty" yaml:"keystore,omitempty" mapstructure:"keystore"`
	KeystoreAlias    string `json:"keystoreAlias,omitempty" yaml:"keystoreAlias,omitempty" mapstructure:"keystoreAlias"`
	KeystorePassword string `json:"keystorePassword,omitempty" yaml:"keystorePassword,omitempty" mapstructure:"keystorePassword"`

	// AndroidVersions extends the built-in API level to Android version table
	AndroidVersions map[int]string `json:"androidVersions,omitempty" yaml:"androidVersions,omitempty" mapstructure:"androidVersions"`
}

// IsEmbedded reports whether Crosswalk is bundled into the apk. Embedded
// mode is the default.
func (c *EnvConfig) IsEmbedded() bool {
	return c.Embedded == nil || *c.Embedded
}

// BuildConfiguration is a fully resolved build environment. Every field
// the tool wrappers read is set; embedded-only fields are required only
// when Embedded is true.
type BuildConfiguration struct {
	AndroidSDKDir     string `json:"androidSDKDir"`
	XwalkAndroidDir   string `json:"xwalkAndroidDir"`
	AndroidAPILevel   int    `json:"androidAPILevel"`
	Arch              Arch   `json:"arch"`
	Embedded          bool   `json:"embedded"`
	SourceJavaVersion string `json:"sourceJavaVersion"`
	TargetJavaVersion string `json:"targetJavaVersion"`

	Java      string `json:"java"`
	Javac     string `json:"javac"`
	Ant       string `json:"ant"`
	Jarsigner string `json:"jarsigner"`
	Aapt      string `json:"aapt"`
	Dx        string `json:"dx"`
	Zipalign  string `json:"zipalign"`

	AnttasksJar            string `json:"anttasksJar"`
	AndroidJar             string `json:"androidJar"`
	XwalkRuntimeClientJar  string `json:"xwalkRuntimeClientJar"`
	XwalkApkPackageAntFile string `json:"xwalkApkPackageAntFile"`
	Keystore               string `json:"keystore"`
	KeystoreAlias          string `json:"keystoreAlias"`
	KeystorePassword       string `json:"keystorePassword"`

	XwalkEmbeddedJar         string          `json:"xwalkEmbeddedJar,omitempty"`
	XwalkAssets              string          `json:"xwalkAssets,omitempty"`
	NativeLibs               string          `json:"nativeLibs,omitempty"`
	XwalkCoreResources       *ResourceBundle `json:"xwalkCoreResources,omitempty"`
	ChromiumUIResources      *ResourceBundle `json:"chromiumUiResources,omitempty"`
	ChromiumContentResources *ResourceBundle `json:"chromiumContentResources,omitempty"`
}

// MissingFields lists the configuration keys that are still unset
func (c *BuildConfiguration) MissingFields() []string {
	var missing []string
	check := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	check("androidSDKDir", c.AndroidSDKDir)
	check("xwalkAndroidDir", c.XwalkAndroidDir)
	if c.AndroidAPILevel <= 0 {
		missing = append(missing, "androidAPILevel")
	}
	check("arch", string(c.Arch))
	check("sourceJavaVersion", c.SourceJavaVersion)
	check("targetJavaVersion", c.TargetJavaVersion)
	check("java", c.Java)
	check("javac", c.Javac)
	check("ant", c.Ant)
	check("jarsigner", c.Jarsigner)
	check("aapt", c.Aapt)
	check("dx", c.Dx)
	check("zipalign", c.Zipalign)
	check("anttasksJar", c.AnttasksJar)
	check("androidJar", c.AndroidJar)
	check("xwalkRuntimeClientJar", c.XwalkRuntimeClientJar)
	check("xwalkApkPackageAntFile", c.XwalkApkPackageAntFile)
	check("keystore", c.Keystore)
	check("keystoreAlias", c.KeystoreAlias)
	check("keystorePassword", c.KeystorePassword)

	if c.Embedded {
		check("xwalkEmbeddedJar", c.XwalkEmbeddedJar)
		check("xwalkAssets", c.XwalkAssets)
		check("nativeLibs", c.NativeLibs)
		if c.XwalkCoreResources == nil {
			missing = append(missing, "xwalkCoreResources")
		}
		if c.ChromiumUIResources == nil {
			missing = append(missing, "chromiumUiResources")
		}
		if c.ChromiumContentResources == nil {
			missing = append(missing, "chromiumContentResources")
		}
	}

	return missing
}

// AppConfig describes the HTML5 application to wrap
type AppConfig struct {
	Name            string               `json:"name" yaml:"name" mapstructure:"name"`
	SanitisedName   string               `json:"sanitisedName,omitempty" yaml:"sanitisedName,omitempty" mapstructure:"sanitisedName"`
	Package         string               `json:"pkg" yaml:"pkg" mapstructure:"pkg"`
	Version         string               `json:"version,omitempty" yaml:"version,omitempty" mapstructure:"version"`
	AppRoot         string               `json:"appRoot,omitempty" yaml:"appRoot,omitempty" mapstructure:"appRoot"`
	AppLocalPath    string               `json:"appLocalPath,omitempty" yaml:"appLocalPath,omitempty" mapstructure:"appLocalPath"`
	AppURL          string               `json:"appUrl,omitempty" yaml:"appUrl,omitempty" mapstructure:"appUrl"`
	Icon            string               `json:"icon,omitempty" yaml:"icon,omitempty" mapstructure:"icon"`
	// Icons maps densities (xhdpi, hdpi, mdpi, ldpi) to launcher icons
	// sharing one base name. It is an alternative to Icon.
	Icons           map[string]string    `json:"icons,omitempty" yaml:"icons,omitempty" mapstructure:"icons"`
	Extensions      map[string]Extension `json:"extensions,omitempty" yaml:"extensions,omitempty" mapstructure:"extensions"`
	Fullscreen      *bool                `json:"fullscreen,omitempty" yaml:"fullscreen,omitempty" mapstructure:"fullscreen"`
	Theme           string               `json:"theme,omitempty" yaml:"theme,omitempty" mapstructure:"theme"`
	Orientation     string               `json:"orientation,omitempty" yaml:"orientation,omitempty" mapstructure:"orientation"`
	Permissions     []string             `json:"permissions,omitempty" yaml:"permissions,omitempty" mapstructure:"permissions"`
	RemoteDebugging bool                 `json:"remoteDebugging,omitempty" yaml:"remoteDebugging,omitempty" mapstructure:"remoteDebugging"`
	Jars            []string             `json:"jars,omitempty" yaml:"jars,omitempty" mapstructure:"jars"`
	JavaSrcDirs     []string             `json:"javaSrcDirs,omitempty" yaml:"javaSrcDirs,omitempty" mapstructure:"javaSrcDirs"`
}

// IsFullscreen reports whether the app runs fullscreen (the default)
func (a *AppConfig) IsFullscreen() bool {
	return a.Fullscreen == nil || *a.Fullscreen
}

// ExtensionNames returns the names of the app's extensions, sorted
func (a *AppConfig) ExtensionNames() []string {
	names := make([]string, 0, len(a.Extensions))
	for name := range a.Extensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllPermissions is the app's permissions followed by any extension
// permission not already listed, in extension name order
func (a *AppConfig) AllPermissions() []string {
	seen := make(map[string]bool, len(a.Permissions))
	var out []string
	add := func(perms []string) {
		for _, p := range perms {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	add(a.Permissions)
	for _, name := range a.ExtensionNames() {
		add(a.Extensions[name].Permissions)
	}
	return out
}

// Extension is a Crosswalk extension: a Java class exposed to the page
// through a JavaScript API file
type Extension struct {
	Class       string   `json:"class" yaml:"class" mapstructure:"class"`
	JsAPI       string   `json:"jsapi" yaml:"jsapi" mapstructure:"jsapi"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty" mapstructure:"permissions"`
}

// BuildRecord is the persisted outcome of the most recent build of an app
type BuildRecord struct {
	BuildID   string        `json:"buildId"`
	App       string        `json:"app"`
	Arch      Arch          `json:"arch"`
	Status    BuildStatus   `json:"status"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	OutputApk string        `json:"outputApk,omitempty"`
	Stage     string        `json:"stage,omitempty"`
	Error     string        `json:"error,omitempty"`
}
