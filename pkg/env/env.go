// Package env turns a sparse user configuration into a fully resolved build
// configuration: defaults are applied, the Android SDK and Crosswalk trees
// are searched for whatever was left unset, and the Java toolchain is
// checked before anything is built.
package env

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/command"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/locator"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/locator/definitions"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
)

// Defaults for the Java toolchain and the Crosswalk debug keystore
const (
	DefaultJavaVersion      = "1.5"
	DefaultKeystoreAlias    = "xwalkdebugkey"
	DefaultKeystorePassword = "xwalkdebug"
)

// Defaults returns the values used for anything the user leaves empty
func Defaults() types.EnvConfig {
	embedded := true
	return types.EnvConfig{
		Arch:              string(types.ArchX86),
		Embedded:          &embedded,
		Java:              "java",
		Javac:             "javac",
		Ant:               "ant",
		Jarsigner:         "jarsigner",
		SourceJavaVersion: DefaultJavaVersion,
		TargetJavaVersion: DefaultJavaVersion,
		KeystoreAlias:     DefaultKeystoreAlias,
		KeystorePassword:  DefaultKeystorePassword,
	}
}

// ApplyDefaults fills the empty fields of cfg from Defaults
func ApplyDefaults(cfg types.EnvConfig) types.EnvConfig {
	d := Defaults()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&cfg.Arch, d.Arch)
	fill(&cfg.Java, d.Java)
	fill(&cfg.Javac, d.Javac)
	fill(&cfg.Ant, d.Ant)
	fill(&cfg.Jarsigner, d.Jarsigner)
	fill(&cfg.SourceJavaVersion, d.SourceJavaVersion)
	fill(&cfg.TargetJavaVersion, d.TargetJavaVersion)
	fill(&cfg.KeystoreAlias, d.KeystoreAlias)
	fill(&cfg.KeystorePassword, d.KeystorePassword)
	if cfg.Embedded == nil {
		cfg.Embedded = d.Embedded
	}
	return cfg
}

// Decode converts loosely typed key/value pairs (a parsed config file or
// command-line overrides) into an EnvConfig. Unknown keys are rejected
// with an *UnrecognisedKeyError.
func Decode(raw map[string]interface{}) (types.EnvConfig, error) {
	var cfg types.EnvConfig
	var md mapstructure.Metadata

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return cfg, err
	}
	if err := decoder.Decode(raw); err != nil {
		return cfg, fmt.Errorf("invalid environment configuration: %w", err)
	}

	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		return cfg, &UnrecognisedKeyError{Keys: md.Unused}
	}
	return cfg, nil
}

// ExecutableCheck describes how one tool is sanity-checked
type ExecutableCheck struct {
	Name         string
	Args         []string
	Required     *regexp.Regexp
	TolerateExit bool
}

// executableChecks returns the checks for the configured Java toolchain.
// jarsigner has no version flag and exits non-zero when printing its usage.
func executableChecks(cfg types.EnvConfig) map[string]ExecutableCheck {
	return map[string]ExecutableCheck{
		"java":      {Name: cfg.Java, Args: []string{"-version"}, Required: regexp.MustCompile(`Java\(TM\)|OpenJDK`)},
		"javac":     {Name: cfg.Javac, Args: []string{"-version"}},
		"ant":       {Name: cfg.Ant, Args: []string{"-version"}},
		"jarsigner": {Name: cfg.Jarsigner, Args: []string{"-help"}, Required: regexp.MustCompile(`Usage: jarsigner`), TolerateExit: true},
	}
}

// AndroidPieces returns the SDK pieces to locate for the fields of cfg
// that are still empty. Build tools are looked for under the directories
// named after the API level and after its Android version.
func AndroidPieces(cfg types.EnvConfig, apiLevel int, table locator.VersionTable) map[string]locator.Piece {
	buildToolsDirs := []string{filepath.Join("build-tools", strconv.Itoa(apiLevel)+"*")}
	if v, ok := table.AndroidVersion(apiLevel); ok {
		buildToolsDirs = append(buildToolsDirs, filepath.Join("build-tools", "android-"+v))
	}
	latest := locator.LatestVersion(table)

	all := map[string]struct {
		set   bool
		piece locator.Piece
	}{
		"anttasksJar": {cfg.AnttasksJar != "", locator.SingleFile{
			Files:     []string{"ant-tasks.jar", "anttasks.jar"},
			GuessDirs: []string{filepath.Join("tools", "lib")},
		}},
		"androidJar": {cfg.AndroidJar != "", locator.SingleFile{
			Files:     []string{"android.jar"},
			GuessDirs: []string{filepath.Join("platforms", "android-"+strconv.Itoa(apiLevel))},
		}},
		"zipalign": {cfg.Zipalign != "", locator.Executable{
			Name:      "zipalign",
			GuessDirs: []string{"tools"},
		}},
		"aapt": {cfg.Aapt != "", locator.Executable{
			Name:      "aapt",
			GuessDirs: buildToolsDirs,
			TieBreak:  latest,
		}},
		"dx": {cfg.Dx != "", locator.Executable{
			Name:      "dx",
			GuessDirs: buildToolsDirs,
			TieBreak:  latest,
		}},
	}

	pieces := make(map[string]locator.Piece)
	for name, p := range all {
		if !p.set {
			pieces[name] = p.piece
		}
	}
	return pieces
}

// Resolver fills in a sparse EnvConfig
type Resolver struct {
	finder      *locator.Finder
	matcher     locator.PathMatcher
	definitions *definitions.Definitions
	logger      logger.Logger
	skipChecks  bool
	finderOpts  []locator.Option
}

// Option configures a Resolver
type Option func(*Resolver)

// WithDefinitions replaces the built-in Crosswalk piece definitions
func WithDefinitions(d *definitions.Definitions) Option {
	return func(r *Resolver) { r.definitions = d }
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(r *Resolver) { r.logger = log }
}

// WithSkipExecutableChecks disables the java/javac/ant/jarsigner checks
func WithSkipExecutableChecks(skip bool) Option {
	return func(r *Resolver) { r.skipChecks = skip }
}

// WithPlatform sets the platform executable names are derived for
func WithPlatform(goos string) Option {
	return func(r *Resolver) { r.finderOpts = append(r.finderOpts, locator.WithPlatform(goos)) }
}

// NewResolver creates a resolver that searches through matcher and runs
// executable checks through executor
func NewResolver(matcher locator.PathMatcher, executor command.Executor, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		matcher: matcher,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Discard()
	}
	if r.definitions == nil {
		defs, err := definitions.Default()
		if err != nil {
			return nil, err
		}
		r.definitions = defs
	}

	r.finder = locator.New(matcher, executor, append([]locator.Option{locator.WithLogger(r.logger)}, r.finderOpts...)...)
	r.logger = r.logger.WithComponent("env")
	return r, nil
}

// DetectAPILevel returns the highest API level installed under
// sdkDir/platforms, or 0 when none is found
func (r *Resolver) DetectAPILevel(sdkDir string) (int, error) {
	matches, err := r.matcher.Glob(filepath.Join(sdkDir, "platforms"), "android-*")
	if err != nil {
		return 0, err
	}

	highest := 0
	for _, m := range matches {
		level, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(m), "android-"))
		if err != nil {
			continue
		}
		if info, err := r.matcher.Stat(m); err != nil || !info.IsDir {
			continue
		}
		if level > highest {
			highest = level
		}
	}
	return highest, nil
}

// Resolve applies defaults to cfg, locates everything still missing and
// checks the Java toolchain. It never returns a partially resolved
// configuration.
func (r *Resolver) Resolve(ctx context.Context, cfg types.EnvConfig) (types.BuildConfiguration, error) {
	cfg = ApplyDefaults(cfg)

	var missingRoots []string
	if cfg.AndroidSDKDir == "" {
		missingRoots = append(missingRoots, "androidSDKDir")
	}
	if cfg.XwalkAndroidDir == "" {
		missingRoots = append(missingRoots, "xwalkAndroidDir")
	}
	if len(missingRoots) > 0 {
		return types.BuildConfiguration{}, &IncompleteError{Fields: missingRoots}
	}

	for _, dir := range []struct{ key, path string }{
		{"androidSDKDir", cfg.AndroidSDKDir},
		{"xwalkAndroidDir", cfg.XwalkAndroidDir},
	} {
		_, ok, err := r.finder.CheckIsDirectory(dir.path, nil)
		if err != nil {
			return types.BuildConfiguration{}, err
		}
		if !ok {
			return types.BuildConfiguration{}, fmt.Errorf("%s %s: %w", dir.key, dir.path, ErrNotDirectory)
		}
	}

	arch, err := types.ParseArch(cfg.Arch)
	if err != nil {
		return types.BuildConfiguration{}, err
	}

	table := locator.DefaultVersionTable().Merge(cfg.AndroidVersions)

	if cfg.AndroidAPILevel == 0 {
		level, err := r.DetectAPILevel(cfg.AndroidSDKDir)
		if err != nil {
			return types.BuildConfiguration{}, fmt.Errorf("failed to detect Android API level: %w", err)
		}
		if level == 0 {
			level = table.HighestLevel()
			r.logger.Warn("No Android platforms found, assuming highest known API level",
				logger.WithField("android_sdk_dir", cfg.AndroidSDKDir),
				logger.WithField("api_level", level))
		}
		cfg.AndroidAPILevel = level
	}

	xwalkPieces, err := r.definitions.ForQuery(map[string]string{
		"embedded": strconv.FormatBool(cfg.IsEmbedded()),
		"arch":     string(arch),
	}, table)
	if err != nil {
		return types.BuildConfiguration{}, err
	}
	for name := range xwalkPieces {
		if isSet(cfg, name) {
			delete(xwalkPieces, name)
		}
	}
	androidPieces := AndroidPieces(cfg, cfg.AndroidAPILevel, table)

	r.logger.Debug("Locating build environment",
		logger.WithField("android_pieces", len(androidPieces)),
		logger.WithField("xwalk_pieces", len(xwalkPieces)),
		logger.WithField("api_level", cfg.AndroidAPILevel))

	androidFound, err := r.locate(ctx, cfg.AndroidSDKDir, androidPieces)
	if err != nil {
		return types.BuildConfiguration{}, fmt.Errorf("failed to locate Android SDK pieces: %w", err)
	}
	xwalkFound, err := r.locate(ctx, cfg.XwalkAndroidDir, xwalkPieces)
	if err != nil {
		return types.BuildConfiguration{}, fmt.Errorf("failed to locate Crosswalk pieces: %w", err)
	}

	if !r.skipChecks {
		if err := r.CheckExecutables(ctx, cfg); err != nil {
			return types.BuildConfiguration{}, err
		}
	}

	bc := toBuildConfiguration(cfg, arch)
	for _, found := range []locator.SearchResult{androidFound, xwalkFound} {
		for name, res := range found {
			assign(&bc, name, res)
		}
	}

	if missing := bc.MissingFields(); len(missing) > 0 {
		return types.BuildConfiguration{}, &IncompleteError{Fields: missing}
	}

	r.logger.Info("Build environment resolved",
		logger.WithField("api_level", bc.AndroidAPILevel),
		logger.WithField("arch", string(bc.Arch)),
		logger.WithField("embedded", bc.Embedded))
	return bc, nil
}

func (r *Resolver) locate(ctx context.Context, root string, pieces map[string]locator.Piece) (locator.SearchResult, error) {
	if len(pieces) == 0 {
		return locator.SearchResult{}, nil
	}
	return r.finder.LocatePieces(ctx, root, pieces)
}

// CheckExecutables runs every Java toolchain check and reports the first
// failure in a stable order
func (r *Resolver) CheckExecutables(ctx context.Context, cfg types.EnvConfig) error {
	checks := executableChecks(ApplyDefaults(cfg))
	for _, key := range []string{"java", "javac", "ant", "jarsigner"} {
		c := checks[key]
		if _, err := r.finder.CheckExecutable(ctx, c.Name, c.Args, c.Required, c.TolerateExit); err != nil {
			return fmt.Errorf("%s check failed: %w", key, err)
		}
		r.logger.Debug("Executable check passed", logger.WithField("executable", c.Name))
	}
	return nil
}

func isSet(cfg types.EnvConfig, name string) bool {
	switch name {
	case "aapt":
		return cfg.Aapt != ""
	case "dx":
		return cfg.Dx != ""
	case "zipalign":
		return cfg.Zipalign != ""
	case "anttasksJar":
		return cfg.AnttasksJar != ""
	case "androidJar":
		return cfg.AndroidJar != ""
	case "xwalkRuntimeClientJar":
		return cfg.XwalkRuntimeClientJar != ""
	case "xwalkApkPackageAntFile":
		return cfg.XwalkApkPackageAntFile != ""
	case "xwalkEmbeddedJar":
		return cfg.XwalkEmbeddedJar != ""
	case "xwalkAssets":
		return cfg.XwalkAssets != ""
	case "nativeLibs":
		return cfg.NativeLibs != ""
	case "keystore":
		return cfg.Keystore != ""
	case "xwalkCoreResources":
		return cfg.XwalkCoreResources != nil
	case "chromiumUiResources":
		return cfg.ChromiumUIResources != nil
	case "chromiumContentResources":
		return cfg.ChromiumContentResources != nil
	}
	return false
}

func toBuildConfiguration(cfg types.EnvConfig, arch types.Arch) types.BuildConfiguration {
	return types.BuildConfiguration{
		AndroidSDKDir:            cfg.AndroidSDKDir,
		XwalkAndroidDir:          cfg.XwalkAndroidDir,
		AndroidAPILevel:          cfg.AndroidAPILevel,
		Arch:                     arch,
		Embedded:                 cfg.IsEmbedded(),
		SourceJavaVersion:        cfg.SourceJavaVersion,
		TargetJavaVersion:        cfg.TargetJavaVersion,
		Java:                     cfg.Java,
		Javac:                    cfg.Javac,
		Ant:                      cfg.Ant,
		Jarsigner:                cfg.Jarsigner,
		Aapt:                     cfg.Aapt,
		Dx:                       cfg.Dx,
		Zipalign:                 cfg.Zipalign,
		AnttasksJar:              cfg.AnttasksJar,
		AndroidJar:               cfg.AndroidJar,
		XwalkRuntimeClientJar:    cfg.XwalkRuntimeClientJar,
		XwalkApkPackageAntFile:   cfg.XwalkApkPackageAntFile,
		Keystore:                 cfg.Keystore,
		KeystoreAlias:            cfg.KeystoreAlias,
		KeystorePassword:         cfg.KeystorePassword,
		XwalkEmbeddedJar:         cfg.XwalkEmbeddedJar,
		XwalkAssets:              cfg.XwalkAssets,
		NativeLibs:               cfg.NativeLibs,
		XwalkCoreResources:       cfg.XwalkCoreResources,
		ChromiumUIResources:      cfg.ChromiumUIResources,
		ChromiumContentResources: cfg.ChromiumContentResources,
	}
}

func assign(bc *types.BuildConfiguration, name string, res locator.Resolved) {
	if !res.Found() {
		return
	}

	if res.Bundle != nil {
		bundle := &types.ResourceBundle{
			ResDirs: res.Bundle.ResDirs,
			Libs:    res.Bundle.Libs,
			Package: res.Bundle.Package,
		}
		switch name {
		case "xwalkCoreResources":
			bc.XwalkCoreResources = bundle
		case "chromiumUiResources":
			bc.ChromiumUIResources = bundle
		case "chromiumContentResources":
			bc.ChromiumContentResources = bundle
		}
		return
	}

	fields := map[string]*string{
		"aapt":                   &bc.Aapt,
		"dx":                     &bc.Dx,
		"zipalign":               &bc.Zipalign,
		"anttasksJar":            &bc.AnttasksJar,
		"androidJar":             &bc.AndroidJar,
		"xwalkRuntimeClientJar":  &bc.XwalkRuntimeClientJar,
		"xwalkApkPackageAntFile": &bc.XwalkApkPackageAntFile,
		"xwalkEmbeddedJar":       &bc.XwalkEmbeddedJar,
		"xwalkAssets":            &bc.XwalkAssets,
		"nativeLibs":             &bc.NativeLibs,
		"keystore":               &bc.Keystore,
	}
	if field, ok := fields[name]; ok {
		*field = res.Path
	}
}
