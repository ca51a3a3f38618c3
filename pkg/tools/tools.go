// Package tools wraps the external Android, Java and Ant binaries an apk
// build shells out to. Each method builds one command line with a fixed
// argument grammar and runs it through a command.Executor.
package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/command"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/utils"
)

// IgnoreAssets is the aapt --ignore-assets pattern list
const IgnoreAssets = "!.svn:!.git:!CVS:!thumbs.db:!picasa.ini:!*.scc:*~"

// RJavaOptions configures R.java generation
type RJavaOptions struct {
	AndroidManifest string
	AssetsDir       string
	ResDirs         []string
	BuildJars       []string
	// SrcDir receives the generated R.java tree
	SrcDir string
	// Package overrides the manifest package, for auxiliary bundles
	Package string
}

// CompileOptions configures javac
type CompileOptions struct {
	ClassesDir string
	SrcDir     string
	BuildJars  []string
}

// PackageOptions configures the resource-only package
type PackageOptions struct {
	AndroidManifest string
	AssetsDir       string
	ResDirs         []string
	BuildJars       []string
	ResPackageApk   string
}

// DexOptions configures dx
type DexOptions struct {
	DexFile    string
	ClassesDir string
	Jars       []string
}

// UnsignedOptions configures the apk-package.xml ant build
type UnsignedOptions struct {
	DestDir       string
	ResPackageApk string
	SrcDir        string
	UnsignedApk   string
	NativeLibs    []string
}

// Toolchain runs the configured tools
type Toolchain struct {
	cfg      types.BuildConfiguration
	executor command.Executor
	fsu      *utils.FileSystemUtils
	platform string
	logger   logger.Logger
}

// Option configures a Toolchain
type Option func(*Toolchain)

// WithFs sets the filesystem used to find Java sources
func WithFs(fs afero.Fs) Option {
	return func(t *Toolchain) { t.fsu = utils.NewFileSystemUtils(fs) }
}

// WithPlatform overrides runtime.GOOS when choosing the classpath separator
func WithPlatform(goos string) Option {
	return func(t *Toolchain) { t.platform = goos }
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(t *Toolchain) { t.logger = log }
}

// New creates a Toolchain for a resolved configuration
func New(cfg types.BuildConfiguration, executor command.Executor, opts ...Option) *Toolchain {
	t := &Toolchain{
		cfg:      cfg,
		executor: executor,
		fsu:      utils.NewFileSystemUtils(nil),
		platform: runtime.GOOS,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.WithComponent("tools")
	return t
}

// ClasspathSeparator is ';' on Windows and ':' elsewhere
func (t *Toolchain) ClasspathSeparator() string {
	if strings.HasPrefix(t.platform, "win") {
		return ";"
	}
	return ":"
}

func (t *Toolchain) run(ctx context.Context, message string, args ...string) error {
	if message != "" {
		t.logger.Info(message)
	}
	_, err := t.executor.Run(ctx, command.Join(args...))
	return err
}

func aaptBaseArgs(aapt, manifest, assetsDir string, resDirs, buildJars []string) []string {
	args := []string{
		aapt, "package",
		"-m",
		"-M", manifest,
		"-A", assetsDir,
		"-f",
		"--auto-add-overlay",
	}
	for _, dir := range resDirs {
		args = append(args, "-S", stripTrailingSeparators(dir))
	}
	for _, jar := range buildJars {
		args = append(args, "-I", jar)
	}
	return args
}

// GenerateRJava runs aapt to write R.java under opts.SrcDir
func (t *Toolchain) GenerateRJava(ctx context.Context, opts RJavaOptions) error {
	args := aaptBaseArgs(t.cfg.Aapt, opts.AndroidManifest, opts.AssetsDir, opts.ResDirs, opts.BuildJars)
	if opts.Package != "" {
		args = append(args, "--custom-package", opts.Package)
	}
	args = append(args, "-J", opts.SrcDir)

	msg := "Generating R.java"
	if opts.Package != "" {
		msg += " for " + opts.Package
	}
	return t.run(ctx, msg, args...)
}

// Compile runs javac over every .java file under opts.SrcDir
func (t *Toolchain) Compile(ctx context.Context, opts CompileOptions) error {
	files, err := t.fsu.FindFiles(opts.SrcDir, "*.java")
	if err != nil {
		return fmt.Errorf("failed to list java sources in %s: %w", opts.SrcDir, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no java sources found in %s", opts.SrcDir)
	}

	args := []string{
		t.cfg.Javac,
		"-g",
		"-d", opts.ClassesDir,
		"-source", t.cfg.SourceJavaVersion,
		"-target", t.cfg.TargetJavaVersion,
		"-Xlint:unchecked",
		"-Xlint:deprecation",
	}
	if len(opts.BuildJars) > 0 {
		args = append(args, "-classpath", strings.Join(opts.BuildJars, t.ClasspathSeparator()))
	}
	args = append(args, files...)

	return t.run(ctx, fmt.Sprintf("Compiling %d java sources", len(files)), args...)
}

// PackageResources runs aapt to produce the intermediate .ap_ package
func (t *Toolchain) PackageResources(ctx context.Context, opts PackageOptions) error {
	args := aaptBaseArgs(t.cfg.Aapt, opts.AndroidManifest, opts.AssetsDir, opts.ResDirs, opts.BuildJars)
	args = append(args, "-F", opts.ResPackageApk, "--ignore-assets", IgnoreAssets)

	return t.run(ctx, "Packaging resources into "+opts.ResPackageApk, args...)
}

// Dex runs dx over the compiled classes and bundled jars
func (t *Toolchain) Dex(ctx context.Context, opts DexOptions) error {
	args := []string{t.cfg.Dx, "--dex", "--output", opts.DexFile, opts.ClassesDir}
	args = append(args, opts.Jars...)

	return t.run(ctx, "Compiling .class files with dx to generate "+opts.DexFile, args...)
}

// PackageUnsigned runs the Crosswalk apk-package.xml ant build file
func (t *Toolchain) PackageUnsigned(ctx context.Context, opts UnsignedOptions) error {
	apkName, err := filepath.Rel(opts.DestDir, opts.ResPackageApk)
	if err != nil {
		return err
	}
	apkName = strings.TrimSuffix(apkName, ".ap_")

	srcDir, err := filepath.Rel(opts.DestDir, opts.SrcDir)
	if err != nil {
		return err
	}

	args := []string{
		t.cfg.Ant,
		"-Dbasedir=" + opts.DestDir,
		"-DANDROID_SDK_ROOT=" + t.cfg.AndroidSDKDir,
		"-DANT_TASKS_JAR=" + t.cfg.AnttasksJar,
		"-DAPK_NAME=" + apkName,
		"-DCONFIGURATION_NAME=Release",
		"-DOUT_DIR=" + opts.DestDir,
		"-DSOURCE_DIR=" + srcDir,
		"-DUNSIGNED_APK_PATH=" + opts.UnsignedApk,
	}
	for _, lib := range opts.NativeLibs {
		rel, err := filepath.Rel(opts.DestDir, lib)
		if err != nil {
			return err
		}
		args = append(args, "-DNATIVE_LIBS_DIR="+rel)
	}
	args = append(args, "-buildfile", t.cfg.XwalkApkPackageAntFile)

	return t.run(ctx, "Creating unsigned apk in "+opts.UnsignedApk, args...)
}

// Sign runs jarsigner on apk in place with the configured keystore
func (t *Toolchain) Sign(ctx context.Context, apk string) error {
	args := []string{
		t.cfg.Jarsigner,
		"-sigalg", "SHA1withRSA",
		"-digestalg", "SHA1",
		"-keystore", t.cfg.Keystore,
		"-storepass", t.cfg.KeystorePassword,
		apk,
		t.cfg.KeystoreAlias,
	}
	return t.run(ctx, "Signing "+apk, args...)
}

// Align runs zipalign at a 4 byte boundary from signed to final
func (t *Toolchain) Align(ctx context.Context, signed, final string) error {
	return t.run(ctx, "Aligning "+final, t.cfg.Zipalign, "-f", "4", signed, final)
}

func stripTrailingSeparators(p string) string {
	trimmed := strings.TrimRight(p, `/\`)
	if trimmed == "" {
		return p
	}
	return trimmed
}
