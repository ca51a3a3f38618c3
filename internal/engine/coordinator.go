package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/spf13/afero"

	bcontext "github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/context"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/interfaces"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/staging"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/tools"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/utils"
)

// Stage identifies one step of the build graph
type Stage string

const (
	StageResourceIndex    Stage = "resource-index"
	StageCompile          Stage = "compile"
	StagePackageResources Stage = "package-resources"
	StageDex              Stage = "dex"
	StagePackageUnsigned  Stage = "package-unsigned"
	StageSign             Stage = "sign"
	StageAlign            Stage = "align"
)

// Stages lists every stage in graph order; the two stages after
// StageCompile run concurrently.
func Stages() []Stage {
	return []Stage{
		StageResourceIndex,
		StageCompile,
		StagePackageResources,
		StageDex,
		StagePackageUnsigned,
		StageSign,
		StageAlign,
	}
}

var (
	// ErrNilLayout is returned when Build is called without a layout
	ErrNilLayout = errors.New("build requires a staging layout")

	// ErrIncompleteConfiguration is wrapped by *IncompleteConfigError
	ErrIncompleteConfiguration = errors.New("build configuration is incomplete")
)

// StageError reports the stage a build failed in. Err is usually a
// *command.Error carrying the tool's command line and output.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IncompleteConfigError lists the configuration fields still unset
type IncompleteConfigError struct {
	Fields []string
}

func (e *IncompleteConfigError) Error() string {
	return fmt.Sprintf("%v: missing %v", ErrIncompleteConfiguration, e.Fields)
}

func (e *IncompleteConfigError) Unwrap() error {
	return ErrIncompleteConfiguration
}

// Coordinator runs one build at a time through the tool graph
type Coordinator struct {
	tools            interfaces.Toolchain
	fsu              *utils.FileSystemUtils
	logger           logger.Logger
	cleanupOnFailure bool
	maxParallel      int
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithFs sets the filesystem used for the signing copy, output directories
// and cleanup
func WithFs(fs afero.Fs) CoordinatorOption {
	return func(c *Coordinator) { c.fsu = utils.NewFileSystemUtils(fs) }
}

// WithCleanupOnFailure removes the intermediate artefacts of a failed build.
// By default they are kept for diagnosis.
func WithCleanupOnFailure(enabled bool) CoordinatorOption {
	return func(c *Coordinator) { c.cleanupOnFailure = enabled }
}

// WithMaxParallel caps how many R.java generations run at once. Values
// below one are ignored; the default is the number of CPUs.
func WithMaxParallel(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxParallel = n
		}
	}
}

// NewCoordinator creates a coordinator for a single build
func NewCoordinator(tc interfaces.Toolchain, log logger.Logger, opts ...CoordinatorOption) *Coordinator {
	if log == nil {
		log = logger.Discard()
	}
	c := &Coordinator{
		tools:  tc,
		fsu:         utils.NewFileSystemUtils(nil),
		logger:      log.WithComponent("coordinator"),
		maxParallel: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Build produces the signed, aligned apk for a staged layout and returns its
// path, which is always layout.FinalApk(). The first failing stage stops the
// build and is reported as *StageError.
func (c *Coordinator) Build(ctx context.Context, cfg types.BuildConfiguration, layout *staging.Layout) (apk string, err error) {
	if layout == nil {
		return "", ErrNilLayout
	}
	if missing := cfg.MissingFields(); len(missing) > 0 {
		return "", &IncompleteConfigError{Fields: missing}
	}

	if !bcontext.HasBuildID(ctx) {
		ctx = bcontext.WithBuildID(ctx, "")
	}
	ctx = bcontext.WithApp(ctx, layout.Name())
	ctx = bcontext.WithStartTime(ctx, time.Now())
	log := logger.WithContext(ctx, c.logger)

	log.Info("Building apk",
		logger.WithField("arch", string(layout.Arch())),
		logger.WithField("dest", layout.DestDir()))

	defer func() {
		if err == nil {
			return
		}
		log.Error("Build failed", logger.WithField("error", err.Error()))
		if c.cleanupOnFailure {
			c.cleanup(layout, log)
		}
	}()

	if err := c.resourceIndex(ctx, layout); err != nil {
		return "", err
	}

	if err := c.runStage(ctx, StageCompile, func(ctx context.Context) error {
		return c.tools.Compile(ctx, tools.CompileOptions{
			ClassesDir: layout.ClassesDir(),
			SrcDir:     layout.SrcDir(),
			BuildJars:  layout.BuildJars(),
		})
	}); err != nil {
		return "", err
	}

	if err := c.packageAndDex(ctx, layout); err != nil {
		return "", err
	}

	if err := c.runStage(ctx, StagePackageUnsigned, func(ctx context.Context) error {
		return c.tools.PackageUnsigned(ctx, tools.UnsignedOptions{
			DestDir:       layout.DestDir(),
			ResPackageApk: layout.ResPackageApk(),
			SrcDir:        layout.SrcDir(),
			UnsignedApk:   layout.UnsignedApk(),
			NativeLibs:    layout.NativeLibs(),
		})
	}); err != nil {
		return "", err
	}

	if err := c.runStage(ctx, StageSign, func(ctx context.Context) error {
		return c.sign(ctx, layout)
	}); err != nil {
		return "", err
	}

	if err := c.runStage(ctx, StageAlign, func(ctx context.Context) error {
		if err := c.fsu.CreateDirectory(filepath.Dir(layout.FinalApk())); err != nil {
			return err
		}
		return c.tools.Align(ctx, layout.SignedApk(), layout.FinalApk())
	}); err != nil {
		return "", err
	}

	log.Success("Built apk",
		logger.WithField("apk", layout.FinalApk()),
		logger.WithField("duration_ms", bcontext.GetDuration(ctx).Milliseconds()))
	return layout.FinalApk(), nil
}

// resourceIndex generates the app's R.java and one per resource bundle,
// at most maxParallel at a time. All of them must succeed.
func (c *Coordinator) resourceIndex(ctx context.Context, layout *staging.Layout) error {
	return c.runStage(ctx, StageResourceIndex, func(ctx context.Context) error {
		base := tools.RJavaOptions{
			AndroidManifest: layout.AndroidManifest(),
			AssetsDir:       layout.AssetsDir(),
			ResDirs:         layout.ResourceDirs(),
			BuildJars:       layout.BuildJars(),
			SrcDir:          layout.SrcDir(),
		}

		sg, gctx := NewSafeGroup(ctx, c.logger)
		sg.SetLimit(c.maxParallel)
		sg.Go(func() error { return c.tools.GenerateRJava(gctx, base) })

		resources := layout.Resources()
		for _, id := range layout.ResourceIDs() {
			opts := base
			opts.Package = resources[id].Package
			sg.Go(func() error { return c.tools.GenerateRJava(gctx, opts) })
		}
		return sg.Wait()
	})
}

// packageAndDex runs resource packaging and dx side by side. Whichever
// fails first is reported with its own stage.
func (c *Coordinator) packageAndDex(ctx context.Context, layout *staging.Layout) error {
	sg, gctx := NewSafeGroup(ctx, c.logger)

	sg.Go(func() error {
		return c.runStage(gctx, StagePackageResources, func(ctx context.Context) error {
			return c.tools.PackageResources(ctx, tools.PackageOptions{
				AndroidManifest: layout.AndroidManifest(),
				AssetsDir:       layout.AssetsDir(),
				ResDirs:         layout.ResourceDirs(),
				BuildJars:       layout.BuildJars(),
				ResPackageApk:   layout.ResPackageApk(),
			})
		})
	})

	sg.Go(func() error {
		return c.runStage(gctx, StageDex, func(ctx context.Context) error {
			return c.tools.Dex(ctx, tools.DexOptions{
				DexFile:    layout.DexFile(),
				ClassesDir: layout.ClassesDir(),
				Jars:       layout.Jars(),
			})
		})
	})

	return sg.Wait()
}

// sign copies the unsigned apk to the signed path and signs the copy, so
// the unsigned apk is never handed to the signer.
func (c *Coordinator) sign(ctx context.Context, layout *staging.Layout) error {
	if err := c.fsu.RemoveIfExists(layout.SignedApk()); err != nil {
		return fmt.Errorf("failed to remove stale %s: %w", layout.SignedApk(), err)
	}
	if err := c.fsu.CopyFile(layout.UnsignedApk(), layout.SignedApk()); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", layout.UnsignedApk(), layout.SignedApk(), err)
	}
	return c.tools.Sign(ctx, layout.SignedApk())
}

// runStage checks for cancellation, runs fn with the stage recorded in its
// context and wraps any failure, including a panic, in *StageError.
func (c *Coordinator) runStage(ctx context.Context, stage Stage, fn func(context.Context) error) (err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &StageError{Stage: stage, Err: ctxErr}
	}

	ctx = bcontext.WithStage(ctx, string(stage))
	log := logger.WithContext(ctx, c.logger)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Stage panic recovered",
				logger.WithField("panic", r),
				logger.WithField("stack_trace", string(debug.Stack())))
			err = fmt.Errorf("stage panic: %v", r)
		}
		if err != nil {
			var se *StageError
			if !errors.As(err, &se) {
				err = &StageError{Stage: stage, Err: err}
			}
			log.Debug("Stage failed", logger.WithField("error", err.Error()))
			return
		}
		log.Debug("Stage complete", logger.WithField("elapsed_ms", time.Since(start).Milliseconds()))
	}()

	log.Debug("Stage started")
	return fn(ctx)
}

func (c *Coordinator) cleanup(layout *staging.Layout, log logger.Logger) {
	for _, path := range layout.Intermediates() {
		if err := c.fsu.RemoveIfExists(path); err != nil {
			log.Warn("Failed to remove intermediate file",
				logger.WithField("path", path),
				logger.WithField("error", err.Error()))
		}
	}
}
