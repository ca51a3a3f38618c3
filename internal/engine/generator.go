package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	bcontext "github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/context"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/command"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/interfaces"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/staging"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/tools"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/utils"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/validation"
)

// DefaultBuildDirName is the directory under os.TempDir() builds are staged in
const DefaultBuildDirName = "xwalk-apk-gen"

// ErrBuildInProgress is returned when the same app is already being built
var ErrBuildInProgress = errors.New("a build of this app is already in progress")

// Request describes one apk build
type Request struct {
	Config types.BuildConfiguration
	App    types.AppConfig
	// BuildDir is where the app is staged; defaults to
	// os.TempDir()/xwalk-apk-gen/<sanitised name>
	BuildDir string
	// OutDir receives a copy of the final apk when set
	OutDir string
}

// Result describes a successful build
type Result struct {
	BuildID  string
	App      types.AppConfig
	Apk      string
	Layout   *staging.Layout
	Duration time.Duration
}

// Generator turns an app and a resolved configuration into an apk: it
// prepares the app, stages it, runs the Coordinator and records the outcome
type Generator struct {
	fsu       *utils.FileSystemUtils
	logger    logger.Logger
	executor  command.Executor
	newTools  interfaces.ToolchainFactory
	state     interfaces.StateManager
	notifier  interfaces.BuildNotifier
	validator *validation.AppValidator
	stager    *staging.Stager

	cleanupOnFailure bool
	maxParallel      int

	mu       sync.Mutex
	building map[string]bool
}

// GeneratorOption configures a Generator
type GeneratorOption func(*Generator)

// WithCleanup removes intermediates of failed builds
func WithCleanup(enabled bool) GeneratorOption {
	return func(g *Generator) { g.cleanupOnFailure = enabled }
}

// WithJobs caps how many R.java generations a build runs at once; zero
// keeps the coordinator default
func WithJobs(n int) GeneratorOption {
	return func(g *Generator) { g.maxParallel = n }
}

// NewGenerator creates a generator working on fs (nil means the OS
// filesystem). StateManager and Notifier are optional; a nil Executor or
// ToolchainFactory gets the production implementation.
func NewGenerator(fs afero.Fs, log logger.Logger, deps interfaces.GeneratorDependencies, opts ...GeneratorOption) (*Generator, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logger.Discard()
	}

	stager, err := staging.NewStager(fs, log)
	if err != nil {
		return nil, err
	}

	g := &Generator{
		fsu:       utils.NewFileSystemUtils(fs),
		logger:    log.WithComponent("generator"),
		executor:  deps.Executor,
		newTools:  deps.ToolchainFactory,
		state:     deps.StateManager,
		notifier:  deps.Notifier,
		validator: validation.NewAppValidator(fs),
		stager:    stager,
		building:  make(map[string]bool),
	}
	if g.executor == nil {
		g.executor = command.NewRunner(log)
	}
	if g.newTools == nil {
		g.newTools = func(cfg types.BuildConfiguration, executor command.Executor) interfaces.Toolchain {
			return tools.New(cfg, executor, tools.WithFs(fs), tools.WithLogger(log))
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// DefaultBuildDir returns the staging directory used for app when the
// request does not name one
func DefaultBuildDir(app string) string {
	return filepath.Join(os.TempDir(), DefaultBuildDirName, app)
}

// Generate builds the apk described by req
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	app, result, err := g.validator.Prepare(req.App)
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings() {
		g.logger.Warn(w.Message, logger.WithField("field", w.Field))
	}

	name := app.SanitisedName
	if err := g.acquire(name); err != nil {
		return nil, err
	}
	defer g.release(name)

	ctx = bcontext.WithApp(bcontext.EnrichContext(ctx), name)
	log := logger.WithContext(ctx, g.logger)

	started, _ := bcontext.GetStartTime(ctx)
	record := types.BuildRecord{
		BuildID:   bcontext.GetBuildID(ctx),
		App:       name,
		Arch:      req.Config.Arch,
		StartedAt: started,
	}
	if g.state != nil {
		if err := g.state.Begin(record); err != nil {
			log.Warn("Failed to update build state", logger.WithField("error", err.Error()))
		}
	}
	if g.notifier != nil {
		g.notifier.NotifyBuildStart(name)
	}

	apk, layout, err := g.build(ctx, req, app)
	record.Duration = time.Since(record.StartedAt)

	g.finish(log, record, apk, err)
	if err != nil {
		return nil, err
	}

	log.Success(fmt.Sprintf("Built %s", apk), logger.WithField("duration_ms", record.Duration.Milliseconds()))
	return &Result{
		BuildID:  record.BuildID,
		App:      app,
		Apk:      apk,
		Layout:   layout,
		Duration: record.Duration,
	}, nil
}

func (g *Generator) build(ctx context.Context, req Request, app types.AppConfig) (string, *staging.Layout, error) {
	buildDir := req.BuildDir
	if buildDir == "" {
		buildDir = DefaultBuildDir(app.SanitisedName)
	}

	layout, err := staging.ForBuild(app, req.Config, buildDir)
	if err != nil {
		return "", nil, err
	}
	if err := g.stager.Stage(ctx, app, req.Config.AndroidAPILevel, layout); err != nil {
		return "", layout, err
	}

	coordinator := NewCoordinator(
		g.newTools(req.Config, g.executor),
		g.logger,
		WithFs(g.fsu.Fs()),
		WithCleanupOnFailure(g.cleanupOnFailure),
		WithMaxParallel(g.maxParallel),
	)
	apk, err := coordinator.Build(ctx, req.Config, layout)
	if err != nil {
		return "", layout, err
	}

	if req.OutDir == "" || filepath.Clean(req.OutDir) == filepath.Dir(apk) {
		return apk, layout, nil
	}

	out := filepath.Join(req.OutDir, filepath.Base(apk))
	if err := g.fsu.CopyFile(apk, out); err != nil {
		return "", layout, fmt.Errorf("failed to copy apk to %s: %w", req.OutDir, err)
	}
	return out, layout, nil
}

func (g *Generator) finish(log logger.Logger, record types.BuildRecord, apk string, err error) {
	var stageErr *StageError
	switch {
	case err == nil:
		record.Status = types.BuildStatusSucceeded
		record.OutputApk = apk
	case errors.Is(err, context.Canceled):
		record.Status = types.BuildStatusCancelled
		record.Error = err.Error()
	default:
		record.Status = types.BuildStatusFailed
		record.Error = err.Error()
	}
	if errors.As(err, &stageErr) {
		record.Stage = string(stageErr.Stage)
	}

	if g.state != nil {
		if serr := g.state.Finish(record); serr != nil {
			log.Warn("Failed to update build state", logger.WithField("error", serr.Error()))
		}
	}

	if g.notifier == nil {
		return
	}
	if err != nil {
		g.notifier.NotifyBuildFailure(record.App, err)
		return
	}
	g.notifier.NotifyBuildSuccess(record.App, apk, record.Duration)
}

func (g *Generator) acquire(app string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.building[app] {
		return fmt.Errorf("%s: %w", app, ErrBuildInProgress)
	}
	if g.state != nil {
		locked, err := g.state.IsLocked(app)
		if err != nil {
			g.logger.Warn("Failed to read build state", logger.WithField("error", err.Error()))
		} else if locked {
			return fmt.Errorf("%s: %w", app, ErrBuildInProgress)
		}
	}
	g.building[app] = true
	return nil
}

func (g *Generator) release(app string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.building, app)
}
