package engine

import (
	"time"

	"github.com/spf13/afero"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/internal/state"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/command"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/interfaces"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/notifier"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/tools"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
)

// FactoryConfig selects the optional dependencies
type FactoryConfig struct {
	// StateRoot is the directory build state is recorded under; empty
	// disables state records
	StateRoot string
	Notify    bool
	// ToolTimeout bounds every tool invocation; zero means no limit
	ToolTimeout time.Duration
	// WorkDir is the working directory tools run in; empty means the
	// current directory
	WorkDir string
}

// DependencyFactory creates default implementations of dependencies.
// This follows the dependency injection pattern and removes hidden
// concrete fallbacks from constructors.
type DependencyFactory struct {
	fs     afero.Fs
	logger logger.Logger
	config FactoryConfig
}

// NewDependencyFactory creates a new dependency factory
func NewDependencyFactory(fs afero.Fs, log logger.Logger, config FactoryConfig) *DependencyFactory {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &DependencyFactory{fs: fs, logger: log, config: config}
}

// CreateDefaults creates all default dependencies for a Generator
func (f *DependencyFactory) CreateDefaults() interfaces.GeneratorDependencies {
	deps := interfaces.GeneratorDependencies{
		Executor:         f.createExecutor(),
		ToolchainFactory: f.createToolchainFactory(),
	}
	if f.config.StateRoot != "" {
		deps.StateManager = state.NewManager(f.fs, f.config.StateRoot, f.logger)
	}
	if f.config.Notify {
		deps.Notifier = notifier.New(notifier.Config{Enabled: true, BeepOnFailure: true}, f.logger)
	}
	return deps
}

// CreateWithOverrides creates dependencies with specific overrides.
// Non-nil overrides replace the defaults.
func (f *DependencyFactory) CreateWithOverrides(overrides interfaces.GeneratorDependencies) interfaces.GeneratorDependencies {
	deps := f.CreateDefaults()

	if overrides.Executor != nil {
		deps.Executor = overrides.Executor
	}
	if overrides.ToolchainFactory != nil {
		deps.ToolchainFactory = overrides.ToolchainFactory
	}
	if overrides.StateManager != nil {
		deps.StateManager = overrides.StateManager
	}
	if overrides.Notifier != nil {
		deps.Notifier = overrides.Notifier
	}

	return deps
}

func (f *DependencyFactory) createExecutor() command.Executor {
	var opts []command.Option
	if f.config.ToolTimeout > 0 {
		opts = append(opts, command.WithTimeout(f.config.ToolTimeout))
	}
	if f.config.WorkDir != "" {
		opts = append(opts, command.WithDir(f.config.WorkDir))
	}
	return command.NewRunner(f.logger, opts...)
}

func (f *DependencyFactory) createToolchainFactory() interfaces.ToolchainFactory {
	return func(cfg types.BuildConfiguration, executor command.Executor) interfaces.Toolchain {
		return tools.New(cfg, executor, tools.WithFs(f.fs), tools.WithLogger(f.logger))
	}
}
