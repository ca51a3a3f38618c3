// Package interfaces provides abstractions for dependency injection and testability
package interfaces

import (
	"context"
	"time"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/command"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/tools"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
)

// Toolchain is the set of external tool invocations a build needs.
// *tools.Toolchain is the production implementation.
type Toolchain interface {
	GenerateRJava(ctx context.Context, opts tools.RJavaOptions) error
	Compile(ctx context.Context, opts tools.CompileOptions) error
	PackageResources(ctx context.Context, opts tools.PackageOptions) error
	Dex(ctx context.Context, opts tools.DexOptions) error
	PackageUnsigned(ctx context.Context, opts tools.UnsignedOptions) error
	// Sign signs apk in place
	Sign(ctx context.Context, apk string) error
	Align(ctx context.Context, signed, final string) error
}

var _ Toolchain = (*tools.Toolchain)(nil)

// ToolchainFactory creates the toolchain for one resolved configuration
type ToolchainFactory func(cfg types.BuildConfiguration, executor command.Executor) Toolchain

// StateManager records the outcome of builds
type StateManager interface {
	Begin(record types.BuildRecord) error
	Finish(record types.BuildRecord) error
	IsLocked(app string) (bool, error)
}

// BuildNotifier handles build notifications
type BuildNotifier interface {
	NotifyBuildStart(app string)
	NotifyBuildSuccess(app, apk string, duration time.Duration)
	NotifyBuildFailure(app string, err error)
}

// FileChange represents a changed file under a watched root
type FileChange struct {
	Name   string
	Exists bool
}

// FileChangeCallback is called with a settled batch of changes
type FileChangeCallback func(files []FileChange)

// GeneratorDependencies contains all injectable dependencies of a Generator
type GeneratorDependencies struct {
	Executor         command.Executor
	ToolchainFactory ToolchainFactory
	StateManager     StateManager
	Notifier         BuildNotifier
}
