// Package context carries build tracing values (build ID, stage, start time)
// through context.Context.
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Context keys for build tracing.
// Using unexported struct pointers prevents key collisions.
var (
	buildIDKey   = &struct{}{}
	appKey       = &struct{}{}
	stageKey     = &struct{}{}
	startTimeKey = &struct{}{}
)

const (
	unknownBuild = "unknown-build"
	unknownApp   = "unknown-app"
	unknownStage = "unknown-stage"
)

// WithBuildID adds a build ID to the context, generating one when empty
func WithBuildID(parent context.Context, buildID string) context.Context {
	if buildID == "" {
		buildID = GenerateBuildID()
	}
	return context.WithValue(parent, buildIDKey, buildID)
}

// GetBuildID retrieves the build ID from context
func GetBuildID(ctx context.Context) string {
	if id, ok := ctx.Value(buildIDKey).(string); ok && id != "" {
		return id
	}
	return unknownBuild
}

// HasBuildID reports whether a build ID was attached to ctx
func HasBuildID(ctx context.Context) bool {
	return GetBuildID(ctx) != unknownBuild
}

// WithApp records the application being packaged
func WithApp(parent context.Context, app string) context.Context {
	return context.WithValue(parent, appKey, app)
}

// GetApp retrieves the application name from context
func GetApp(ctx context.Context) string {
	if app, ok := ctx.Value(appKey).(string); ok && app != "" {
		return app
	}
	return unknownApp
}

// WithStage adds the current build stage to the context
func WithStage(parent context.Context, stage string) context.Context {
	return context.WithValue(parent, stageKey, stage)
}

// GetStage retrieves the current build stage from context
func GetStage(ctx context.Context) string {
	if s, ok := ctx.Value(stageKey).(string); ok && s != "" {
		return s
	}
	return unknownStage
}

// WithStartTime adds the operation start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// GetStartTime retrieves the operation start time from context.
// The second result is false when no start time was recorded.
func GetStartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startTimeKey).(time.Time)
	return t, ok
}

// GetDuration returns the time elapsed since the recorded start time, or
// zero when none was recorded.
func GetDuration(ctx context.Context) time.Duration {
	start, ok := GetStartTime(ctx)
	if !ok {
		return 0
	}
	return time.Since(start)
}

// GenerateBuildID creates a new unique build ID
func GenerateBuildID() string {
	return "build_" + uuid.New().String()
}

// EnrichContext adds a build ID (if missing) and a fresh start time
func EnrichContext(parent context.Context) context.Context {
	ctx := parent
	if !HasBuildID(ctx) {
		ctx = WithBuildID(ctx, "")
	}
	return WithStartTime(ctx, time.Now())
}

