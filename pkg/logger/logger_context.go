package logger

import (
	"context"

	bcontext "github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/context"
)

// LoggerContext extends the Logger interface with context-aware methods.
type LoggerContext interface {
	Logger
	InfoContext(ctx context.Context, message string, fields ...Field)
	ErrorContext(ctx context.Context, message string, fields ...Field)
	WarnContext(ctx context.Context, message string, fields ...Field)
	DebugContext(ctx context.Context, message string, fields ...Field)
	SuccessContext(ctx context.Context, message string, fields ...Field)
}

var _ LoggerContext = (*ComponentLogger)(nil)

// InfoContext logs an info message with build tracing fields
func (l *ComponentLogger) InfoContext(ctx context.Context, message string, fields ...Field) {
	l.Info(message, append(contextFields(ctx), fields...)...)
}

// ErrorContext logs an error message with build tracing fields
func (l *ComponentLogger) ErrorContext(ctx context.Context, message string, fields ...Field) {
	l.Error(message, append(contextFields(ctx), fields...)...)
}

// WarnContext logs a warning message with build tracing fields
func (l *ComponentLogger) WarnContext(ctx context.Context, message string, fields ...Field) {
	l.Warn(message, append(contextFields(ctx), fields...)...)
}

// DebugContext logs a debug message with build tracing fields
func (l *ComponentLogger) DebugContext(ctx context.Context, message string, fields ...Field) {
	l.Debug(message, append(contextFields(ctx), fields...)...)
}

// SuccessContext logs a success message with build tracing fields
func (l *ComponentLogger) SuccessContext(ctx context.Context, message string, fields ...Field) {
	l.Success(message, append(contextFields(ctx), fields...)...)
}

func contextFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field
	if bcontext.HasBuildID(ctx) {
		fields = append(fields, WithField("build_id", bcontext.GetBuildID(ctx)))
	}
	if app := bcontext.GetApp(ctx); app != "unknown-app" {
		fields = append(fields, WithField("app", app))
	}
	if stage := bcontext.GetStage(ctx); stage != "unknown-stage" {
		fields = append(fields, WithField("stage", stage))
	}
	if duration := bcontext.GetDuration(ctx); duration > 0 {
		fields = append(fields, WithField("duration_ms", duration.Milliseconds()))
	}
	return fields
}

// WithContext creates a logger that automatically includes context fields
func WithContext(ctx context.Context, logger Logger) Logger {
	if ctx == nil {
		return logger
	}
	return &contextualLogger{ctx: ctx, logger: logger}
}

type contextualLogger struct {
	ctx    context.Context
	logger Logger
}

func (cl *contextualLogger) Info(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.InfoContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Info(message, fields...)
	}
}

func (cl *contextualLogger) Error(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.ErrorContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Error(message, fields...)
	}
}

func (cl *contextualLogger) Warn(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.WarnContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Warn(message, fields...)
	}
}

func (cl *contextualLogger) Debug(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.DebugContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Debug(message, fields...)
	}
}

func (cl *contextualLogger) Success(message string, fields ...Field) {
	if lc, ok := cl.logger.(LoggerContext); ok {
		lc.SuccessContext(cl.ctx, message, fields...)
	} else {
		cl.logger.Success(message, fields...)
	}
}

func (cl *contextualLogger) WithComponent(component string) Logger {
	return &contextualLogger{
		ctx:    cl.ctx,
		logger: cl.logger.WithComponent(component),
	}
}
