package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
)

// SafeGroup wraps errgroup.Group and turns a panicking stage goroutine into
// an error instead of taking the process down.
type SafeGroup struct {
	group  *errgroup.Group
	logger logger.Logger
}

// NewSafeGroup creates a SafeGroup whose context is cancelled on the first
// error
func NewSafeGroup(ctx context.Context, log logger.Logger) (*SafeGroup, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	if log == nil {
		log = logger.Discard()
	}
	return &SafeGroup{
		group:  g,
		logger: log,
	}, ctx
}

// Go runs fn in a new goroutine. A panic is logged with its stack trace and
// returned as the goroutine's error.
func (sg *SafeGroup) Go(fn func() error) {
	sg.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				sg.logger.Error("Goroutine panic recovered",
					logger.WithField("panic", r),
					logger.WithField("stack_trace", string(debug.Stack())))
				err = fmt.Errorf("goroutine panic: %v", r)
			}
		}()

		return fn()
	})
}

// SetLimit caps the number of goroutines running at once
func (sg *SafeGroup) SetLimit(n int) {
	sg.group.SetLimit(n)
}

// Wait blocks until every goroutine has returned and reports the first error
func (sg *SafeGroup) Wait() error {
	return sg.group.Wait()
}
