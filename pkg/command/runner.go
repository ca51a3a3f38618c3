// Package command runs external programs from shell-style command lines and
// reports failures with the captured output.
package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"

	bcontext "github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/context"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
)

// Executor runs one command line to completion
type Executor interface {
	Run(ctx context.Context, commandLine string) (Result, error)
}

// Result is the outcome of a successful command
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Output returns stdout followed by stderr
func (r Result) Output() string {
	return r.Stdout + r.Stderr
}

// Runner executes commands with os/exec
type Runner struct {
	logger  logger.Logger
	dir     string
	env     map[string]string
	timeout time.Duration
	logMu   sync.Mutex
	logOut  io.Writer
}

// Option configures a Runner
type Option func(*Runner)

// WithDir sets the working directory of every command
func WithDir(dir string) Option {
	return func(r *Runner) { r.dir = dir }
}

// WithEnv adds environment variables on top of the current process env
func WithEnv(env map[string]string) Option {
	return func(r *Runner) {
		if r.env == nil {
			r.env = make(map[string]string, len(env))
		}
		for k, v := range env {
			r.env[k] = v
		}
	}
}

// WithTimeout bounds every command; zero means no limit
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithLogWriter tees every command line and its output into w
func WithLogWriter(w io.Writer) Option {
	return func(r *Runner) { r.logOut = w }
}

// NewRunner creates a Runner
func NewRunner(log logger.Logger, opts ...Option) *Runner {
	if log == nil {
		log = logger.Discard()
	}
	r := &Runner{logger: log.WithComponent("exec")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join quotes args into a single command line that Run splits back into the
// same argument vector.
func Join(args ...string) string {
	return shellquote.Join(args...)
}

// Run executes commandLine. A non-zero exit, a failure to start, or a
// cancelled context returns *Error carrying the command and its output.
func (r *Runner) Run(ctx context.Context, commandLine string) (Result, error) {
	args, err := shellquote.Split(commandLine)
	if err != nil {
		return Result{}, &Error{Command: commandLine, ExitCode: -1, Err: fmt.Errorf("parse command line: %w", err)}
	}
	if len(args) == 0 {
		return Result{}, &Error{Command: commandLine, ExitCode: -1, Err: ErrEmptyCommand}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = r.dir
	if len(r.env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range r.env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	r.logger.Debug("running", append(contextFields(ctx), logger.WithField("command", commandLine))...)

	runErr := cmd.Run()
	result := Result{
		Command:  commandLine,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	r.writeLog(result, runErr)

	if runErr != nil {
		cause := runErr
		if ctxErr := ctx.Err(); ctxErr != nil {
			cause = fmt.Errorf("%w: %v", ctxErr, runErr)
		}
		cmdErr := &Error{
			Command:  commandLine,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			ExitCode: exitCode(runErr),
			Err:      cause,
		}
		r.logger.Debug("command failed",
			append(contextFields(ctx),
				logger.WithField("command", commandLine),
				logger.WithField("exit_code", cmdErr.ExitCode),
				logger.WithField("duration", result.Duration.Round(time.Millisecond)),
			)...)
		return result, cmdErr
	}

	r.logger.Debug("finished",
		append(contextFields(ctx),
			logger.WithField("command", args[0]),
			logger.WithField("duration", result.Duration.Round(time.Millisecond)),
		)...)
	return result, nil
}

// RunArgs quotes args and runs them as one command line
func (r *Runner) RunArgs(ctx context.Context, args ...string) (Result, error) {
	return r.Run(ctx, Join(args...))
}

func (r *Runner) writeLog(result Result, err error) {
	if r.logOut == nil {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\n", result.Command)
	b.WriteString(result.Stdout)
	b.WriteString(result.Stderr)
	if err != nil {
		fmt.Fprintf(&b, "=== FAILED after %s: %v ===\n", result.Duration.Round(time.Millisecond), err)
	} else {
		fmt.Fprintf(&b, "=== OK after %s ===\n", result.Duration.Round(time.Millisecond))
	}

	r.logMu.Lock()
	defer r.logMu.Unlock()
	_, _ = io.WriteString(r.logOut, b.String())
}

func contextFields(ctx context.Context) []logger.Field {
	if !bcontext.HasBuildID(ctx) {
		return nil
	}
	return []logger.Field{
		logger.WithField("build_id", bcontext.GetBuildID(ctx)),
		logger.WithField("stage", bcontext.GetStage(ctx)),
	}
}

func exitCode(err error) int {
	type exitCoder interface {
		ExitCode() int
	}
	if ec, ok := err.(exitCoder); ok {
		return ec.ExitCode()
	}
	return -1
}
