package command

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyCommand is returned when a command line has no words
var ErrEmptyCommand = errors.New("empty command line")

// Error describes a command that could not be run or exited non-zero
type Error struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Output returns stdout followed by stderr
func (e *Error) Output() string {
	return e.Stdout + e.Stderr
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command failed: %s", e.Command)
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, "\nexit code: %d", e.ExitCode)
	} else if e.Err != nil {
		fmt.Fprintf(&b, "\nerror: %v", e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, "\nstderr:\n%s", s)
	}
	if s := strings.TrimSpace(e.Stdout); s != "" {
		fmt.Fprintf(&b, "\nstdout:\n%s", s)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}
