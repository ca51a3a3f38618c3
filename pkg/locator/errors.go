package locator

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrNotFound is matched by every "piece could not be found" error
	ErrNotFound = errors.New("not found")

	// ErrAmbiguous is matched when several directories match and no
	// tie-break was supplied
	ErrAmbiguous = errors.New("ambiguous match")

	// ErrUnknownPiece is returned for a Piece implementation this package
	// does not know how to resolve
	ErrUnknownPiece = errors.New("unknown piece type")
)

// NotFoundError reports a piece that could not be found, with every
// location tried.
type NotFoundError struct {
	Piece    string
	Root     string
	Attempts []Attempt
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("could not find %s under %s (tried %d locations)", e.Piece, e.Root, len(e.Attempts))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AmbiguousError reports several matching directories with no tie-break
type AmbiguousError struct {
	Piece      string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous result for %s - multiple matches:\n%s", e.Piece, strings.Join(e.Candidates, "\n"))
}

func (e *AmbiguousError) Unwrap() error { return ErrAmbiguous }

// LocateError is returned by LocatePieces when at least one piece did not
// resolve. Missing maps each unresolved piece to its attempts; Causes keeps
// the per-piece error.
type LocateError struct {
	Root    string
	Missing map[string][]Attempt
	Causes  map[string]error
}

// Names returns the unresolved piece names, sorted
func (e *LocateError) Names() []string {
	names := make([]string, 0, len(e.Missing))
	for name := range e.Missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *LocateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "could not find all required locations under %s", e.Root)
	for _, name := range e.Names() {
		fmt.Fprintf(&b, "\n%s: %v", name, e.Causes[name])
		for _, a := range e.Missing[name] {
			fmt.Fprintf(&b, "\n  %s", a)
		}
	}
	return b.String()
}

// Is lets errors.Is match ErrNotFound or ErrAmbiguous when any missing
// piece failed for that reason.
func (e *LocateError) Is(target error) bool {
	for _, cause := range e.Causes {
		if errors.Is(cause, target) {
			return true
		}
	}
	return false
}

// ExecutableCheckError reports a tool whose output did not look right
type ExecutableCheckError struct {
	Executable string
	Output     string
	Required   *regexp.Regexp
	Err        error
}

func (e *ExecutableCheckError) Error() string {
	if e.Err != nil && e.Required == nil {
		return fmt.Sprintf("%s is not a working executable: %v", e.Executable, e.Err)
	}
	msg := fmt.Sprintf("output from %s did not match required pattern %s", e.Executable, e.Required)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ":\n" + out
	}
	return msg
}

func (e *ExecutableCheckError) Unwrap() error { return e.Err }
