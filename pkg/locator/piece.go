// Package locator finds toolchain files, executables and resource
// directories inside loosely structured SDK trees.
//
// A search request is a set of named pieces. Each piece is first looked for
// in a handful of likely ("guess") directories and, failing that, by a
// recursive search under the root. Every path tried is recorded so that a
// failed search can tell the operator exactly where it looked.
package locator

import "fmt"

// PieceKind identifies the shape of a piece
type PieceKind int

const (
	KindSingleFile PieceKind = iota + 1
	KindExecutable
	KindDirectoryGroup
	KindResourceBundle
)

func (k PieceKind) String() string {
	switch k {
	case KindSingleFile:
		return "file"
	case KindExecutable:
		return "executable"
	case KindDirectoryGroup:
		return "directory"
	case KindResourceBundle:
		return "resource-bundle"
	default:
		return fmt.Sprintf("PieceKind(%d)", int(k))
	}
}

// Piece is one of SingleFile, Executable, DirectoryGroup or ResourceBundle.
type Piece interface {
	Kind() PieceKind
	isPiece()
}

// SingleFile looks for the first of Files (most preferred first), trying
// each GuessDirs entry relative to the root before searching recursively.
// Guess directories may contain glob patterns such as "build-tools/19*".
type SingleFile struct {
	Files     []string
	GuessDirs []string
	// TieBreak picks among several matches. When set, every guess directory
	// is tried for a filename and the tie-break chooses among all the hits;
	// when nil, the first guess directory with a hit wins and LastSorted
	// picks among its matches.
	TieBreak TieBreak
}

// Executable is a SingleFile whose candidate names are derived from Name
// for the target platform (see BinaryNames).
type Executable struct {
	Name      string
	GuessDirs []string
	TieBreak  TieBreak
}

// DirectoryGroup locates the relative directory Dir anywhere under the
// root. Several matches with a nil TieBreak is an ambiguity failure.
type DirectoryGroup struct {
	Dir      string
	TieBreak TieBreak
}

// ResourceBundle resolves every ResDirs and Libs entry as a directory; the
// bundle resolves only if all of them do.
type ResourceBundle struct {
	ResDirs []string
	Libs    []string
	Package string
}

func (SingleFile) Kind() PieceKind     { return KindSingleFile }
func (Executable) Kind() PieceKind     { return KindExecutable }
func (DirectoryGroup) Kind() PieceKind { return KindDirectoryGroup }
func (ResourceBundle) Kind() PieceKind { return KindResourceBundle }

func (SingleFile) isPiece()     {}
func (Executable) isPiece()     {}
func (DirectoryGroup) isPiece() {}
func (ResourceBundle) isPiece() {}

// ResolvedBundle holds the concrete directories of a ResourceBundle
type ResolvedBundle struct {
	ResDirs []string
	Libs    []string
	Package string
}

// Resolved is the outcome for one piece. Exactly one of Path (files,
// executables, directories) or Bundle is set on success; Err is set when
// the piece could not be resolved.
type Resolved struct {
	Name       string
	Kind       PieceKind
	Path       string
	Candidates []string
	Bundle     *ResolvedBundle
	Attempts   []Attempt
	Err        error
}

// Found reports whether the piece resolved
func (r Resolved) Found() bool {
	return r.Err == nil
}

// SearchResult maps piece names to their outcome
type SearchResult map[string]Resolved

// Paths returns name -> path for every resolved file, executable or
// directory piece.
func (s SearchResult) Paths() map[string]string {
	out := make(map[string]string, len(s))
	for name, r := range s {
		if r.Found() && r.Bundle == nil {
			out[name] = r.Path
		}
	}
	return out
}

// AttemptKind says how a location was tried
type AttemptKind string

const (
	AttemptGuess AttemptKind = "guess"
	AttemptGlob  AttemptKind = "glob"
)

// Attempt is one location or pattern the locator tried
type Attempt struct {
	Kind    AttemptKind
	Pattern string
	Matches int
}

func (a Attempt) String() string {
	return fmt.Sprintf("%s %s (%d matches)", a.Kind, a.Pattern, a.Matches)
}
