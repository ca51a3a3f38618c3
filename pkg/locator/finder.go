package locator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/command"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/utils"
)

// PathMatcher expands glob patterns and reports what lives at a path.
// Glob reads root literally and only pattern as a glob.
type PathMatcher interface {
	Glob(root, pattern string) ([]string, error)
	Stat(path string) (utils.PathInfo, error)
}

// Finder locates pieces and checks executables
type Finder struct {
	matcher  PathMatcher
	executor command.Executor
	platform string
	logger   logger.Logger
	workers  int
}

// Option configures a Finder
type Option func(*Finder)

// WithPlatform overrides the target platform used to derive executable
// names (a GOOS value such as "windows" or "linux").
func WithPlatform(goos string) Option {
	return func(f *Finder) { f.platform = goos }
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(f *Finder) { f.logger = log }
}

// WithConcurrency bounds how many pieces LocatePieces resolves at once
func WithConcurrency(n int) Option {
	return func(f *Finder) { f.workers = n }
}

// New creates a Finder
func New(matcher PathMatcher, executor command.Executor, opts ...Option) *Finder {
	f := &Finder{
		matcher:  matcher,
		executor: executor,
		platform: runtime.GOOS,
		workers:  runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logger.Discard()
	}
	f.logger = f.logger.WithComponent("locator")
	return f
}

// BinaryNames lists the likely file names of an executable on goos, most
// likely first.
func BinaryNames(name, goos string) []string {
	if strings.HasPrefix(goos, "win") {
		return []string{name + ".exe", name + ".bat", name}
	}
	return []string{name}
}

// CheckIsFile reports whether p is a file. A p that exists is taken as
// is; otherwise, if p contains glob characters, it is expanded and tieBreak
// (LastSorted when nil) picks among the files that match.
func (f *Finder) CheckIsFile(p string, tieBreak TieBreak) (string, bool, error) {
	return f.checkPath(p, tieBreak, isFile)
}

// CheckIsDirectory reports whether p is a directory, expanding globs like
// CheckIsFile.
func (f *Finder) CheckIsDirectory(p string, tieBreak TieBreak) (string, bool, error) {
	return f.checkPath(p, tieBreak, isDir)
}

func isFile(info utils.PathInfo) bool { return info.IsFile }
func isDir(info utils.PathInfo) bool  { return info.IsDir }

func (f *Finder) checkPath(p string, tieBreak TieBreak, want func(utils.PathInfo) bool) (string, bool, error) {
	if p == "" {
		return "", false, errors.New("could not check path as it was not set")
	}

	info, err := f.matcher.Stat(p)
	switch {
	case err == nil && want(info):
		return p, true, nil
	case err != nil && !errors.Is(err, utils.ErrNotExist):
		return "", false, err
	}

	if !utils.IsGlobPattern(p) {
		return "", false, nil
	}
	matches, err := f.matcher.Glob("", p)
	if err != nil {
		return "", false, err
	}
	return f.pick(matches, tieBreak, want)
}

// checkUnder checks rel below the literal directory root. Only rel may
// contain glob characters.
func (f *Finder) checkUnder(root, rel string, tieBreak TieBreak, want func(utils.PathInfo) bool) (string, bool, error) {
	if !utils.IsGlobPattern(rel) {
		return f.pick([]string{filepath.Join(root, rel)}, tieBreak, want)
	}
	matches, err := f.matcher.Glob(root, filepath.ToSlash(rel))
	if err != nil {
		return "", false, err
	}
	return f.pick(matches, tieBreak, want)
}

// pick keeps the candidates of the wanted type and applies tieBreak
func (f *Finder) pick(candidates []string, tieBreak TieBreak, want func(utils.PathInfo) bool) (string, bool, error) {
	if tieBreak == nil {
		tieBreak = LastSorted
	}

	var hits []string
	for _, c := range candidates {
		info, err := f.matcher.Stat(c)
		if err != nil {
			if errors.Is(err, utils.ErrNotExist) {
				continue
			}
			return "", false, err
		}
		if want(info) {
			hits = append(hits, c)
		}
	}

	if len(hits) == 0 {
		return "", false, nil
	}
	return tieBreak(hits), true, nil
}

// GlobFiles returns every path named name at any depth under root. With
// isDir only directories are returned.
func (f *Finder) GlobFiles(ctx context.Context, root, name string, isDir bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.matcher.Glob(root, recursivePattern(name, isDir))
}

func recursivePattern(name string, isDir bool) string {
	pattern := path.Join("**", filepath.ToSlash(name))
	if isDir {
		pattern += "/"
	}
	return pattern
}

// globPattern is the recursive search as recorded in attempts
func globPattern(root, name string, isDir bool) string {
	pattern := path.Join(filepath.ToSlash(root), "**", filepath.ToSlash(name))
	if isDir {
		pattern += "/"
	}
	return pattern
}

// FindFile tries every guess directory for each name in order (all guess
// directories for the first name, then the second name, and so on), then
// falls back to a recursive search per name. attempts receives every
// location tried.
func (f *Finder) FindFile(ctx context.Context, root string, guessDirs, names []string, tieBreak TieBreak) (string, []Attempt, error) {
	var attempts []Attempt

	for _, name := range names {
		var hits []string
		for _, dir := range guessDirs {
			if err := ctx.Err(); err != nil {
				return "", attempts, err
			}

			guess := filepath.Join(root, dir, name)
			found, ok, err := f.checkUnder(root, filepath.Join(dir, name), tieBreak, isFile)
			if err != nil {
				return "", attempts, err
			}
			attempts = append(attempts, Attempt{Kind: AttemptGuess, Pattern: guess, Matches: boolToInt(ok)})
			if !ok {
				continue
			}
			if tieBreak == nil {
				return found, attempts, nil
			}
			hits = append(hits, found)
		}
		if len(hits) > 0 {
			return tieBreak(hits), attempts, nil
		}
	}

	chooser := tieBreak
	if chooser == nil {
		chooser = LastSorted
	}

	for _, name := range names {
		matches, err := f.GlobFiles(ctx, root, name, false)
		if err != nil {
			return "", attempts, err
		}
		files, err := f.onlyFiles(matches)
		if err != nil {
			return "", attempts, err
		}
		attempts = append(attempts, Attempt{Kind: AttemptGlob, Pattern: globPattern(root, name, false), Matches: len(files)})
		if len(files) > 0 {
			return chooser(files), attempts, nil
		}
	}

	return "", attempts, ErrNotFound
}

func (f *Finder) onlyFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := f.matcher.Stat(p)
		if err != nil {
			if errors.Is(err, utils.ErrNotExist) {
				continue
			}
			return nil, err
		}
		if info.IsFile {
			files = append(files, p)
		}
	}
	return files, nil
}

// FindDirectory searches root recursively for the relative directory dir.
// It returns the chosen directory with exactly one trailing separator and
// all directory matches. No match is ErrNotFound; several matches with a
// nil tieBreak is an *AmbiguousError.
func (f *Finder) FindDirectory(ctx context.Context, root, dir string, tieBreak TieBreak) (string, []string, []Attempt, error) {
	matches, err := f.GlobFiles(ctx, root, dir, true)
	if err != nil {
		return "", nil, nil, err
	}

	var dirs []string
	for _, m := range matches {
		info, err := f.matcher.Stat(m)
		if err != nil {
			if errors.Is(err, utils.ErrNotExist) {
				continue
			}
			return "", nil, nil, err
		}
		if info.IsDir {
			dirs = append(dirs, withTrailingSeparator(m))
		}
	}

	attempts := []Attempt{{Kind: AttemptGlob, Pattern: globPattern(root, dir, true), Matches: len(dirs)}}

	switch {
	case len(dirs) == 0:
		return "", nil, attempts, ErrNotFound
	case len(dirs) == 1:
		return dirs[0], dirs, attempts, nil
	case tieBreak == nil:
		return "", dirs, attempts, &AmbiguousError{Piece: dir, Candidates: dirs}
	default:
		return withTrailingSeparator(tieBreak(dirs)), dirs, attempts, nil
	}
}

func withTrailingSeparator(p string) string {
	trimmed := strings.TrimRight(p, `/\`)
	if trimmed == "" {
		return string(os.PathSeparator)
	}
	return trimmed + string(os.PathSeparator)
}

// CheckExecutable runs exe with args and verifies it works: the command
// must exit zero (unless tolerateExit is set, in which case a non-zero exit
// is accepted when the output still matches) and its combined output must
// match required when given. It returns the command output.
func (f *Finder) CheckExecutable(ctx context.Context, exe string, args []string, required *regexp.Regexp, tolerateExit bool) (string, error) {
	line := command.Join(append([]string{exe}, args...)...)

	res, err := f.executor.Run(ctx, line)
	if err == nil {
		out := res.Output()
		if required != nil && !required.MatchString(out) {
			return "", &ExecutableCheckError{Executable: exe, Output: out, Required: required}
		}
		return out, nil
	}

	var cmdErr *command.Error
	if !tolerateExit || !errors.As(err, &cmdErr) || cmdErr.ExitCode < 0 {
		return "", &ExecutableCheckError{Executable: exe, Err: err}
	}

	out := cmdErr.Output()
	if required != nil && !required.MatchString(out) {
		return "", &ExecutableCheckError{Executable: exe, Output: out, Required: required, Err: err}
	}

	f.logger.Debug("accepting non-zero exit", logger.WithField("executable", exe), logger.WithField("exit_code", cmdErr.ExitCode))
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func describe(name string, p Piece) string {
	return fmt.Sprintf("%s (%s)", name, p.Kind())
}
