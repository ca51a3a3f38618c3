package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"
)

// ErrNotExist is returned by FileMatcher.Stat for missing paths
var ErrNotExist = errors.New("path does not exist")

// PathInfo describes what lives at a path
type PathInfo struct {
	Path  string
	IsDir bool
	// IsFile is true for anything that is not a directory (regular files,
	// device files, sockets and the targets of symlinks to files).
	IsFile bool
}

// FileMatcher expands glob patterns against a filesystem and reports path
// types. Patterns use '/' or the OS separator; a trailing separator restricts
// matches to directories. Results use OS separators and are sorted.
type FileMatcher struct {
	fs afero.Fs
}

// NewFileMatcher creates a matcher over fs (nil means the OS filesystem)
func NewFileMatcher(fs afero.Fs) *FileMatcher {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileMatcher{fs: fs}
}

// Stat reports whether path is a file or directory
func (m *FileMatcher) Stat(path string) (PathInfo, error) {
	info, err := m.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return PathInfo{Path: path}, fmt.Errorf("%s: %w", path, ErrNotExist)
		}
		return PathInfo{Path: path}, err
	}
	return PathInfo{Path: path, IsDir: info.IsDir(), IsFile: !info.IsDir()}, nil
}

// Glob returns every path below root matching pattern. root is taken
// literally and may contain glob meta characters; only pattern is read as
// a glob. With an empty root the pattern is resolved on its own.
func (m *FileMatcher) Glob(root, pattern string) ([]string, error) {
	slashPattern := filepath.ToSlash(pattern)
	dirsOnly := strings.HasSuffix(slashPattern, "/") && len(slashPattern) > 1
	slashPattern = strings.TrimSuffix(slashPattern, "/")
	if slashPattern == "" && root == "" {
		slashPattern = "/"
	}

	static, rest := splitStatic(slashPattern)
	base := joinBase(filepath.ToSlash(root), static)

	if rest == "" {
		info, err := m.Stat(filepath.FromSlash(base))
		if err != nil {
			if errors.Is(err, ErrNotExist) {
				return nil, nil
			}
			return nil, err
		}
		if dirsOnly && !info.IsDir {
			return nil, nil
		}
		return []string{filepath.FromSlash(base)}, nil
	}

	globs, err := compileVariants(base, rest)
	if err != nil {
		return nil, err
	}

	maxDepth := -1
	if !strings.Contains(rest, "**") {
		maxDepth = strings.Count(rest, "/") + 1
	}

	walkRoot := filepath.FromSlash(base)
	if walkRoot == "" {
		walkRoot = "."
	}

	var matches []string
	walkErr := afero.Walk(m.fs, walkRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == walkRoot && (errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err)) {
				return filepath.SkipDir
			}
			if errors.Is(err, fs.ErrPermission) || os.IsPermission(err) {
				return skipFor(info)
			}
			return err
		}
		if p == walkRoot {
			return nil
		}

		slashPath := filepath.ToSlash(p)
		if base == "" {
			slashPath = strings.TrimPrefix(slashPath, "./")
		}

		if maxDepth >= 0 && info.IsDir() && depth(base, slashPath) >= maxDepth {
			if matchAny(globs, slashPath) {
				matches = append(matches, p)
			}
			return filepath.SkipDir
		}

		if matchAny(globs, slashPath) {
			matches = append(matches, p)
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, filepath.SkipDir) {
		return nil, fmt.Errorf("glob %s: %w", path.Join(base, rest), walkErr)
	}

	if dirsOnly {
		matches = m.keepDirs(matches)
	}

	sort.Strings(matches)
	return matches, nil
}

// keepDirs drops non-directories; symlinks to directories are kept.
func (m *FileMatcher) keepDirs(paths []string) []string {
	out := paths[:0]
	for _, p := range paths {
		if info, err := m.fs.Stat(p); err == nil && info.IsDir() {
			out = append(out, p)
		}
	}
	return out
}

func skipFor(info os.FileInfo) error {
	if info != nil && info.IsDir() {
		return filepath.SkipDir
	}
	return nil
}

// joinBase appends the static pattern prefix to the literal root
func joinBase(root, static string) string {
	switch {
	case root == "":
		return static
	case static == "":
		return path.Clean(root)
	}
	return path.Join(root, static)
}

// splitStatic splits a slash pattern into the leading segments that contain
// no glob meta characters and the remainder.
func splitStatic(pattern string) (string, string) {
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if IsGlobPattern(seg) {
			base := strings.Join(segments[:i], "/")
			if base == "" && i > 0 {
				base = "/"
			}
			return base, strings.Join(segments[i:], "/")
		}
	}
	return pattern, ""
}

func compileVariants(base, rest string) ([]glob.Glob, error) {
	prefix := ""
	switch base {
	case "":
	case "/":
		prefix = "/"
	default:
		prefix = glob.QuoteMeta(base) + "/"
	}

	var globs []glob.Glob
	for _, variant := range ExpandPattern(rest) {
		g, err := glob.Compile(prefix+variant, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", rest, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func matchAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// depth counts the segments of path below base.
func depth(base, path string) int {
	rel := strings.TrimPrefix(path, base)
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return 0
	}
	return strings.Count(rel, "/") + 1
}
