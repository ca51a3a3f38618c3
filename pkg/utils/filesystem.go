// Package utils provides filesystem and path matching helpers shared by the
// locator, the staging area and the build coordinator.
package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// FileSystemUtils provides file system operations on top of an afero.Fs
type FileSystemUtils struct {
	fs afero.Fs
}

// NewFileSystemUtils creates a new filesystem utils instance. A nil fs means
// the real operating system filesystem.
func NewFileSystemUtils(fs afero.Fs) *FileSystemUtils {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileSystemUtils{fs: fs}
}

// Fs returns the underlying filesystem
func (f *FileSystemUtils) Fs() afero.Fs {
	return f.fs
}

// Exists checks if a path exists
func (f *FileSystemUtils) Exists(path string) bool {
	_, err := f.fs.Stat(path)
	return err == nil
}

// IsDirectory checks if a path is a directory
func (f *FileSystemUtils) IsDirectory(path string) bool {
	info, err := f.fs.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// IsFile checks if a path is a regular file
func (f *FileSystemUtils) IsFile(path string) bool {
	info, err := f.fs.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// CreateDirectory creates a directory with all parents
func (f *FileSystemUtils) CreateDirectory(path string) error {
	return f.fs.MkdirAll(path, 0o755)
}

// RemoveAll removes a path and all its contents
func (f *FileSystemUtils) RemoveAll(path string) error {
	return f.fs.RemoveAll(path)
}

// RemoveIfExists removes a single file, ignoring a missing one
func (f *FileSystemUtils) RemoveIfExists(path string) error {
	err := f.fs.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CopyFile copies a file from src to dst, creating parent directories
func (f *FileSystemUtils) CopyFile(src, dst string) error {
	sourceFile, err := f.fs.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	sourceInfo, err := sourceFile.Stat()
	if err != nil {
		return err
	}

	if err := f.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	destFile, err := f.fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, sourceInfo.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return err
	}
	return destFile.Close()
}

// CopyDirectory copies src into dst recursively. skip is consulted with the
// slash-separated path relative to src; returning true leaves the entry (and,
// for directories, its contents) out of the copy.
func (f *FileSystemUtils) CopyDirectory(src, dst string, skip func(rel string, isDir bool) bool) error {
	return afero.Walk(f.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && skip != nil && skip(filepath.ToSlash(rel), info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return f.fs.MkdirAll(target, 0o755)
		}
		return f.CopyFile(path, target)
	})
}

// ReadFile reads the entire file
func (f *FileSystemUtils) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(f.fs, path)
}

// WriteFile writes data to a file atomically using a temp file and rename
func (f *FileSystemUtils) WriteFile(path string, data []byte) error {
	if err := f.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tempFile := path + ".tmp"
	if err := afero.WriteFile(f.fs, tempFile, data, 0o644); err != nil {
		return err
	}
	return f.fs.Rename(tempFile, path)
}

// FindFiles returns every regular file under root whose base name matches
// pattern (filepath.Match syntax), sorted.
func (f *FileSystemUtils) FindFiles(root string, pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	var matches []string
	err := afero.Walk(f.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(matches)
	return matches, nil
}

// GetFileSize returns the size of a file
func (f *FileSystemUtils) GetFileSize(path string) (int64, error) {
	info, err := f.fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
