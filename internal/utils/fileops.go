package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteFile writes data to a file, creating directories as needed
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}

// EnsureDir ensures a directory exists, creating it if necessary
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists reports whether path exists and is a regular file
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// RemoveStale deletes a file or directory left over from an earlier run.
// A missing path is not an error.
func RemoveStale(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove stale %s: %w", path, err)
	}
	return nil
}

// IsWithin reports whether target is dir itself or lies below it
func IsWithin(dir, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
