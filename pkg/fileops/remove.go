package fileops

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// EnsureDirectoryExists creates path and any missing parents with 0755.
func EnsureDirectoryExists(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// ForceRemoveAll deletes path and everything below it. Read-only entries
// (git marks pack files 0444) are made writable first so the removal also
// succeeds on platforms where permissions block unlinking.
func ForceRemoveAll(path string) error {
	if err := os.RemoveAll(path); err == nil {
		return nil
	}

	_ = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		_ = os.Chmod(p, info.Mode()|0o200)
		return nil
	})

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// RemoveAllQuietly is ForceRemoveAll with the error discarded. It reports
// whether path is gone afterwards.
func RemoveAllQuietly(path string) bool {
	_ = ForceRemoveAll(path)
	_, err := os.Lstat(path)
	return os.IsNotExist(err)
}

// IsEmptyDir reports whether dir exists and has no entries.
func IsEmptyDir(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}
