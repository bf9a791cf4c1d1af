// Package fileutil writes files and directories that only their owner can
// read, using Unix modes on POSIX systems and a DACL on Windows.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// SecureWriteFile atomically replaces path with data. The temp file lives
// beside path so the final rename never crosses filesystems, and readers see
// either the old or the new content.
func SecureWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := restrict(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	committed = true
	return nil
}

// SecureMkdirAll creates a directory path and all parents that do not yet
// exist, then applies perm to the final directory.
func SecureMkdirAll(path string, perm os.FileMode) error {
	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}
	return restrict(path, perm)
}
