//go:build !windows

package fileutil

import "os"

// restrict sets the exact mode, undoing the process umask.
func restrict(path string, perm os.FileMode) error {
	return os.Chmod(path, perm)
}
