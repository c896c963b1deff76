//go:build !windows

// Package fileutil creates msgctl's config, keyring and cache files with
// owner-only access. On Unix the mode bits are enough; on Windows
// owner-only modes also get a DACL that admits only the current user.
package fileutil

import "os"

// SecureWriteFile writes data to path with the given mode.
func SecureWriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

// SecureMkdirAll creates path and any missing parents with the given mode.
func SecureMkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// SecureChmod sets the mode of an existing file, such as a database that
// SQLite created with the process umask.
func SecureChmod(path string, perm os.FileMode) error {
	return os.Chmod(path, perm)
}
