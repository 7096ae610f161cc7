// Package durablefile provides the crash-safe single-file write primitive
// shared by the gateway's approval and idempotency file stores:
// write-to-temp, fsync, rename, with
// an exclusive flock held across the operation and a best-effort backup of
// the previous contents.
package durablefile

import (
	"fmt"
	"os"
)

// Write atomically replaces path's contents with data. It takes an
// exclusive lock on path+".lock" for the duration of the write, copies the
// previous contents to path+".bak" (best effort; a missing previous file is
// not an error), writes to path+".tmp" with the given permission bits,
// fsyncs, renames over path, and then applies perm to path. On a failure
// before the rename the temp file is removed and the original path is left
// untouched; a failure of the final chmod is returned after the new
// contents are already in place.
func Write(path string, data []byte, perm os.FileMode) error {
	lockPath := path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	if prev, readErr := os.ReadFile(path); readErr == nil {
		_ = os.WriteFile(path+".bak", prev, perm)
	}

	return writeAtomic(path, data, perm)
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return os.Chmod(path, perm)
}

// CreateExclusive creates path with O_CREATE|O_EXCL semantics, writing data
// only if the file does not already exist. It reports os.IsExist(err) as
// the "already present" signal idempotency/approval create-if-absent logic
// depends on.
func CreateExclusive(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(path)
		return err
	}
	return f.Sync()
}
