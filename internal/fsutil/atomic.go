// Package fsutil has the write-through-temp-file helpers shared by the
// backup, transcode and markup steps.
package fsutil

import (
	"io"
	"os"
	"path/filepath"
)

// WriteAtomic streams write into a temp file next to dest, syncs it and
// renames it over dest. dest is untouched if write fails.
func WriteAtomic(dest string, perm os.FileMode, write func(io.Writer) error) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".imgslim-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return ReplaceFile(tmp.Name(), dest)
}

// ReplaceFile renames tmpPath to destPath, removing destPath first on
// platforms where rename does not overwrite.
func ReplaceFile(tmpPath, destPath string) error {
	if err := os.Rename(tmpPath, destPath); err == nil {
		return nil
	}
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(tmpPath, destPath)
}
