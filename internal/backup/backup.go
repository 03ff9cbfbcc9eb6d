// Package backup mirrors original files into a backup tree under the
// project root and copies them back on restore.
package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"imgslim/internal/fsutil"
)

// ErrUnsafeDir is returned when the backup directory is not a proper
// subdirectory of the root, or a backup path lands on the original itself.
var ErrUnsafeDir = errors.New("unsafe backup directory")

type Archiver struct {
	root string
	dir  string
}

// New returns an Archiver storing copies under root/dirName. root must be
// absolute.
func New(root, dirName string) *Archiver {
	return &Archiver{root: root, dir: filepath.Join(root, dirName)}
}

// Dir is the absolute backup directory.
func (a *Archiver) Dir() string {
	return a.dir
}

// Destination maps an original under root to its mirrored backup path.
func (a *Archiver) Destination(original string) (string, error) {
	if dirRel, err := filepath.Rel(a.root, a.dir); err != nil || !isBelow(dirRel) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeDir, a.dir)
	}
	rel, err := filepath.Rel(a.root, original)
	if err != nil {
		return "", err
	}
	if !isBelow(rel) {
		return "", fmt.Errorf("%s is outside %s", original, a.root)
	}
	return filepath.Join(a.dir, rel), nil
}

// isBelow reports whether a Rel result names something strictly inside
// its base.
func isBelow(rel string) bool {
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Archive copies original into the backup tree. An existing backup is never
// overwritten; copied is false in that case. On success the copy has been
// synced to disk.
func (a *Archiver) Archive(original string) (dest string, copied bool, err error) {
	dest, err = a.Destination(original)
	if err != nil {
		return "", false, err
	}

	srcInfo, err := os.Stat(original)
	if err != nil {
		return dest, false, err
	}
	if destInfo, statErr := os.Stat(dest); statErr == nil {
		if os.SameFile(srcInfo, destInfo) {
			return dest, false, fmt.Errorf("%w: %s is the original itself", ErrUnsafeDir, dest)
		}
		return dest, false, nil
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return dest, false, statErr
	}

	if err := copyFile(original, dest); err != nil {
		return dest, false, fmt.Errorf("backup %s: %w", original, err)
	}
	return dest, true, nil
}

// Restored describes one file put back by Restore.
type Restored struct {
	Original  string
	Converted string
	Removed   bool
}

// Restore copies every file in the backup tree back to its original
// location and removes the converted sibling (same base name, targetExt)
// when present. The backup tree itself is left in place.
func (a *Archiver) Restore(targetExt string) ([]Restored, error) {
	var restored []Restored

	if dirRel, err := filepath.Rel(a.root, a.dir); err != nil || !isBelow(dirRel) {
		return nil, fmt.Errorf("%w: %s", ErrUnsafeDir, a.dir)
	}
	if _, err := os.Stat(a.dir); err != nil {
		return nil, err
	}

	err := filepath.WalkDir(a.dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(a.dir, p)
		if err != nil {
			return err
		}
		original := filepath.Join(a.root, rel)
		if err := copyFile(p, original); err != nil {
			return fmt.Errorf("restore %s: %w", rel, err)
		}

		entry := Restored{
			Original:  original,
			Converted: strings.TrimSuffix(original, filepath.Ext(original)) + targetExt,
		}
		if err := os.Remove(entry.Converted); err == nil {
			entry.Removed = true
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		restored = append(restored, entry)
		return nil
	})
	return restored, err
}

// copyFile writes src to dst through a synced temp file in dst's directory,
// then carries over the source mode and modification time.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	err = fsutil.WriteAtomic(dst, info.Mode().Perm(), func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
	if err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
