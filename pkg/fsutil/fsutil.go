// Package fsutil holds small filesystem helpers shared by the collector and
// the local object store.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// DirPerm is the mode used for directories created while staging.
const DirPerm os.FileMode = 0o755

// MkdirParent creates the parent directory of path.
func MkdirParent(fs afero.Fs, path string) error {
	if err := fs.MkdirAll(filepath.Dir(path), DirPerm); err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	return nil
}

// CopyFile copies src to dst, creating dst's parent directories. Permission
// bits and the modification time of src are carried over to dst.
func CopyFile(fs afero.Fs, src, dst string) error {
	info, err := fs.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	if err := MkdirParent(fs, dst); err != nil {
		return err
	}

	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	if err := WriteFrom(fs, dst, in, info.Mode().Perm()); err != nil {
		return err
	}

	if err := fs.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("setting times on %s: %w", dst, err)
	}

	return nil
}

// WriteFrom writes the contents of r to path, truncating any existing file.
func WriteFrom(fs afero.Fs, path string, r io.Reader, perm os.FileMode) error {
	out, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()

		return fmt.Errorf("writing %s: %w", path, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}

	return nil
}

// IsRegular reports whether path is a regular file, following symlinks.
func IsRegular(fs afero.Fs, path string, info os.FileInfo) bool {
	if info.Mode().IsRegular() {
		return true
	}

	if info.Mode()&os.ModeSymlink == 0 {
		return false
	}

	target, err := fs.Stat(path)
	if err != nil {
		return false
	}

	return target.Mode().IsRegular()
}
