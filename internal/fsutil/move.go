package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// MoveFile renames src to dst. When the two sit on different devices it
// falls back to copy+fsync+remove; directories are not copied across
// devices.
func MoveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	st, serr := os.Lstat(src)
	if serr != nil {
		return serr
	}
	if !st.Mode().IsRegular() {
		return fmt.Errorf("cross-device move of %s: %w", st.Mode().Type(), err)
	}
	if err2 := copyFile(src, dst, st.Mode().Perm()); err2 != nil {
		return fmt.Errorf("move: rename=%v copy=%w", err, err2)
	}
	return os.Remove(src)
}

// copyFile writes src into a temp file beside dst and renames it into
// place, so dst is never observed half-written.
func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fileroom-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}
