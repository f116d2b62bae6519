//go:build linux || darwin || freebsd

package fsutil

import "golang.org/x/sys/unix"

// FreeBytes returns the bytes available to unprivileged users on the
// filesystem holding dir, or -1 when unknown.
func FreeBytes(dir string) int64 {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return -1
	}
	return int64(st.Bavail) * int64(st.Bsize)
}
