//go:build windows

package fsutil

import "golang.org/x/sys/windows"

// FreeBytes returns the bytes available to the caller on the volume holding
// dir, or -1 when unknown.
func FreeBytes(dir string) int64 {
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return -1
	}
	var avail, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(p, &avail, &total, &free); err != nil {
		return -1
	}
	return int64(avail)
}
