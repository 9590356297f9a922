//go:build windows

package filesystem

import (
	"os"

	"golang.org/x/sys/windows"
)

// lockFile locks the first byte of f. The lock is released when f is closed.
func lockFile(f *os.File, exclusive bool) error {
	var flags uint32
	if exclusive {
		flags = windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	return windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, 1, 0, new(windows.Overlapped))
}
