//go:build windows

package cache

import (
	"os"

	"golang.org/x/sys/windows"
)

// lockFile takes a blocking exclusive LockFileEx lock on f, the Windows
// analog of lock_unix.go's flock(2).
func lockFile(f *os.File) error {
	ol := new(windows.Overlapped)

	return windows.LockFileEx(windows.Handle(f.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, ol)
}

// unlockFile releases the lock taken by lockFile.
func unlockFile(f *os.File) error {
	ol := new(windows.Overlapped)

	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol)
}
