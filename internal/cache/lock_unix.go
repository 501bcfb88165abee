//go:build unix

package cache

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes a blocking exclusive flock(2) on f.
func lockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}

// unlockFile releases the flock(2) taken by lockFile.
func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
