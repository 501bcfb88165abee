//go:build linux

package installer

import (
	"os"

	"golang.org/x/sys/unix"
)

// tryReflink attempts a copy-on-write clone of src onto a freshly created
// dst via the FICLONE ioctl. It only succeeds on filesystems that support
// reflinks (btrfs, xfs with reflink=1, overlayfs in some configurations);
// any other error falls back silently to a full copy.
func tryReflink(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode()&0o777)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	return unix.IoctlFileClone(int(out.Fd()), int(in.Fd()))
}
