//go:build !linux

package installer

// tryReflink always fails on platforms with no FICLONE-equivalent wired up,
// so linkOrCopy falls straight to a full copy.
func tryReflink(_, _ string) error {
	return errReflinkUnsupported
}
