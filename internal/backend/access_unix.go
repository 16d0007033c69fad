//go:build !windows

package backend

import (
	"os"

	"golang.org/x/sys/unix"
)

// checkExecutable asks the kernel whether the current user may execute path,
// which accounts for ownership and ACLs rather than just the mode bits.
func checkExecutable(path string, _ os.FileInfo) error {
	return unix.Access(path, unix.X_OK)
}
