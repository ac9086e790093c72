//go:build !windows

package util

import "os"

// RestrictDir limits dir to its owner
func RestrictDir(dir string) error {
	return os.Chmod(dir, 0o700)
}
