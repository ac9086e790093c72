package util

import (
	"golang.org/x/sys/windows"
)

// IsAdmin returns true if the process token is elevated
func IsAdmin() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
