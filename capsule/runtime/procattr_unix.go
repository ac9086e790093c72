//go:build unix

package runtime

import (
	"os/exec"
	"syscall"
)

// setDetachedProcAttr runs the installer in its own session
func setDetachedProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
