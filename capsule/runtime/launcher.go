package runtime

import (
	"fmt"
	"os/exec"

	log "github.com/sirupsen/logrus"

	"github.com/cloudydesk/provisioning/shared/status"
)

// Launcher starts the product installer without waiting for it. The product
// installer may leave a long running service behind, so its exit is never
// awaited.
type Launcher interface {
	Start(dir, executable string, args []string) error
}

// ExecLauncher starts the installer as a detached process
type ExecLauncher struct{}

func (ExecLauncher) Start(dir, executable string, args []string) error {
	cmd := exec.Command(executable, args...)
	cmd.Dir = dir
	setDetachedProcAttr(cmd)

	log.Infof("starting installer %s", executable)
	if err := cmd.Start(); err != nil {
		return status.Wrap(status.InstallerInvocationFailed, "install", fmt.Errorf("start %s: %w", executable, err))
	}

	log.Infof("installer started with PID %d", cmd.Process.Pid)
	if err := cmd.Process.Release(); err != nil {
		log.Warnf("failed to release installer process: %v", err)
	}
	return nil
}
