//go:build !windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// Unix has no console window; hidden is ignored. The child gets its own
// process group so Kill reaches anything it forks.
func setupProcessAttributes(cmd *exec.Cmd, hidden bool) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// Kill sends SIGKILL to the child's process group, falling back to the
// process itself when the group is already gone.
func Kill(process *os.Process) error {
	if process == nil {
		return nil
	}
	err := syscall.Kill(-process.Pid, syscall.SIGKILL)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ESRCH) || errors.Is(err, syscall.EPERM) {
		err = process.Kill()
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
	}
	return err
}
