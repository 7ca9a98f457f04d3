//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

const createNoWindow = 0x08000000

func setupProcessAttributes(cmd *exec.Cmd, hidden bool) {
	flags := uint32(syscall.CREATE_NEW_PROCESS_GROUP)
	if hidden {
		flags |= createNoWindow
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: flags,
		HideWindow:    hidden,
	}
}

// Kill terminates the process with TerminateProcess.
func Kill(process *os.Process) error {
	if process == nil {
		return nil
	}
	err := process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
