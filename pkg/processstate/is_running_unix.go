//go:build !windows

package processstate

import (
	"errors"
	"os"
	"syscall"
)

// IsProcessRunning reports whether pid names a live process. EPERM counts as
// alive: the process exists but belongs to someone else.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errInvalidPID
	}

	// FindProcess always succeeds on Unix; signal 0 probes existence.
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false, nil
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false, err
	}
	switch errno {
	case syscall.ESRCH:
		return false, nil
	case syscall.EPERM:
		return true, nil
	}
	return false, err
}
