//go:build windows

package processstate

import (
	"syscall"
)

const (
	stillActive                    = 259
	processQueryLimitedInformation = 0x1000
)

// IsProcessRunning reports whether pid names a live process by reading its
// exit code; STILL_ACTIVE means it has not exited.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errInvalidPID
	}

	handle, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		// Gone, or not ours to look at.
		return false, nil
	}
	defer syscall.CloseHandle(handle)

	var exitCode uint32
	if err := syscall.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false, err
	}
	return exitCode == stillActive, nil
}
