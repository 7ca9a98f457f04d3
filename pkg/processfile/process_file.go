package processfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"
	"github.com/tullus-labs/SpaceTraveler/pkg/process"
	"github.com/tullus-labs/SpaceTraveler/pkg/processstate"
)

// DefaultDirectoryName is the run-state directory created under the install root.
const DefaultDirectoryName = "run"

// ProcessFileManager keeps one PID file per managed service so that a
// restarted host can recognise instances it spawned in an earlier run.
type ProcessFileManager struct {
	directory string
	logger    logging.Logger
}

func NewProcessFileManager(directory string, logger logging.Logger) *ProcessFileManager {
	return &ProcessFileManager{
		directory: directory,
		logger:    logger,
	}
}

func (m *ProcessFileManager) Directory() string {
	return m.directory
}

func (m *ProcessFileManager) GeneratePIDFilePath(service string) string {
	return filepath.Join(m.directory, service+".pid")
}

// WritePIDFile records pid for service, replacing any previous file.
func (m *ProcessFileManager) WritePIDFile(service string, pid int) error {
	pidFilePath := m.GeneratePIDFilePath(service)
	m.logger.Debugf("Writing PID file, service: %s, pid: %d, path: %s", service, pid, pidFilePath)

	if err := os.MkdirAll(m.directory, 0755); err != nil {
		return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", m.directory)
	}

	tmp := pidFilePath + ".tmp"
	if err := os.WriteFile(tmp, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, service: %s, path: %s, error: %v", service, pidFilePath, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}
	if err := os.Rename(tmp, pidFilePath); err != nil {
		os.Remove(tmp)
		return errors.NewIOError("failed to replace PID file", err).WithContext("pid_file", pidFilePath)
	}

	m.logger.Debugf("PID file written, service: %s, pid: %d", service, pid)
	return nil
}

// ReadPIDFile returns the recorded PID, or a NotFound error if there is none.
func (m *ProcessFileManager) ReadPIDFile(service string) (int, error) {
	pidFilePath := m.GeneratePIDFilePath(service)

	content, err := os.ReadFile(pidFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError("PID file not found", err).WithContext("pid_file", pidFilePath)
		}
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", pidFilePath)
	}

	pid, err := process.ValidatePID(string(content))
	if err != nil {
		m.logger.Warnf("Invalid PID file content, service: %s, path: %s, error: %v", service, pidFilePath, err)
		return 0, err
	}
	return pid, nil
}

// RemovePIDFile deletes the PID file. A missing file is not an error.
func (m *ProcessFileManager) RemovePIDFile(service string) error {
	pidFilePath := m.GeneratePIDFilePath(service)
	if err := os.Remove(pidFilePath); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", pidFilePath)
	}
	return nil
}

// LivePID returns the recorded PID if that process is still alive and,
// when executablePath is set, was launched from it no later than the file
// was written. Stale, malformed or foreign records are removed.
func (m *ProcessFileManager) LivePID(ctx context.Context, service, executablePath string) (int, bool) {
	pid, err := m.ReadPIDFile(service)
	if err != nil {
		if !errors.IsNotFoundError(err) {
			m.RemovePIDFile(service)
		}
		return 0, false
	}

	running, err := processstate.IsProcessRunning(pid)
	if err != nil || !running {
		m.logger.Debugf("Removing stale PID file, service: %s, pid: %d", service, pid)
		m.RemovePIDFile(service)
		return 0, false
	}

	if executablePath == "" {
		return pid, true
	}

	info, err := os.Stat(m.GeneratePIDFilePath(service))
	if err != nil {
		return 0, false
	}
	matched, err := processstate.MatchesExecutable(ctx, pid, executablePath, info.ModTime())
	if err != nil {
		m.logger.Warnf("Cannot verify PID file owner, service: %s, pid: %d, error: %v", service, pid, err)
		return 0, false
	}
	if !matched {
		m.logger.Warnf("PID was reused by another program, removing PID file, service: %s, pid: %d", service, pid)
		m.RemovePIDFile(service)
		return 0, false
	}
	return pid, true
}
