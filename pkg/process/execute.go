package process

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"
)

// ExecutionConfig describes how a managed service binary is launched.
type ExecutionConfig struct {
	ExecutablePath   string   `yaml:"executable_path"`
	Args             []string `yaml:"args,omitempty"`
	Environment      []string `yaml:"environment,omitempty"`
	WorkingDirectory string   `yaml:"working_directory,omitempty"`
	// Hidden suppresses the console window on platforms that have one.
	Hidden bool `yaml:"hidden,omitempty"`
}

// Spawn starts the configured executable as an independent child process.
// Its stdio is not captured. The child is not bound to ctx: cancelling ctx
// only aborts a spawn that has not happened yet.
func Spawn(ctx context.Context, execution ExecutionConfig, id string, logger logging.Logger) (*exec.Cmd, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("spawn cancelled", err).WithContext("id", id)
	}

	if err := ValidateExecutionConfig(execution); err != nil {
		logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
		return nil, errors.NewSpawnError("invalid execution configuration", err).
			WithContext("id", id).
			WithContext("executable_path", execution.ExecutablePath)
	}

	if err := checkExecutable(execution.ExecutablePath); err != nil {
		return nil, errors.NewSpawnError("executable is not runnable", err).
			WithContext("id", id).
			WithContext("executable_path", execution.ExecutablePath)
	}

	workDir := execution.WorkingDirectory
	if workDir == "" {
		absPath, err := filepath.Abs(execution.ExecutablePath)
		if err != nil {
			return nil, errors.NewSpawnError("failed to get absolute path", err).WithContext("id", id)
		}
		workDir = filepath.Dir(absPath)
	}

	logger.Debugf("Spawning process, id: %s, executable path: '%s', args: %v, working directory: '%s', hidden: %t",
		id, execution.ExecutablePath, execution.Args, workDir, execution.Hidden)

	cmd := exec.Command(execution.ExecutablePath, execution.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), execution.Environment...)

	setupProcessAttributes(cmd, execution.Hidden)

	if err := cmd.Start(); err != nil {
		logger.Errorf("Failed to spawn process, id: %s, error: %v", id, err)
		return nil, errors.NewSpawnError("failed to start the process", err).
			WithContext("id", id).
			WithContext("executable_path", execution.ExecutablePath)
	}

	logger.Infof("Spawned process, id: %s, PID: %d", id, cmd.Process.Pid)
	return cmd, nil
}

// checkExecutable rejects files without any execute bit. On Windows the
// extension decides, so only existence is checked there.
func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("executable does not exist", err).WithContext("path", path)
	}
	if info.IsDir() {
		return errors.NewValidationError("executable path is a directory", nil).WithContext("path", path)
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	if info.Mode()&0111 == 0 {
		return errors.NewPermissionError("permission denied", os.ErrPermission).
			WithContext("path", path).
			WithContext("mode", info.Mode().String())
	}
	return nil
}
