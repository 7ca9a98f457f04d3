package installer

import (
	"os"
	"path/filepath"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"
)

// EnsureInstalled writes payload to path unless a file is already there.
// An existing file is never overwritten and never version-checked. It
// reports whether a new file was written.
func EnsureInstalled(path string, payload []byte, logger logging.Logger) (bool, error) {
	if path == "" {
		return false, errors.NewInstallError("install path is empty", nil)
	}

	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return false, errors.NewInstallError("install path is a directory", nil).WithContext("path", path)
		}
		logger.Debugf("Payload already installed, path: %s", path)
		return false, nil
	}
	if !os.IsNotExist(err) {
		return false, errors.NewInstallError("failed to inspect install path", err).WithContext("path", path)
	}

	if len(payload) == 0 {
		return false, errors.NewInstallError("payload is empty", nil).WithContext("path", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, errors.NewInstallError("failed to create install directory", err).WithContext("directory", dir)
	}

	// Write beside the target and link it in so a crash never leaves a
	// truncated binary that a later run would treat as installed.
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return false, errors.NewInstallError("failed to create temporary payload file", err).WithContext("directory", dir)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return false, errors.NewInstallError("failed to write payload", err).WithContext("path", path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return false, errors.NewInstallError("failed to flush payload", err).WithContext("path", path)
	}
	if err := os.Chmod(tmpPath, 0755); err != nil {
		os.Remove(tmpPath)
		return false, errors.NewInstallError("failed to mark payload executable", err).WithContext("path", path)
	}
	placed, err := placePayload(tmpPath, path)
	if err != nil {
		return false, err
	}
	if !placed {
		logger.Debugf("Payload installed concurrently, keeping existing file, path: %s", path)
		return false, nil
	}

	logger.Infof("Installed payload, path: %s, size: %d", path, len(payload))
	return true, nil
}

// placePayload hard-links the finished temporary file to path, failing if
// anything already exists there, and removes the temporary name. It reports
// false when another writer got there first.
func placePayload(tmpPath, path string) (bool, error) {
	defer os.Remove(tmpPath)

	if err := os.Link(tmpPath, path); err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, errors.NewInstallError("failed to move payload into place", err).WithContext("path", path)
	}
	return true, nil
}
