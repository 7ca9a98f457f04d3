//go:build !windows

package process

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"
	"github.com/tullus-labs/SpaceTraveler/pkg/processstate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sleeper.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 30\n"), mode))
	return path
}

func TestSpawnAndKill(t *testing.T) {
	path := writeScript(t, 0755)

	cmd, err := Spawn(context.Background(), ExecutionConfig{ExecutablePath: path}, "sleeper", logging.NewNopLogger())
	require.NoError(t, err)
	require.NotNil(t, cmd.Process)

	running, err := processstate.IsProcessRunning(cmd.Process.Pid)
	require.NoError(t, err)
	assert.True(t, running)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	require.NoError(t, Kill(cmd.Process))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Kill")
	}

	assert.NoError(t, Kill(cmd.Process), "killing an exited process is a no-op")
}

func TestSpawn_PermissionDenied(t *testing.T) {
	path := writeScript(t, 0644)

	_, err := Spawn(context.Background(), ExecutionConfig{ExecutablePath: path}, "sleeper", logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsSpawnError(err))
	assert.True(t, errors.IsPermissionError(err))
}

func TestSpawn_MissingBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent")

	_, err := Spawn(context.Background(), ExecutionConfig{ExecutablePath: path}, "absent", logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsSpawnError(err))
}

func TestSpawn_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Spawn(ctx, ExecutionConfig{ExecutablePath: "/bin/true"}, "cancelled", logging.NewNopLogger())
	assert.True(t, errors.IsCancelledError(err))
}
