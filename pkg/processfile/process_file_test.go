package processfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ProcessFileMockLogger is a no-op Logger for tests.
type ProcessFileMockLogger struct{}

func (m *ProcessFileMockLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (m *ProcessFileMockLogger) Debugf(format string, args ...interface{})               {}
func (m *ProcessFileMockLogger) Infof(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Warnf(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Errorf(format string, args ...interface{})               {}

func newTestManager(t *testing.T) *ProcessFileManager {
	return NewProcessFileManager(filepath.Join(t.TempDir(), DefaultDirectoryName), &ProcessFileMockLogger{})
}

func TestGeneratePIDFilePath(t *testing.T) {
	manager := NewProcessFileManager(filepath.Join("root", "run"), &ProcessFileMockLogger{})
	assert.Equal(t, filepath.Join("root", "run", "alpha.pid"), manager.GeneratePIDFilePath("alpha"))
}

func TestWriteAndReadPIDFile(t *testing.T) {
	manager := newTestManager(t)

	require.NoError(t, manager.WritePIDFile("alpha", 4242))

	pid, err := manager.ReadPIDFile("alpha")
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	require.NoError(t, manager.WritePIDFile("alpha", 4343))
	pid, err = manager.ReadPIDFile("alpha")
	require.NoError(t, err)
	assert.Equal(t, 4343, pid)
}

func TestReadPIDFile_Missing(t *testing.T) {
	manager := newTestManager(t)

	_, err := manager.ReadPIDFile("absent")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRemovePIDFile_Idempotent(t *testing.T) {
	manager := newTestManager(t)

	require.NoError(t, manager.WritePIDFile("alpha", 1))
	require.NoError(t, manager.RemovePIDFile("alpha"))
	require.NoError(t, manager.RemovePIDFile("alpha"))

	_, err := os.Stat(manager.GeneratePIDFilePath("alpha"))
	assert.True(t, os.IsNotExist(err))
}

func TestLivePID(t *testing.T) {
	manager := newTestManager(t)

	require.NoError(t, manager.WritePIDFile("self", os.Getpid()))
	pid, alive := manager.LivePID(context.Background(), "self", "")
	assert.True(t, alive)
	assert.Equal(t, os.Getpid(), pid)

	_, alive = manager.LivePID(context.Background(), "absent", "")
	assert.False(t, alive)
}

func TestLivePID_RemovesMalformedFile(t *testing.T) {
	manager := newTestManager(t)

	require.NoError(t, os.MkdirAll(manager.Directory(), 0755))
	path := manager.GeneratePIDFilePath("broken")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0644))

	_, alive := manager.LivePID(context.Background(), "broken", "")
	assert.False(t, alive)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLivePID_VerifiesExecutable(t *testing.T) {
	manager := newTestManager(t)
	executable, err := os.Executable()
	require.NoError(t, err)

	require.NoError(t, manager.WritePIDFile("self", os.Getpid()))
	pid, alive := manager.LivePID(context.Background(), "self", executable)
	assert.True(t, alive)
	assert.Equal(t, os.Getpid(), pid)
}

func TestLivePID_RemovesRecordOfForeignProcess(t *testing.T) {
	manager := newTestManager(t)

	// The recorded PID is alive but runs some other program.
	require.NoError(t, manager.WritePIDFile("alpha", os.Getpid()))
	_, alive := manager.LivePID(context.Background(), "alpha", filepath.Join(t.TempDir(), "alpha"))
	assert.False(t, alive)

	_, err := os.Stat(manager.GeneratePIDFilePath("alpha"))
	assert.True(t, os.IsNotExist(err))
}
