package processstate

import (
	"context"
	"os"
	"testing"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchName(t *testing.T) {
	tests := []struct {
		name     string
		process  string
		pattern  string
		expected bool
	}{
		{"exact", "task_observer.exe", "task_observer", true},
		{"case insensitive", "Meilisearch.EXE", "meilisearch", true},
		{"substring", "blazzy-daemon", "blazzy", true},
		{"no match", "bash", "blazzy", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MatchName(tt.process, tt.pattern))
		})
	}
}

func TestNameScanner_FindsOwnProcess(t *testing.T) {
	self, err := process.NewProcess(int32(os.Getpid()))
	require.NoError(t, err)
	name, err := self.Name()
	require.NoError(t, err)

	pid, found, err := NewNameScanner().FindByName(context.Background(), name)
	require.NoError(t, err)
	assert.True(t, found)
	assert.NotZero(t, pid)
}

func TestNameScanner_ExcludesPIDs(t *testing.T) {
	scanner := NewNameScanner(os.Getpid())
	assert.True(t, scanner.excluded(os.Getpid()))
	assert.False(t, scanner.excluded(os.Getpid()+1))
}

func TestNameScanner_EmptyPattern(t *testing.T) {
	_, found, err := NewNameScanner().FindByName(context.Background(), "")
	assert.False(t, found)
	assert.True(t, errors.IsValidationError(err))
}

func TestIsProcessRunning(t *testing.T) {
	running, err := IsProcessRunning(os.Getpid())
	require.NoError(t, err)
	assert.True(t, running)

	_, err = IsProcessRunning(0)
	assert.Error(t, err)
}
