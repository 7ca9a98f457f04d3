package processstate

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesExecutable_OwnProcess(t *testing.T) {
	executable, err := os.Executable()
	require.NoError(t, err)
	ctx := context.Background()

	matched, err := MatchesExecutable(ctx, os.Getpid(), executable, time.Now())
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = MatchesExecutable(ctx, os.Getpid(), executable, time.Time{})
	require.NoError(t, err)
	assert.True(t, matched, "zero time skips the start time check")
}

func TestMatchesExecutable_OtherExecutable(t *testing.T) {
	matched, err := MatchesExecutable(context.Background(), os.Getpid(), "/nonexistent/bin/meilisearch", time.Now())
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestMatchesExecutable_StartedAfterRecord(t *testing.T) {
	executable, err := os.Executable()
	require.NoError(t, err)

	// A record older than the process points at a recycled PID.
	matched, err := MatchesExecutable(context.Background(), os.Getpid(), executable, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestMatchesExecutable_InvalidInput(t *testing.T) {
	_, err := MatchesExecutable(context.Background(), 0, "/bin/sh", time.Time{})
	assert.True(t, errors.IsValidationError(err))

	_, err = MatchesExecutable(context.Background(), os.Getpid(), "", time.Time{})
	assert.True(t, errors.IsValidationError(err))
}
