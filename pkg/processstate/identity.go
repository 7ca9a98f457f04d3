package processstate

import (
	"context"
	"path/filepath"
	"time"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"

	"github.com/shirou/gopsutil/v3/process"
)

// createTimeSlack absorbs the coarse boot-time rounding in process start
// times and the filesystem's mtime granularity.
const createTimeSlack = 2 * time.Second

// MatchesExecutable reports whether pid is a process launched from
// executablePath and started no later than notAfter. A zero notAfter skips
// the start time check. Interpreted payloads match on their script
// argument, since their executable is the interpreter.
func MatchesExecutable(ctx context.Context, pid int, executablePath string, notAfter time.Time) (bool, error) {
	if pid <= 0 {
		return false, errInvalidPID
	}
	if executablePath == "" {
		return false, errors.NewValidationError("executable path cannot be empty", nil)
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if err == process.ErrorProcessNotRunning {
			return false, nil
		}
		return false, errors.NewProcessError("failed to inspect process", err).WithContext("pid", pid)
	}

	if !notAfter.IsZero() {
		createdMillis, err := p.CreateTimeWithContext(ctx)
		if err != nil {
			return false, errors.NewProcessError("failed to read process start time", err).WithContext("pid", pid)
		}
		if time.UnixMilli(createdMillis).After(notAfter.Add(createTimeSlack)) {
			return false, nil
		}
	}

	return launchedFrom(ctx, p, executablePath), nil
}

func launchedFrom(ctx context.Context, p *process.Process, executablePath string) bool {
	want := filepath.Clean(executablePath)

	if exe, err := p.ExeWithContext(ctx); err == nil && exe != "" {
		if samePath(exe, want) {
			return true
		}
	}

	args, err := p.CmdlineSliceWithContext(ctx)
	if err != nil {
		return false
	}
	for _, arg := range args {
		if samePath(arg, want) {
			return true
		}
	}
	return false
}

func samePath(candidate, want string) bool {
	candidate = filepath.Clean(candidate)
	if candidate == want {
		return true
	}
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return false
	}
	wantResolved, err := filepath.EvalSymlinks(want)
	if err != nil {
		return false
	}
	return resolved == wantResolved
}
