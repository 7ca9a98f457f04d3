package processstate

import (
	"context"
	"strings"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"

	"github.com/shirou/gopsutil/v3/process"
)

var errInvalidPID = errors.NewValidationError("invalid PID", nil)

// Scanner looks for a running process by name. The match is a heuristic:
// it can report unrelated processes whose name happens to contain the
// pattern, and miss a service whose executable was renamed.
type Scanner interface {
	FindByName(ctx context.Context, pattern string) (int, bool, error)
}

// NameScanner walks the OS process table through gopsutil and matches
// process names case-insensitively by substring.
type NameScanner struct {
	// ExcludePIDs are never reported, typically the host's own PID.
	ExcludePIDs []int
}

func NewNameScanner(excludePIDs ...int) *NameScanner {
	return &NameScanner{ExcludePIDs: excludePIDs}
}

// FindByName returns the PID of the first process whose name contains
// pattern, ignoring case.
func (s *NameScanner) FindByName(ctx context.Context, pattern string) (int, bool, error) {
	if pattern == "" {
		return 0, false, errors.NewValidationError("process name pattern cannot be empty", nil)
	}

	processes, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, false, errors.NewProcessError("failed to list processes", err)
	}

	needle := strings.ToLower(pattern)
	for _, p := range processes {
		if s.excluded(int(p.Pid)) {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Exited between listing and lookup, or inaccessible.
			continue
		}
		if MatchName(name, needle) {
			return int(p.Pid), true, nil
		}
	}
	return 0, false, nil
}

func (s *NameScanner) excluded(pid int) bool {
	for _, excluded := range s.ExcludePIDs {
		if excluded == pid {
			return true
		}
	}
	return false
}

// MatchName is the substring rule used by NameScanner.
func MatchName(name, pattern string) bool {
	return strings.Contains(strings.ToLower(name), strings.ToLower(pattern))
}
