package supervisor

import (
	"time"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/process"
)

// Descriptor is the static definition of one managed service. It is built
// once at startup and never mutated.
type Descriptor struct {
	Name string
	// ProcessName is matched case-insensitively against the OS process
	// table when the host has no better evidence of a running instance.
	// Empty disables the scan.
	ProcessName string
	// Payload is the bundled binary written to InstallPath when absent.
	Payload     []byte
	InstallPath string
	Args        []string
	Environment []string
	Hidden      bool
	Autostart   bool
}

func (d Descriptor) Validate() error {
	if d.Name == "" {
		return errors.NewValidationError("service name is required", nil)
	}
	if d.InstallPath == "" {
		return errors.NewValidationError("install path is required", nil).WithContext("service", d.Name)
	}
	return nil
}

func (d Descriptor) ExecutionConfig() process.ExecutionConfig {
	return process.ExecutionConfig{
		ExecutablePath: d.InstallPath,
		Args:           d.Args,
		Environment:    d.Environment,
		Hidden:         d.Hidden,
	}
}

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
	StatusFailed     Status = "failed"
)

// Handle is a point-in-time snapshot of a supervised service.
type Handle struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
	PID    int    `json:"pid,omitempty"`
	// Tracked is false when the running instance was found by the process
	// table scan and the host holds no handle to it.
	Tracked   bool      `json:"tracked"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// StatusObserver is notified on every status transition. It is called with
// the supervisor's lock held and must not call back into the supervisor.
type StatusObserver interface {
	ServiceStatusChanged(name string, status Status)
}
