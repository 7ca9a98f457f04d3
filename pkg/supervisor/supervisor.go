package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/installer"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"
	"github.com/tullus-labs/SpaceTraveler/pkg/process"
	"github.com/tullus-labs/SpaceTraveler/pkg/processfile"
	"github.com/tullus-labs/SpaceTraveler/pkg/processstate"
)

const (
	defaultStopTimeout  = 5 * time.Second
	adoptedPollInterval = 100 * time.Millisecond
)

type Options struct {
	// PIDFiles records spawned PIDs so a later host run can adopt them.
	// Nil disables PID files.
	PIDFiles *processfile.ProcessFileManager
	// Scanner is the last-resort liveness probe. Nil disables the scan.
	Scanner   processstate.Scanner
	Autostart *installer.Autostart
	Observer  StatusObserver

	// StopTimeout bounds how long Stop waits for a killed child to exit.
	StopTimeout time.Duration
}

// child is a process the supervisor may kill. Adopted children come from a
// PID file written by an earlier host run and have no Wait channel.
type child struct {
	process  *os.Process
	done     chan struct{}
	exitErr  error
	adopted  bool
	stopping bool
}

type Supervisor struct {
	descriptor Descriptor
	options    Options
	logger     logging.Logger

	mutex     sync.Mutex
	status    Status
	reason    string
	pid       int
	tracked   bool
	startedAt time.Time
	child     *child
}

func NewSupervisor(descriptor Descriptor, options Options, logger logging.Logger) (*Supervisor, error) {
	if err := descriptor.Validate(); err != nil {
		return nil, err
	}
	if options.StopTimeout <= 0 {
		options.StopTimeout = defaultStopTimeout
	}
	if options.Autostart == nil {
		options.Autostart = installer.NewAutostart(installer.AutostartOptions{}, logger)
	}
	return &Supervisor{
		descriptor: descriptor,
		options:    options,
		logger:     logger,
		status:     StatusNotStarted,
	}, nil
}

func (s *Supervisor) Name() string {
	return s.descriptor.Name
}

func (s *Supervisor) Descriptor() Descriptor {
	return s.descriptor
}

// EnsureInstalled writes the bundled payload if the install path is empty.
// Failures are InstallErrors.
func (s *Supervisor) EnsureInstalled() error {
	_, err := installer.EnsureInstalled(s.descriptor.InstallPath, s.descriptor.Payload, s.logger)
	if err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			domainErr.WithContext("service", s.descriptor.Name)
		}
		return err
	}
	return nil
}

// RegisterAutostart registers a login trigger when the descriptor asks for
// one. Failures are AutostartErrors and are not fatal to the caller.
func (s *Supervisor) RegisterAutostart() error {
	if !s.descriptor.Autostart {
		return nil
	}
	return s.options.Autostart.Register(installer.Target{
		Name:           s.descriptor.Name,
		ExecutablePath: s.descriptor.InstallPath,
		Args:           s.descriptor.Args,
	})
}

// IsRunning checks the tracked child first, then the PID file, then the
// process table.
func (s *Supervisor) IsRunning(ctx context.Context) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	running, _, _ := s.probeLocked(ctx)
	return running
}

// Start launches the service unless an instance is already running, in
// which case it only reports that instance.
func (s *Supervisor) Start(ctx context.Context) (Handle, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if running, pid, kind := s.probeLocked(ctx); running {
		s.logger.Infof("Service already running, pid: %d, evidence: %s", pid, kind)
		if s.status != StatusRunning {
			s.pid = pid
			s.tracked = s.child != nil
			if s.startedAt.IsZero() {
				s.startedAt = time.Now()
			}
			s.setStatusLocked(StatusRunning, "")
		}
		return s.snapshotLocked(), nil
	}

	// ctx is only checked before the spawn; starting a process does not block.
	cmd, err := process.Spawn(ctx, s.descriptor.ExecutionConfig(), s.descriptor.Name, s.logger)
	if err != nil {
		return s.snapshotLocked(), err
	}

	c := &child{process: cmd.Process, done: make(chan struct{})}
	s.child = c
	s.pid = cmd.Process.Pid
	s.tracked = true
	s.startedAt = time.Now()
	s.setStatusLocked(StatusRunning, "")

	if s.options.PIDFiles != nil {
		if err := s.options.PIDFiles.WritePIDFile(s.descriptor.Name, s.pid); err != nil {
			s.logger.Warnf("Failed to record PID file, pid: %d, error: %v", s.pid, err)
		}
	}

	go s.watch(cmd, c)

	return s.snapshotLocked(), nil
}

// Stop kills the tracked process unconditionally. Stopping a service that
// is not running is a no-op. An untracked instance found by name is left
// alone.
func (s *Supervisor) Stop() error {
	s.mutex.Lock()

	c := s.child
	if c == nil {
		if s.status == StatusRunning {
			s.logger.Warnf("Running instance is not tracked, leaving it alone, pid: %d", s.pid)
			s.pid = 0
			s.setStatusLocked(StatusStopped, "untracked instance left running")
		}
		s.mutex.Unlock()
		return nil
	}

	s.logger.Infof("Stopping service, pid: %d", c.process.Pid)

	c.stopping = true
	if err := process.Kill(c.process); err != nil {
		c.stopping = false
		s.mutex.Unlock()
		return errors.NewProcessError("failed to kill service process", err).
			WithContext("service", s.descriptor.Name).
			WithContext("pid", c.process.Pid)
	}

	s.child = nil
	s.pid = 0
	s.tracked = false
	if s.options.PIDFiles != nil {
		if err := s.options.PIDFiles.RemovePIDFile(s.descriptor.Name); err != nil {
			s.logger.Warnf("Failed to remove PID file: %v", err)
		}
	}
	s.setStatusLocked(StatusStopped, "")
	s.mutex.Unlock()

	if err := s.waitExit(c); err != nil {
		s.logger.Warnf("Service did not exit after kill: %v", err)
		return err
	}
	s.logger.Infof("Service stopped")
	return nil
}

// Handle returns the current snapshot.
func (s *Supervisor) Handle() Handle {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.snapshotLocked()
}

func (s *Supervisor) watch(cmd *exec.Cmd, c *child) {
	err := cmd.Wait()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	c.exitErr = err
	close(c.done)

	if s.child != c {
		return
	}
	s.child = nil
	s.pid = 0
	s.tracked = false
	if s.options.PIDFiles != nil {
		s.options.PIDFiles.RemovePIDFile(s.descriptor.Name)
	}
	if c.stopping {
		return
	}

	reason := "exited"
	if err != nil {
		reason = fmt.Sprintf("exited: %v", err)
	} else if cmd.ProcessState != nil {
		reason = fmt.Sprintf("exited: %s", cmd.ProcessState.String())
	}
	s.logger.Warnf("Service exited unexpectedly, reason: %s", reason)
	s.setStatusLocked(StatusFailed, reason)
}

func (s *Supervisor) waitExit(c *child) error {
	timeout := time.NewTimer(s.options.StopTimeout)
	defer timeout.Stop()

	if !c.adopted {
		select {
		case <-c.done:
			return nil
		case <-timeout.C:
			return errors.NewTimeoutError("timed out waiting for service exit", nil).WithContext("service", s.descriptor.Name)
		}
	}

	ticker := time.NewTicker(adoptedPollInterval)
	defer ticker.Stop()
	for {
		if running, _ := processstate.IsProcessRunning(c.process.Pid); !running {
			return nil
		}
		select {
		case <-ticker.C:
		case <-timeout.C:
			return errors.NewTimeoutError("timed out waiting for service exit", nil).WithContext("service", s.descriptor.Name)
		}
	}
}

// probeLocked reports whether an instance is alive, its PID when known, and
// which check found it. A live PID-file instance launched from the install
// path is adopted.
func (s *Supervisor) probeLocked(ctx context.Context) (bool, int, string) {
	if c := s.child; c != nil {
		if c.adopted {
			if running, _ := processstate.IsProcessRunning(c.process.Pid); running {
				return true, c.process.Pid, "adopted"
			}
			s.child = nil
		} else {
			select {
			case <-c.done:
			default:
				return true, c.process.Pid, "child"
			}
		}
	}

	if s.options.PIDFiles != nil {
		if pid, alive := s.options.PIDFiles.LivePID(ctx, s.descriptor.Name, s.descriptor.InstallPath); alive {
			if p, err := os.FindProcess(pid); err == nil {
				s.child = &child{process: p, adopted: true}
			}
			return true, pid, "pid_file"
		}
	}

	if s.options.Scanner != nil && s.descriptor.ProcessName != "" {
		pid, found, err := s.options.Scanner.FindByName(ctx, s.descriptor.ProcessName)
		if err != nil {
			s.logger.Debugf("Process table scan failed: %v", err)
			return false, 0, ""
		}
		if found {
			return true, pid, "process_name"
		}
	}

	return false, 0, ""
}

func (s *Supervisor) setStatusLocked(status Status, reason string) {
	s.status = status
	s.reason = reason
	if s.options.Observer != nil {
		s.options.Observer.ServiceStatusChanged(s.descriptor.Name, status)
	}
}

func (s *Supervisor) snapshotLocked() Handle {
	return Handle{
		Name:      s.descriptor.Name,
		Status:    s.status,
		Reason:    s.reason,
		PID:       s.pid,
		Tracked:   s.tracked,
		StartedAt: s.startedAt,
	}
}
