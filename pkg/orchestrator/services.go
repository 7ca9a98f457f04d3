package orchestrator

import (
	"context"
	"crypto/rand"
	"io/fs"
	"math/big"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tullus-labs/SpaceTraveler/pkg/assets"
	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/hostconfig"
	"github.com/tullus-labs/SpaceTraveler/pkg/hoststate"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"
	"github.com/tullus-labs/SpaceTraveler/pkg/registry"
	"github.com/tullus-labs/SpaceTraveler/pkg/supervisor"
)

const (
	secretLength   = 16
	secretAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	placeholderDir    = "{dir}"
	placeholderSecret = "{secret}"
)

func newSecret() (string, error) {
	var sb strings.Builder
	limit := big.NewInt(int64(len(secretAlphabet)))
	for i := 0; i < secretLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", errors.NewInternalError("failed to generate service secret", err)
		}
		sb.WriteByte(secretAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

func expandArgs(args []string, dir, secret string) []string {
	if len(args) == 0 {
		return nil
	}
	replacer := strings.NewReplacer(placeholderDir, dir, placeholderSecret, secret)
	expanded := make([]string, len(args))
	for i, arg := range args {
		expanded[i] = replacer.Replace(arg)
	}
	return expanded
}

// buildDescriptors turns enabled service entries into descriptors. A
// missing payload is only a warning here: it becomes an install error if
// nothing is installed at the service's path.
func buildDescriptors(config *hostconfig.HostConfig, bundle fs.FS, secret string, logger logging.Logger) ([]supervisor.Descriptor, error) {
	var descriptors []supervisor.Descriptor
	for _, service := range config.Services {
		if !service.IsEnabled() {
			logger.Infof("Service disabled, name: %s", service.Name)
			continue
		}

		installPath := config.ServiceInstallPath(service)

		var (
			payload []byte
			err     error
		)
		if service.PayloadFile != "" {
			payload, err = assets.ReadPayloadFile(service.PayloadFile)
		} else {
			payload, err = assets.PayloadFrom(bundle, service.Payload)
		}
		if err != nil {
			if !errors.IsNotFoundError(err) {
				return nil, errors.NewInstallError("failed to load service payload", err).WithContext("service", service.Name)
			}
			logger.Warnf("No payload for service, name: %s: %v", service.Name, err)
		}

		descriptor := supervisor.Descriptor{
			Name:        service.Name,
			ProcessName: service.ProcessName,
			Payload:     payload,
			InstallPath: installPath,
			Args:        expandArgs(service.Args, filepath.Dir(installPath), secret),
			Environment: service.Environment,
			Hidden:      service.Hidden,
			Autostart:   service.Autostart,
		}
		if err := descriptor.Validate(); err != nil {
			return nil, err
		}
		descriptors = append(descriptors, descriptor)
	}
	return descriptors, nil
}

// serviceTask registers the service's supervisor and, holding its borrow,
// installs, registers autostart and starts it.
func (o *Orchestrator) serviceTask(descriptor supervisor.Descriptor, started *sync.WaitGroup) registry.Task {
	return func(ctx context.Context) error {
		defer started.Done()

		logger := logging.WithPrefix(o.logger, logging.Prefix("service", descriptor.Name))

		sv, err := supervisor.NewSupervisor(descriptor, o.supervisorOptions, logger)
		if err != nil {
			return err
		}

		// Registration and the stopping check share the lock with the
		// shutdown task's lookups, so a service is either found by shutdown
		// or never started.
		o.mutex.Lock()
		if o.isStopping() {
			o.mutex.Unlock()
			logger.Infof("Shutdown in progress, not starting")
			return nil
		}
		cell, err := registry.Register(o.registry, descriptor.Name, sv)
		if err == nil {
			o.supervisors[descriptor.Name] = sv
		}
		o.mutex.Unlock()
		if err != nil {
			return err
		}

		return cell.With(ctx, func(value **supervisor.Supervisor) error {
			service := *value
			if o.isStopping() {
				logger.Infof("Shutdown in progress, not starting")
				return nil
			}

			if err := service.EnsureInstalled(); err != nil {
				o.fail(err)
				return err
			}
			if err := service.RegisterAutostart(); err != nil {
				logger.Warnf("Autostart registration failed: %v", err)
			}

			handle, err := service.Start(ctx)
			if err != nil {
				logger.Errorf("Failed to start: %v", err)
				return err
			}
			logger.Infof("Service running, pid: %d, tracked: %t", handle.PID, handle.Tracked)
			return nil
		})
	}
}

// stateTask marks the host Stable once every service task has run, unless
// startup hit a fatal error.
func (o *Orchestrator) stateTask(started *sync.WaitGroup) registry.Task {
	return func(ctx context.Context) error {
		started.Wait()

		if o.fatalError() != nil || o.isStopping() {
			return nil
		}
		if o.state.State() != hoststate.StateFirstRun {
			return nil
		}
		if err := o.state.Setup(); err != nil {
			return err
		}
		if err := o.state.SetState(hoststate.StateStable); err != nil {
			return err
		}
		o.logger.Infof("First run complete, state: %s", hoststate.StateStable)
		return nil
	}
}
