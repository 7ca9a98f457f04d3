package installer

import (
	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"
)

// Target is the program a login trigger should launch.
type Target struct {
	Name           string
	ExecutablePath string
	Args           []string
}

// AutostartOptions tweak where login triggers are written. The zero value
// uses the platform default location.
type AutostartOptions struct {
	// Directory overrides the autostart directory on Linux and macOS.
	Directory string
	// Label prefixes the LaunchAgent label on macOS.
	Label string
}

// Autostart registers services to launch at user login.
type Autostart struct {
	options AutostartOptions
	logger  logging.Logger
}

func NewAutostart(options AutostartOptions, logger logging.Logger) *Autostart {
	if options.Label == "" {
		options.Label = "com.spacetraveler"
	}
	return &Autostart{
		options: options,
		logger:  logger,
	}
}

// Register installs the login trigger for target. It is idempotent: an
// existing registration is left untouched. Failures are AutostartErrors.
func (a *Autostart) Register(target Target) error {
	if target.Name == "" || target.ExecutablePath == "" {
		return errors.NewAutostartError("autostart target requires a name and an executable path", nil)
	}

	registered, err := a.isRegistered(target)
	if err != nil {
		return errors.NewAutostartError("failed to query autostart registration", err).WithContext("service", target.Name)
	}
	if registered {
		a.logger.Debugf("Autostart already registered, service: %s", target.Name)
		return nil
	}

	if err := a.register(target); err != nil {
		return errors.NewAutostartError("failed to register autostart", err).WithContext("service", target.Name)
	}

	a.logger.Infof("Registered autostart, service: %s, executable: %s", target.Name, target.ExecutablePath)
	return nil
}

// IsRegistered reports whether a login trigger for target exists.
func (a *Autostart) IsRegistered(target Target) (bool, error) {
	return a.isRegistered(target)
}
