package hostconfig

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateConfig validates the entire configuration structure.
func ValidateConfig(config *HostConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateHostOptions(&config.Host); err != nil {
		return errors.NewValidationError("invalid host configuration", err)
	}

	if !validLogLevels[config.Logging.Level] {
		return errors.NewValidationError("invalid log level", nil).
			WithContext("log_level", config.Logging.Level).
			WithContext("valid_levels", "debug, info, warn, error")
	}

	if err := validateServices(config.Services); err != nil {
		return errors.NewValidationError("invalid services configuration", err)
	}

	if err := validateRelay(&config.Relay); err != nil {
		return errors.NewValidationError("invalid relay configuration", err)
	}

	return nil
}

func validateHostOptions(host *HostOptions) error {
	if host.InstallRoot == "" {
		return errors.NewValidationError("install root is required", nil)
	}
	if !filepath.IsAbs(host.InstallRoot) {
		return errors.NewValidationError("install root must be an absolute path", nil).WithContext("install_root", host.InstallRoot)
	}
	if host.ControlPort < 0 || host.ControlPort > 65535 {
		return errors.NewValidationError("control port must be between 0 and 65535", nil).WithContext("control_port", host.ControlPort)
	}
	if host.ShutdownGrace < 0 || host.StopTimeout < 0 {
		return errors.NewValidationError("timeouts cannot be negative", nil)
	}
	return nil
}

func validateServices(services []ServiceConfig) error {
	seen := make(map[string]bool)
	for i, service := range services {
		if service.Name == "" {
			return errors.NewValidationError(fmt.Sprintf("service at index %d has no name", i), nil)
		}
		if strings.ContainsAny(service.Name, `/\:`) || service.Name == "." || service.Name == ".." {
			return errors.NewValidationError("service name must not contain path separators", nil).WithContext("service", service.Name)
		}
		if seen[service.Name] {
			return errors.NewValidationError("duplicate service name", nil).WithContext("service", service.Name)
		}
		seen[service.Name] = true

		if service.InstallPath == "" {
			return errors.NewValidationError("service install path is required", nil).WithContext("service", service.Name)
		}
		for _, env := range service.Environment {
			if !strings.Contains(env, "=") {
				return errors.NewValidationError("invalid environment variable format", nil).
					WithContext("service", service.Name).
					WithContext("variable", env)
			}
		}
	}
	return nil
}

func validateRelay(relayConfig *RelayConfig) error {
	if relayConfig.QueueCapacity < 0 {
		return errors.NewValidationError("queue capacity cannot be negative", nil)
	}
	if relayConfig.Retry.MaxAttempts < 0 {
		return errors.NewValidationError("retry max attempts cannot be negative", nil)
	}

	seen := make(map[string]bool)
	for _, endpoint := range relayConfig.Endpoints {
		if endpoint.Key == "" {
			return errors.NewValidationError("relay endpoint key is required", nil)
		}
		if seen[endpoint.Key] {
			return errors.NewValidationError("duplicate relay endpoint key", nil).WithContext("key", endpoint.Key)
		}
		seen[endpoint.Key] = true

		parsed, err := url.Parse(endpoint.Address)
		if err != nil {
			return errors.NewValidationError("invalid relay endpoint address", err).WithContext("key", endpoint.Key)
		}
		if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
			return errors.NewValidationError("relay endpoint address must use ws or wss", nil).
				WithContext("key", endpoint.Key).
				WithContext("address", endpoint.Address)
		}
		if parsed.Host == "" {
			return errors.NewValidationError("relay endpoint address has no host", nil).WithContext("key", endpoint.Key)
		}
	}
	return nil
}
