package hostconfig

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/hoststate"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"
	"github.com/tullus-labs/SpaceTraveler/pkg/relay"

	"gopkg.in/yaml.v3"
)

const (
	DefaultShutdownGrace = 2 * time.Second
	DefaultStopTimeout   = 5 * time.Second
	DefaultServicesDir   = "services"
)

// HostConfig is the top-level configuration file structure.
type HostConfig struct {
	Host     HostOptions       `yaml:"host"`
	Services []ServiceConfig   `yaml:"services"`
	Relay    RelayConfig       `yaml:"relay"`
	Logging  logging.ZapConfig `yaml:"logging"`
}

type HostOptions struct {
	// InstallRoot is where bundled services are installed. Defaults to the
	// directory of the host executable.
	InstallRoot string `yaml:"install_root,omitempty"`
	// StateFile is relative to InstallRoot unless absolute.
	StateFile string `yaml:"state_file,omitempty"`
	// ControlPort enables the gRPC control server when positive.
	ControlPort int `yaml:"control_port,omitempty"`
	// StatusAddress enables the HTTP status/metrics server when set.
	StatusAddress      string        `yaml:"status_address,omitempty"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace,omitempty"`
	StopTimeout        time.Duration `yaml:"stop_timeout,omitempty"`
	AutostartDirectory string        `yaml:"autostart_directory,omitempty"`
}

// ServiceConfig describes one bundled service.
type ServiceConfig struct {
	Name string `yaml:"name"`
	// ProcessName is matched against the process table. Defaults to the
	// install path's base name without extension.
	ProcessName string `yaml:"process_name,omitempty"`
	// InstallPath is relative to the install root. Defaults to
	// services/<name>/<name>[.exe].
	InstallPath string `yaml:"install_path,omitempty"`
	// Payload names the embedded asset; defaults to the service name.
	Payload string `yaml:"payload,omitempty"`
	// PayloadFile reads the payload from disk instead of the bundle.
	PayloadFile string `yaml:"payload_file,omitempty"`
	// Args may reference {dir} (the service's install directory) and
	// {secret} (a random key generated once per host run).
	Args        []string `yaml:"args,omitempty"`
	Environment []string `yaml:"environment,omitempty"`
	Hidden      bool     `yaml:"hidden,omitempty"`
	Autostart   bool     `yaml:"autostart,omitempty"`
	Enabled     *bool    `yaml:"enabled,omitempty"`
}

func (s ServiceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type RelayConfig struct {
	QueueCapacity    int               `yaml:"queue_capacity,omitempty"`
	HandshakeTimeout time.Duration     `yaml:"handshake_timeout,omitempty"`
	WriteTimeout     time.Duration     `yaml:"write_timeout,omitempty"`
	PingInterval     time.Duration     `yaml:"ping_interval,omitempty"`
	Retry            relay.RetryConfig `yaml:"retry,omitempty"`
	Endpoints        []EndpointConfig  `yaml:"endpoints"`
}

// EndpointConfig is one observer connection. OnConnect payloads are sent
// in order right after the channel opens.
type EndpointConfig struct {
	Key       string   `yaml:"key"`
	Address   string   `yaml:"address"`
	OnConnect []string `yaml:"on_connect,omitempty"`
	Enabled   *bool    `yaml:"enabled,omitempty"`
}

func (e EndpointConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// LoadConfigFromFile loads host configuration from a YAML file and applies
// defaults. It does not validate.
func LoadConfigFromFile(filename string) (*HostConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			domainErr.WithContext("filename", filename)
		}
		return nil, err
	}
	return config, nil
}

func ParseConfig(data []byte) (*HostConfig, error) {
	var config HostConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err)
	}

	if err := setConfigDefaults(&config); err != nil {
		return nil, errors.NewValidationError("failed to apply configuration defaults", err)
	}
	return &config, nil
}

// DefaultConfig is used when the host runs without a configuration file.
func DefaultConfig() (*HostConfig, error) {
	config := &HostConfig{}
	if err := setConfigDefaults(config); err != nil {
		return nil, err
	}
	return config, nil
}

// StatePath resolves the state file against the install root.
func (c *HostConfig) StatePath() string {
	if filepath.IsAbs(c.Host.StateFile) {
		return c.Host.StateFile
	}
	return filepath.Join(c.Host.InstallRoot, c.Host.StateFile)
}

// ServiceInstallPath resolves a service's install path against the root.
func (c *HostConfig) ServiceInstallPath(service ServiceConfig) string {
	if filepath.IsAbs(service.InstallPath) {
		return service.InstallPath
	}
	return filepath.Join(c.Host.InstallRoot, service.InstallPath)
}

func setConfigDefaults(config *HostConfig) error {
	if config.Host.InstallRoot == "" {
		executable, err := os.Executable()
		if err != nil {
			return errors.NewIOError("failed to locate host executable", err)
		}
		config.Host.InstallRoot = filepath.Dir(executable)
	}
	if config.Host.StateFile == "" {
		config.Host.StateFile = hoststate.DefaultFileName
	}
	if config.Host.ShutdownGrace == 0 {
		config.Host.ShutdownGrace = DefaultShutdownGrace
	}
	if config.Host.StopTimeout == 0 {
		config.Host.StopTimeout = DefaultStopTimeout
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "console"
	}
	if config.Logging.Output == "" {
		config.Logging.Output = "stdout"
	}

	for i := range config.Services {
		service := &config.Services[i]
		if service.Enabled == nil {
			enabled := true
			service.Enabled = &enabled
		}
		if service.InstallPath == "" && service.Name != "" {
			service.InstallPath = filepath.Join(DefaultServicesDir, service.Name, executableName(service.Name))
		}
		if service.Payload == "" {
			service.Payload = service.Name
		}
		if service.ProcessName == "" && service.InstallPath != "" {
			base := filepath.Base(service.InstallPath)
			service.ProcessName = strings.TrimSuffix(base, filepath.Ext(base))
		}
	}

	if config.Relay.QueueCapacity == 0 {
		config.Relay.QueueCapacity = relay.DefaultQueueCapacity
	}
	if config.Relay.HandshakeTimeout == 0 {
		config.Relay.HandshakeTimeout = relay.DefaultHandshakeTimeout
	}
	if config.Relay.WriteTimeout == 0 {
		config.Relay.WriteTimeout = relay.DefaultWriteTimeout
	}
	if config.Relay.Retry == (relay.RetryConfig{}) {
		config.Relay.Retry = relay.DefaultRetryConfig()
	}
	for i := range config.Relay.Endpoints {
		endpoint := &config.Relay.Endpoints[i]
		if endpoint.Enabled == nil {
			enabled := true
			endpoint.Enabled = &enabled
		}
	}

	return nil
}

func executableName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}
