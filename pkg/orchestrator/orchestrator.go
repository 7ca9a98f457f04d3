package orchestrator

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/tullus-labs/SpaceTraveler/pkg/assets"
	"github.com/tullus-labs/SpaceTraveler/pkg/control"
	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/hostconfig"
	"github.com/tullus-labs/SpaceTraveler/pkg/hoststate"
	"github.com/tullus-labs/SpaceTraveler/pkg/installer"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"
	"github.com/tullus-labs/SpaceTraveler/pkg/metrics"
	"github.com/tullus-labs/SpaceTraveler/pkg/processfile"
	"github.com/tullus-labs/SpaceTraveler/pkg/processstate"
	"github.com/tullus-labs/SpaceTraveler/pkg/registry"
	"github.com/tullus-labs/SpaceTraveler/pkg/relay"
	"github.com/tullus-labs/SpaceTraveler/pkg/supervisor"

	coreLogging "github.com/core-tools/hsu-core/pkg/logging"
)

type EventKind int

const (
	// CloseRequested asks the host to stop every service and exit.
	CloseRequested EventKind = iota + 1
)

// Session is the host's side of a close request. AcknowledgeClose is called
// once shutdown has finished.
type Session interface {
	AcknowledgeClose()
}

type LifecycleEvent struct {
	Kind    EventKind
	Session Session
}

type Options struct {
	Config *hostconfig.HostConfig
	// Bundle holds embedded payloads. Defaults to assets.Bundle().
	Bundle fs.FS
	// Scanner defaults to a process-table scan that skips the host itself.
	Scanner processstate.Scanner
	// CoreLogger is required when the control port is set.
	CoreLogger coreLogging.Logger
}

type Orchestrator struct {
	config  *hostconfig.HostConfig
	options Options
	logger  logging.Logger

	registry  *registry.Registry
	relay     *relay.Relay
	state     *hoststate.Store
	collector *metrics.Collector
	health    *control.HealthReporter

	supervisorOptions supervisor.Options
	descriptors       []supervisor.Descriptor

	mutex       sync.Mutex
	stopping    chan struct{}
	supervisors map[string]*supervisor.Supervisor

	fatalOnce sync.Once
	fatal     chan struct{}
	fatalErr  error
}

// New prepares the host from a validated configuration. It opens the state
// store and builds every service descriptor; failures here are fatal.
func New(options Options, logger logging.Logger) (*Orchestrator, error) {
	config := options.Config
	if err := hostconfig.ValidateConfig(config); err != nil {
		return nil, err
	}
	if options.Bundle == nil {
		options.Bundle = assets.Bundle()
	}
	if options.Scanner == nil {
		options.Scanner = processstate.NewNameScanner(os.Getpid())
	}
	if config.Host.ControlPort > 0 && options.CoreLogger == nil {
		return nil, errors.NewValidationError("core logger is required for the control server", nil)
	}

	state, err := hoststate.Open(config.StatePath(), logging.WithPrefix(logger, logging.Prefix("state", filepath.Base(config.StatePath()))))
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config:      config,
		options:     options,
		logger:      logger,
		state:       state,
		collector:   metrics.NewCollector(),
		health:      control.NewHealthReporter(),
		stopping:    make(chan struct{}),
		supervisors: make(map[string]*supervisor.Supervisor),
		fatal:       make(chan struct{}),
	}

	o.registry = registry.NewRegistry(registry.Options{Observer: o.collector}, logging.WithPrefix(logger, logging.Prefix("registry", "tasks")))
	o.relay = relay.NewRelay(relay.Options{
		QueueCapacity:    config.Relay.QueueCapacity,
		HandshakeTimeout: config.Relay.HandshakeTimeout,
		WriteTimeout:     config.Relay.WriteTimeout,
		PingInterval:     config.Relay.PingInterval,
		Observer:         o.collector,
	}, logger)

	o.supervisorOptions = supervisor.Options{
		PIDFiles: processfile.NewProcessFileManager(
			filepath.Join(config.Host.InstallRoot, processfile.DefaultDirectoryName),
			logging.WithPrefix(logger, logging.Prefix("pidfile", "run"))),
		Scanner: options.Scanner,
		Autostart: installer.NewAutostart(
			installer.AutostartOptions{Directory: config.Host.AutostartDirectory},
			logging.WithPrefix(logger, logging.Prefix("autostart", "login"))),
		Observer:    statusObservers{o.collector, o.health},
		StopTimeout: config.Host.StopTimeout,
	}

	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	o.descriptors, err = buildDescriptors(config, options.Bundle, secret, logger)
	if err != nil {
		return nil, err
	}
	for _, descriptor := range o.descriptors {
		o.health.Track(descriptor.Name)
	}

	return o, nil
}

// Run spawns the service, relay, server and shutdown tasks and drives them
// to completion. It returns once shutdown has finished, with the fatal
// error that caused it, if any.
func (o *Orchestrator) Run(ctx context.Context, events <-chan LifecycleEvent) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Relays and servers outlive the close request until shutdown tears
	// them down.
	relayCtx, cancelRelays := context.WithCancel(runCtx)
	defer cancelRelays()
	serveCtx, cancelServe := context.WithCancel(runCtx)
	defer cancelServe()

	o.logger.Infof("Host starting, install root: %s, state: %s, services: %d, endpoints: %d",
		o.config.Host.InstallRoot, o.state.State(), len(o.descriptors), len(o.config.Relay.Endpoints))

	var started sync.WaitGroup
	for _, descriptor := range o.descriptors {
		started.Add(1)
		o.registry.Spawn(runCtx, "service/"+descriptor.Name, o.serviceTask(descriptor, &started))
	}
	o.registry.Spawn(runCtx, "state", o.stateTask(&started))

	for _, endpoint := range o.config.Relay.Endpoints {
		if !endpoint.IsEnabled() {
			o.logger.Infof("Relay endpoint disabled, key: %s", endpoint.Key)
			continue
		}
		o.registry.Spawn(relayCtx, "relay/"+endpoint.Key, o.relayTask(endpoint))
	}

	if address := o.config.Host.StatusAddress; address != "" {
		router := metrics.NewRouter(o.collector, o, logging.WithPrefix(o.logger, logging.Prefix("status", address)))
		o.registry.Spawn(serveCtx, "status-server", func(ctx context.Context) error {
			return metrics.Serve(ctx, address, router, o.logger)
		})
	}
	if port := o.config.Host.ControlPort; port > 0 {
		server, err := control.NewServer(control.ServerOptions{Port: port}, o.health, o.options.CoreLogger, o.logger)
		if err != nil {
			o.fail(err)
		} else {
			o.registry.Spawn(serveCtx, "control-server", server.Run)
		}
	}

	o.registry.Spawn(runCtx, "shutdown", o.shutdownTask(events, cancelRelays, cancelServe))

	// Drive must not be cut short by ctx: the shutdown task reacts to ctx
	// and everything else ends after it.
	if err := o.registry.Drive(context.Background()); err != nil {
		return err
	}

	o.logger.Infof("Host stopped")
	return o.fatalError()
}

// Handles returns a snapshot of every registered service in configuration
// order.
func (o *Orchestrator) Handles() []supervisor.Handle {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	handles := make([]supervisor.Handle, 0, len(o.supervisors))
	for _, descriptor := range o.descriptors {
		if s, ok := o.supervisors[descriptor.Name]; ok {
			handles = append(handles, s.Handle())
		}
	}
	return handles
}

func (o *Orchestrator) Collector() *metrics.Collector {
	return o.collector
}

func (o *Orchestrator) State() hoststate.AppState {
	return o.state.State()
}

// fail records the first fatal error and starts shutdown.
func (o *Orchestrator) fail(err error) {
	o.fatalOnce.Do(func() {
		o.logger.Errorf("Fatal error, shutting down: %v", err)
		o.mutex.Lock()
		o.fatalErr = err
		o.mutex.Unlock()
		close(o.fatal)
	})
}

func (o *Orchestrator) fatalError() error {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.fatalErr
}

func (o *Orchestrator) isStopping() bool {
	select {
	case <-o.stopping:
		return true
	default:
		return false
	}
}

type statusObservers []supervisor.StatusObserver

func (s statusObservers) ServiceStatusChanged(name string, status supervisor.Status) {
	for _, observer := range s {
		observer.ServiceStatusChanged(name, status)
	}
}
