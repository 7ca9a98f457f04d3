package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/tullus-labs/SpaceTraveler/pkg/hostconfig"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"
	"github.com/tullus-labs/SpaceTraveler/pkg/orchestrator"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config      string `long:"config" short:"c" description:"path to the host YAML configuration"`
	InstallRoot string `long:"install-root" description:"override the directory services are installed under"`
	ControlPort int    `long:"control-port" description:"override the gRPC control port"`
	LogLevel    string `long:"log-level" description:"override the log level (debug, info, warn, error)"`
	RunDuration int    `long:"run-duration" description:"Duration in seconds to run the host (debug feature)"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
}

// closeSession lets main wait until the host has finished shutting down.
type closeSession struct {
	acknowledged chan struct{}
}

func (s *closeSession) AcknowledgeClose() {
	close(s.acknowledged)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	config, err := loadConfig(opts)
	if err != nil {
		fmt.Printf("Configuration failed: %v\n", err)
		os.Exit(1)
	}

	backend, err := logging.NewZapBackend(config.Logging)
	if err != nil {
		fmt.Printf("Logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer backend.Sync()

	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: backend.Debugf,
			Infof:  backend.Infof,
			Warnf:  backend.Warnf,
			Errorf: backend.Errorf,
		})
	hostLogger := logging.NewLogger(logPrefix("host"), backend.Funcs())

	hostLogger.Infof("opts: %+v", opts)

	host, err := orchestrator.New(orchestrator.Options{
		Config:     config,
		CoreLogger: coreLogger,
	}, hostLogger)
	if err != nil {
		hostLogger.Errorf("Failed to create host: %v", err)
		backend.Sync()
		os.Exit(1)
	}

	events := make(chan orchestrator.LifecycleEvent, 1)
	session := &closeSession{acknowledged: make(chan struct{})}
	go watchSignals(opts.RunDuration, events, session, hostLogger)

	if err := host.Run(context.Background(), events); err != nil {
		hostLogger.Errorf("Host failed: %v", err)
		backend.Sync()
		os.Exit(1)
	}

	hostLogger.Infof("Host exited")
}

func loadConfig(opts flagOptions) (*hostconfig.HostConfig, error) {
	var config *hostconfig.HostConfig
	var err error
	if opts.Config != "" {
		config, err = hostconfig.LoadConfigFromFile(opts.Config)
	} else {
		config, err = hostconfig.DefaultConfig()
	}
	if err != nil {
		return nil, err
	}

	if opts.InstallRoot != "" {
		config.Host.InstallRoot = opts.InstallRoot
	}
	if opts.ControlPort != 0 {
		config.Host.ControlPort = opts.ControlPort
	}
	if opts.LogLevel != "" {
		config.Logging.Level = opts.LogLevel
	}

	if err := hostconfig.ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// watchSignals turns an interrupt, or the end of the run duration, into a
// close request.
func watchSignals(runDuration int, events chan<- orchestrator.LifecycleEvent, session *closeSession, logger logging.Logger) {
	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	var timeout <-chan time.Time
	if runDuration > 0 {
		logger.Infof("Using RUN DURATION of %d seconds", runDuration)
		timeout = time.After(time.Duration(runDuration) * time.Second)
	}

	select {
	case receivedSignal := <-sig:
		logger.Infof("Host received signal: %v", receivedSignal)
	case <-timeout:
		logger.Infof("Host run duration elapsed")
	}

	events <- orchestrator.LifecycleEvent{Kind: orchestrator.CloseRequested, Session: session}
	<-session.acknowledged
	logger.Infof("Close acknowledged")
}
