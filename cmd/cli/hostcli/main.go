package main

import (
	"context"
	"fmt"
	"os"
	"time"

	sprintfLogging "github.com/core-tools/hsu-core/pkg/logging/sprintf"

	coreControl "github.com/core-tools/hsu-core/pkg/control"
	coreDomain "github.com/core-tools/hsu-core/pkg/domain"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/tullus-labs/SpaceTraveler/pkg/control"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	ServerPath string   `long:"server" description:"path to the host executable"`
	AttachPort int      `long:"port" description:"port to attach to the host"`
	Services   []string `long:"service" description:"service to report on (repeatable)"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-client , ", module)
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

	logger := sprintfLogging.NewStdSprintfLogger()

	logger.Infof("opts: %+v", opts)

	if opts.ServerPath == "" && opts.AttachPort == 0 {
		fmt.Println("Server path or attach port is required")
		os.Exit(1)
	}

	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})
	hostLogger := logging.NewLogger(
		logPrefix("host"), logging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})

	coreConnectionOptions := coreControl.ConnectionOptions{
		ServerPath: opts.ServerPath,
		AttachPort: opts.AttachPort,
	}
	coreConnection, err := coreControl.NewConnection(coreConnectionOptions, coreLogger)
	if err != nil {
		logger.Errorf("Failed to create core connection: %v", err)
		os.Exit(1)
	}

	coreClientGateway := coreControl.NewGRPCClientGateway(coreConnection.GRPC(), coreLogger)
	hostClientGateway := control.NewGRPCClientGateway(coreConnection.GRPC(), hostLogger)

	ctx := context.Background()

	retryPingOptions := coreDomain.RetryPingOptions{
		RetryAttempts: 10,
		RetryInterval: 1 * time.Second,
	}
	err = coreDomain.RetryPing(ctx, coreClientGateway, retryPingOptions, coreLogger)
	if err != nil {
		logger.Errorf("Failed to ping host: %v", err)
		os.Exit(1)
	}

	status, err := hostClientGateway.Status(ctx, control.HostService)
	if err != nil {
		logger.Errorf("Failed to get host status: %v", err)
		os.Exit(1)
	}
	logger.Infof("Host: %s", status)

	failed := false
	for _, service := range opts.Services {
		status, err := hostClientGateway.Status(ctx, service)
		if err != nil {
			logger.Errorf("Failed to get status, service: %s, error: %v", service, err)
			failed = true
			continue
		}
		logger.Infof("Service %s: %s", service, status)
	}

	if failed {
		os.Exit(1)
	}
	logger.Infof("Done")
}
