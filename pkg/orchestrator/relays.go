package orchestrator

import (
	"context"

	"github.com/tullus-labs/SpaceTraveler/pkg/hostconfig"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"
	"github.com/tullus-labs/SpaceTraveler/pkg/registry"
	"github.com/tullus-labs/SpaceTraveler/pkg/relay"
)

// relayTask connects one endpoint, sends its on-connect payloads and
// consumes inbound text until the channel closes or shutdown begins.
func (o *Orchestrator) relayTask(endpoint hostconfig.EndpointConfig) registry.Task {
	return func(ctx context.Context) error {
		logger := logging.WithPrefix(o.logger, logging.Prefix("endpoint", endpoint.Key))

		sink := make(chan string, o.config.Relay.QueueCapacity)
		channel, err := o.relay.ConnectWithRetry(ctx, endpoint.Key, endpoint.Address, sink, o.config.Relay.Retry)
		if err != nil {
			if o.isStopping() {
				logger.Debugf("Connect abandoned on shutdown: %v", err)
				return nil
			}
			return err
		}

		for _, payload := range endpoint.OnConnect {
			o.relay.Send(ctx, endpoint.Key, payload)
		}

		for {
			select {
			case text := <-sink:
				handleInbound(text, logger)
			case <-channel.Done():
				logger.Infof("Channel ended")
				return nil
			case <-o.stopping:
				return nil
			}
		}
	}
}

// handleInbound logs observer messages by verb. The host acts on none of
// them itself.
func handleInbound(text string, logger logging.Logger) {
	command, err := relay.ParseCommand(text)
	if err != nil {
		logger.Debugf("Inbound text is not a command: %q", text)
		return
	}
	switch command.Verb {
	case relay.VerbObserve:
		logger.Infof("Observer request, main app: %s", command.Get("main_app").String())
	case relay.VerbRunApp:
		logger.Infof("Run request, app: %s", command.Get("app").String())
	default:
		logger.Infof("Command received, verb: %s", command.Verb)
	}
}
