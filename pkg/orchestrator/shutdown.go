package orchestrator

import (
	"context"
	"time"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/registry"
	"github.com/tullus-labs/SpaceTraveler/pkg/supervisor"

	"golang.org/x/sync/errgroup"
)

const relayCloseTimeout = 5 * time.Second

// shutdownTask waits for a close request, a fatal error or ctx's end, then
// stops every service, closes the relays, waits the grace delay and
// acknowledges the close.
func (o *Orchestrator) shutdownTask(events <-chan LifecycleEvent, cancelRelays, cancelServe context.CancelFunc) registry.Task {
	return func(ctx context.Context) error {
		session := o.awaitClose(ctx, events)

		o.mutex.Lock()
		close(o.stopping)
		o.mutex.Unlock()
		cancelRelays()

		o.logger.Infof("Shutting down...")
		errs := errors.NewErrorCollection()
		errs.Add(o.stopServices())

		closeCtx, cancel := context.WithTimeout(context.Background(), relayCloseTimeout)
		if err := o.relay.CloseAll(closeCtx); err != nil {
			o.logger.Warnf("Relay close incomplete: %v", err)
		}
		cancel()

		o.logger.Infof("Waiting %v before exit", o.config.Host.ShutdownGrace)
		time.Sleep(o.config.Host.ShutdownGrace)

		o.health.Shutdown()
		cancelServe()

		if session != nil {
			session.AcknowledgeClose()
		}
		o.logger.Infof("Shutdown complete")
		return errs.ToError()
	}
}

// awaitClose returns the session of the close request, or nil when shutdown
// was triggered some other way.
func (o *Orchestrator) awaitClose(ctx context.Context, events <-chan LifecycleEvent) Session {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				o.logger.Infof("Lifecycle events closed")
				return nil
			}
			if event.Kind == CloseRequested {
				o.logger.Infof("Close requested")
				return event.Session
			}
			o.logger.Debugf("Ignoring lifecycle event, kind: %d", event.Kind)
		case <-o.fatal:
			return nil
		case <-ctx.Done():
			o.logger.Infof("Host context done: %v", ctx.Err())
			return nil
		}
	}
}

// stopServices stops every registered service concurrently. A service whose
// task has not registered yet is skipped.
func (o *Orchestrator) stopServices() error {
	// Waiting for a borrow covers a start still in flight.
	timeout := 2 * o.config.Host.StopTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var group errgroup.Group
	for _, descriptor := range o.descriptors {
		name := descriptor.Name
		cell, err := registry.Lookup[*supervisor.Supervisor](o.registry, name)
		if err != nil {
			if errors.IsNotFoundError(err) {
				o.logger.Debugf("Service not registered, skipping stop, name: %s", name)
				continue
			}
			return err
		}
		group.Go(func() error {
			err := cell.With(ctx, func(value **supervisor.Supervisor) error {
				return (*value).Stop()
			})
			if err != nil {
				o.logger.Errorf("Failed to stop service, name: %s, error: %v", name, err)
			}
			return err
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	o.logger.Infof("All services stopped")
	return nil
}
