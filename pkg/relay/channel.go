package relay

import (
	"context"
	"strconv"
	"time"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"

	"github.com/gorilla/websocket"
)

// Channel is one live websocket connection. The egress loop is the only
// writer of data frames; the ingress loop is the only reader.
type Channel struct {
	key     string
	address string
	relay   *Relay
	conn    *websocket.Conn
	sink    chan<- string
	logger  logging.Logger

	outbound      chan Frame
	closeReceived chan struct{}
	egressDone    chan struct{}
	ingressDone   chan struct{}
	closed        chan struct{}
}

func newChannel(r *Relay, key, address string, conn *websocket.Conn, sink chan<- string, logger logging.Logger) *Channel {
	return &Channel{
		key:           key,
		address:       address,
		relay:         r,
		conn:          conn,
		sink:          sink,
		logger:        logger,
		outbound:      make(chan Frame, r.options.QueueCapacity),
		closeReceived: make(chan struct{}),
		egressDone:    make(chan struct{}),
		ingressDone:   make(chan struct{}),
		closed:        make(chan struct{}),
	}
}

func (c *Channel) Key() string {
	return c.key
}

func (c *Channel) Address() string {
	return c.address
}

// Done is closed once both loops have finished and the socket is closed.
func (c *Channel) Done() <-chan struct{} {
	return c.closed
}

// Enqueue appends frame to the outbound queue, waiting while it is full.
func (c *Channel) Enqueue(ctx context.Context, frame Frame) error {
	select {
	case <-c.egressDone:
		return errors.NewConnectionError("relay channel is closed", nil).WithContext("key", c.key)
	default:
	}

	select {
	case c.outbound <- frame:
		return nil
	case <-c.egressDone:
		return errors.NewConnectionError("relay channel is closed", nil).WithContext("key", c.key)
	case <-ctx.Done():
		return errors.NewCancelledError("enqueue cancelled", ctx.Err()).WithContext("key", c.key)
	}
}

// Close enqueues a Close frame and waits for teardown.
func (c *Channel) Close(ctx context.Context) error {
	if err := c.Enqueue(ctx, CloseFrame()); err != nil && !errors.IsConnectionError(err) {
		return err
	}
	select {
	case <-c.closed:
		return nil
	case <-ctx.Done():
		return errors.NewCancelledError("waiting for relay channel to close", ctx.Err()).WithContext("key", c.key)
	}
}

func (c *Channel) start() {
	c.conn.SetPingHandler(func(appData string) error {
		c.observeReceived(FramePing)
		c.logger.Debugf("Ping received, answering with pong")
		c.enqueueFromIngress(PongFrame([]byte(appData)))
		return nil
	})
	c.conn.SetPongHandler(func(appData string) error {
		c.observeReceived(FramePong)
		return nil
	})
	c.conn.SetCloseHandler(func(code int, text string) error {
		c.observeReceived(FrameClose)
		c.logger.Infof("Close received, code: %d, reason: %q", code, text)
		select {
		case <-c.closeReceived:
		default:
			close(c.closeReceived)
		}
		c.enqueueFromIngress(Frame{Kind: FrameClose, Payload: websocket.FormatCloseMessage(code, "")})
		return nil
	})

	go c.egress()
	go c.ingress()
	go c.teardown()
	if c.relay.options.PingInterval > 0 {
		go c.keepalive(c.relay.options.PingInterval)
	}
}

func (c *Channel) egress() {
	defer close(c.egressDone)

	for frame := range c.outbound {
		err := c.write(frame)
		if frame.Kind == FrameClose {
			if err != nil {
				c.logger.Debugf("Failed to write close frame: %v", err)
			}
			c.logger.Debugf("Close sent, egress finished")
			return
		}
		if err != nil {
			c.logger.Errorf("Failed to write %s frame: %v", frame.Kind, err)
			c.write(CloseFrame())
			return
		}
		if c.relay.options.Observer != nil {
			c.relay.options.Observer.FrameSent(c.key, frame.Kind)
		}
	}
}

func (c *Channel) ingress() {
	defer close(c.ingressDone)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			// Only a Close frame read off the wire ends ingress quietly. An
			// abnormal closure (1006) is a dropped socket.
			select {
			case <-c.closeReceived:
				c.logger.Debugf("Ingress finished after close: %v", err)
			case <-c.egressDone:
				// Socket torn down after our own Close.
				c.logger.Debugf("Ingress finished: %v", err)
			default:
				c.logger.Warnf("Read failed, closing channel: %v", err)
				c.enqueueFromIngress(CloseFrame())
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.observeReceived(FrameText)
			text := string(data)
			c.logger.Infof("Message received: %s", text)
			if c.sink != nil {
				select {
				case c.sink <- text:
				case <-c.egressDone:
				}
			}
		default:
			c.logger.Debugf("Ignoring frame, type: %d, size: %d", messageType, len(data))
		}
	}
}

// teardown closes the socket once egress has finished, giving the peer
// CloseGrace to answer our Close first.
func (c *Channel) teardown() {
	<-c.egressDone

	grace := time.NewTimer(c.relay.options.CloseGrace)
	select {
	case <-c.ingressDone:
	case <-grace.C:
		c.logger.Debugf("Peer did not answer close in %v", c.relay.options.CloseGrace)
	}
	grace.Stop()

	c.conn.Close()
	<-c.ingressDone

	c.relay.remove(c)
	close(c.closed)
	c.logger.Infof("Channel closed")
}

func (c *Channel) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var sequence uint64
	for {
		select {
		case <-ticker.C:
			sequence++
			c.enqueueFromIngress(PingFrame([]byte(strconv.FormatUint(sequence, 10))))
		case <-c.egressDone:
			return
		}
	}
}

// enqueueFromIngress queues a frame from an internal goroutine. It gives up
// once egress has finished instead of blocking forever.
func (c *Channel) enqueueFromIngress(frame Frame) {
	select {
	case <-c.egressDone:
	case c.outbound <- frame:
	}
}

func (c *Channel) write(frame Frame) error {
	deadline := time.Now().Add(c.relay.options.WriteTimeout)
	switch frame.Kind {
	case FrameText:
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		return c.conn.WriteMessage(websocket.TextMessage, frame.Payload)
	case FramePing:
		return c.conn.WriteControl(websocket.PingMessage, frame.Payload, deadline)
	case FramePong:
		return c.conn.WriteControl(websocket.PongMessage, frame.Payload, deadline)
	case FrameClose:
		payload := frame.Payload
		if len(payload) == 0 {
			payload = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		}
		return c.conn.WriteControl(websocket.CloseMessage, payload, deadline)
	default:
		return errors.NewValidationError("unknown frame kind", nil).WithContext("kind", frame.Kind.String())
	}
}

func (c *Channel) observeReceived(kind FrameKind) {
	if c.relay.options.Observer != nil {
		c.relay.options.Observer.FrameReceived(c.key, kind)
	}
}
