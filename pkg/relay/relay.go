package relay

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"

	"github.com/gorilla/websocket"
)

const (
	DefaultQueueCapacity    = 32
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultCloseGrace       = 2 * time.Second
)

type Options struct {
	// QueueCapacity bounds each channel's outbound queue. A full queue
	// blocks senders; frames are never dropped.
	QueueCapacity    int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// CloseGrace is how long a channel waits for the peer to answer a
	// Close before dropping the socket.
	CloseGrace time.Duration
	// PingInterval enables client keepalive pings when positive.
	PingInterval time.Duration
	Header       http.Header
	Observer     Observer
}

// Observer receives frame traffic notifications, e.g. for metrics.
type Observer interface {
	FrameSent(key string, kind FrameKind)
	FrameReceived(key string, kind FrameKind)
	ChannelClosed(key string)
}

// Relay keeps one duplex websocket channel per logical key.
type Relay struct {
	options Options
	logger  logging.Logger
	dialer  *websocket.Dialer

	mutex    sync.Mutex
	channels map[string]*Channel
}

func NewRelay(options Options, logger logging.Logger) *Relay {
	if options.QueueCapacity <= 0 {
		options.QueueCapacity = DefaultQueueCapacity
	}
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = DefaultWriteTimeout
	}
	if options.CloseGrace <= 0 {
		options.CloseGrace = DefaultCloseGrace
	}
	return &Relay{
		options: options,
		logger:  logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: options.HandshakeTimeout,
		},
		channels: make(map[string]*Channel),
	}
}

// Connect dials address and starts the channel's egress and ingress loops.
// Inbound text frames go to sink when it is non-nil. There is no implicit
// retry; see ConnectWithRetry.
func (r *Relay) Connect(ctx context.Context, key, address string, sink chan<- string) (*Channel, error) {
	if key == "" {
		return nil, errors.NewValidationError("relay key cannot be empty", nil)
	}
	if _, exists := r.Connection(key); exists {
		return nil, errors.NewConflictError("relay channel already open", nil).WithContext("key", key)
	}

	logger := logging.WithPrefix(r.logger, logging.Prefix("relay", key))
	logger.Debugf("Dialing, address: %s", address)

	dialCtx, cancel := context.WithTimeout(ctx, r.options.HandshakeTimeout)
	defer cancel()

	conn, resp, err := r.dialer.DialContext(dialCtx, address, r.options.Header)
	if err != nil {
		domainErr := errors.NewConnectionError("failed to connect", err).
			WithContext("key", key).
			WithContext("address", address)
		if resp != nil {
			domainErr.WithContext("status", resp.Status)
		}
		return nil, domainErr
	}

	c := newChannel(r, key, address, conn, sink, logger)

	r.mutex.Lock()
	if _, exists := r.channels[key]; exists {
		r.mutex.Unlock()
		conn.Close()
		return nil, errors.NewConflictError("relay channel already open", nil).WithContext("key", key)
	}
	r.channels[key] = c
	r.mutex.Unlock()

	c.start()
	logger.Infof("Connected, address: %s", address)
	return c, nil
}

// Send enqueues a text frame on key's channel, waiting while the queue is
// full. An unknown or closed key is logged and otherwise ignored.
func (r *Relay) Send(ctx context.Context, key, payload string) {
	c, ok := r.Connection(key)
	if !ok {
		r.logger.Warnf("Dropping message for unknown relay channel, key: %s", key)
		return
	}
	if err := c.Enqueue(ctx, TextFrame(payload)); err != nil {
		r.logger.Warnf("Dropping message for relay channel, key: %s, error: %v", key, err)
	}
}

// Connection returns the open channel for key.
func (r *Relay) Connection(key string) (*Channel, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	c, ok := r.channels[key]
	return c, ok
}

func (r *Relay) Keys() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	keys := make([]string, 0, len(r.channels))
	for key := range r.channels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Close sends a Close frame on key's channel and waits for both loops to
// finish or ctx to end.
func (r *Relay) Close(ctx context.Context, key string) error {
	c, ok := r.Connection(key)
	if !ok {
		return nil
	}
	return c.Close(ctx)
}

// CloseAll closes every open channel.
func (r *Relay) CloseAll(ctx context.Context) error {
	errs := errors.NewErrorCollection()
	for _, key := range r.Keys() {
		errs.Add(r.Close(ctx, key))
	}
	return errs.ToError()
}

func (r *Relay) remove(c *Channel) {
	r.mutex.Lock()
	if current, ok := r.channels[c.key]; ok && current == c {
		delete(r.channels, c.key)
	}
	r.mutex.Unlock()

	if r.options.Observer != nil {
		r.options.Observer.ChannelClosed(c.key)
	}
}
