package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SimpleLogger is a no-op logger for tests.
type SimpleLogger struct{}

func (l *SimpleLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (l *SimpleLogger) Debugf(format string, args ...interface{})               {}
func (l *SimpleLogger) Infof(format string, args ...interface{})                {}
func (l *SimpleLogger) Warnf(format string, args ...interface{})                {}
func (l *SimpleLogger) Errorf(format string, args ...interface{})               {}

// WarnRecordingLogger keeps warnings so tests can assert on them.
type WarnRecordingLogger struct {
	SimpleLogger
	mutex sync.Mutex
	warns []string
}

func (l *WarnRecordingLogger) LogLevelf(level int, format string, args ...interface{}) {
	if level == 2 {
		l.Warnf(format, args...)
	}
}

func (l *WarnRecordingLogger) Warnf(format string, args ...interface{}) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.warns = append(l.warns, fmt.Sprintf(format, args...))
}

func (l *WarnRecordingLogger) warnings() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return append([]string(nil), l.warns...)
}

const testTimeout = 3 * time.Second

// newPeer starts a websocket server running handler for each connection.
func newPeer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func echoHandler(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(messageType, data); err != nil {
			return
		}
	}
}

func newTestRelay(t *testing.T, options Options) *Relay {
	relay := NewRelay(options, &SimpleLogger{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		relay.CloseAll(ctx)
	})
	return relay
}

func waitClosed(t *testing.T, c *Channel) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(testTimeout):
		t.Fatal("relay channel did not close")
	}
}

func TestRelay_EchoRoundTrip(t *testing.T) {
	address := newPeer(t, echoHandler)
	relay := newTestRelay(t, Options{})
	sink := make(chan string, 1)

	_, err := relay.Connect(context.Background(), "k", address, sink)
	require.NoError(t, err)

	relay.Send(context.Background(), "k", "ping-test")

	select {
	case text := <-sink:
		assert.Equal(t, "ping-test", text)
	case <-time.After(testTimeout):
		t.Fatal("echo not received")
	}
}

func TestRelay_PreservesOrderPerKey(t *testing.T) {
	address := newPeer(t, echoHandler)
	relay := newTestRelay(t, Options{QueueCapacity: 4})
	sink := make(chan string, 100)

	_, err := relay.Connect(context.Background(), "ordered", address, sink)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		relay.Send(context.Background(), "ordered", fmt.Sprintf("msg-%d", i))
	}

	for i := 0; i < 100; i++ {
		select {
		case text := <-sink:
			require.Equal(t, fmt.Sprintf("msg-%d", i), text)
		case <-time.After(testTimeout):
			t.Fatalf("message %d not received", i)
		}
	}
}

func TestRelay_AnswersPingWithSamePayload(t *testing.T) {
	pongs := make(chan string, 1)
	address := newPeer(t, func(conn *websocket.Conn) {
		conn.SetPongHandler(func(appData string) error {
			pongs <- appData
			return nil
		})
		if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat-1"), time.Now().Add(time.Second)); err != nil {
			return
		}
		echoHandler(conn)
	})
	relay := newTestRelay(t, Options{})

	_, err := relay.Connect(context.Background(), "k", address, nil)
	require.NoError(t, err)

	select {
	case payload := <-pongs:
		assert.Equal(t, "heartbeat-1", payload)
	case <-time.After(testTimeout):
		t.Fatal("pong not received")
	}
}

func TestRelay_PeerCloseEndsBothLoops(t *testing.T) {
	address := newPeer(t, func(conn *websocket.Conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		// Wait for the relay's answering close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	logger := &WarnRecordingLogger{}
	relay := NewRelay(Options{}, logger)

	channel, err := relay.Connect(context.Background(), "k", address, nil)
	require.NoError(t, err)

	waitClosed(t, channel)

	_, ok := relay.Connection("k")
	assert.False(t, ok)

	relay.Send(context.Background(), "k", "after close")
	assert.NotEmpty(t, logger.warnings())

	err = channel.Enqueue(context.Background(), TextFrame("late"))
	assert.True(t, errors.IsConnectionError(err))
}

func TestRelay_LocalCloseReachesPeer(t *testing.T) {
	closeCodes := make(chan int, 1)
	address := newPeer(t, func(conn *websocket.Conn) {
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if closeErr, ok := err.(*websocket.CloseError); ok {
					closeCodes <- closeErr.Code
				}
				return
			}
		}
	})
	relay := newTestRelay(t, Options{})

	channel, err := relay.Connect(context.Background(), "k", address, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, relay.Close(ctx, "k"))

	waitClosed(t, channel)
	select {
	case code := <-closeCodes:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(testTimeout):
		t.Fatal("peer did not observe close")
	}
	assert.Empty(t, relay.Keys())
}

func TestRelay_SendUnknownKeyOnlyWarns(t *testing.T) {
	logger := &WarnRecordingLogger{}
	relay := NewRelay(Options{}, logger)

	assert.NotPanics(t, func() {
		relay.Send(context.Background(), "missing", "hello")
	})
	require.Len(t, logger.warnings(), 1)
	assert.Contains(t, logger.warnings()[0], "missing")
}

func TestRelay_ConnectFailure(t *testing.T) {
	relay := newTestRelay(t, Options{HandshakeTimeout: time.Second})

	_, err := relay.Connect(context.Background(), "k", "ws://127.0.0.1:1/", nil)
	require.Error(t, err)
	assert.True(t, errors.IsConnectionError(err))

	_, ok := relay.Connection("k")
	assert.False(t, ok)
}

func TestRelay_DuplicateKeyRejected(t *testing.T) {
	address := newPeer(t, echoHandler)
	relay := newTestRelay(t, Options{})

	_, err := relay.Connect(context.Background(), "k", address, nil)
	require.NoError(t, err)

	_, err = relay.Connect(context.Background(), "k", address, nil)
	assert.True(t, errors.IsConflictError(err))
}

func TestRelay_EnqueueBlocksWhenQueueFull(t *testing.T) {
	// The peer never reads, but a one-slot queue fills long before the
	// socket buffers would, so check the queue in isolation.
	c := &Channel{
		key:        "k",
		outbound:   make(chan Frame, 1),
		egressDone: make(chan struct{}),
	}
	require.NoError(t, c.Enqueue(context.Background(), TextFrame("first")))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := c.Enqueue(ctx, TextFrame("second"))
	assert.True(t, errors.IsCancelledError(err))
	assert.Len(t, c.outbound, 1, "frames are never dropped or replaced")
}

func TestConnectWithRetry_GivesUp(t *testing.T) {
	relay := newTestRelay(t, Options{HandshakeTimeout: time.Second})

	_, err := relay.ConnectWithRetry(context.Background(), "k", "ws://127.0.0.1:1/", nil, RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
		MaxAttempts:     3,
	})
	require.Error(t, err)
	assert.True(t, errors.IsConnectionError(err))

	var domainErr *errors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 3, domainErr.Context["attempts"])
}

func TestConnectWithRetry_Succeeds(t *testing.T) {
	address := newPeer(t, echoHandler)
	relay := newTestRelay(t, Options{})

	channel, err := relay.ConnectWithRetry(context.Background(), "k", address, nil, DefaultRetryConfig())
	require.NoError(t, err)
	assert.Equal(t, "k", channel.Key())
}

func TestConnectWithRetry_Cancelled(t *testing.T) {
	relay := newTestRelay(t, Options{HandshakeTimeout: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := relay.ConnectWithRetry(ctx, "k", "ws://127.0.0.1:1/", nil, RetryConfig{
		InitialInterval: 20 * time.Millisecond,
		MaxAttempts:     0,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCancelledError(err))
}

func TestRelay_KeepaliveSendsPings(t *testing.T) {
	pings := make(chan string, 4)
	address := newPeer(t, func(conn *websocket.Conn) {
		conn.SetPingHandler(func(appData string) error {
			select {
			case pings <- appData:
			default:
			}
			return nil
		})
		echoHandler(conn)
	})
	relay := newTestRelay(t, Options{PingInterval: 20 * time.Millisecond})

	_, err := relay.Connect(context.Background(), "k", address, nil)
	require.NoError(t, err)

	select {
	case payload := <-pings:
		assert.Equal(t, "1", payload)
	case <-time.After(testTimeout):
		t.Fatal("keepalive ping not received")
	}
}

func TestRelay_DroppedSocketTearsDownChannel(t *testing.T) {
	address := newPeer(t, func(conn *websocket.Conn) {
		// Drop the TCP connection without a Close frame.
		conn.UnderlyingConn().Close()
	})
	logger := &WarnRecordingLogger{}
	relay := NewRelay(Options{CloseGrace: 50 * time.Millisecond}, logger)

	channel, err := relay.Connect(context.Background(), "k", address, nil)
	require.NoError(t, err)

	waitClosed(t, channel)

	_, ok := relay.Connection("k")
	assert.False(t, ok)
	assert.NotEmpty(t, logger.warnings())

	err = channel.Enqueue(context.Background(), TextFrame("late"))
	assert.True(t, errors.IsConnectionError(err))

	reconnected, err := relay.Connect(context.Background(), "k", newPeer(t, echoHandler), nil)
	require.NoError(t, err)
	assert.NotSame(t, channel, reconnected)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, relay.CloseAll(ctx))
}

func TestRelay_WriteFailureTearsDownChannel(t *testing.T) {
	release := make(chan struct{})
	address := newPeer(t, func(conn *websocket.Conn) {
		// Never read, so the socket buffers fill and writes time out.
		<-release
	})
	t.Cleanup(func() { close(release) })
	relay := newTestRelay(t, Options{
		WriteTimeout: 20 * time.Millisecond,
		CloseGrace:   50 * time.Millisecond,
	})

	channel, err := relay.Connect(context.Background(), "k", address, nil)
	require.NoError(t, err)

	payload := strings.Repeat("x", 256*1024)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		for i := 0; i < 512; i++ {
			if err := channel.Enqueue(ctx, TextFrame(payload)); err != nil {
				return
			}
		}
	}()

	waitClosed(t, channel)

	_, ok := relay.Connection("k")
	assert.False(t, ok)
}
