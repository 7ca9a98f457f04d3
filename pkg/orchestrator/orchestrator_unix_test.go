//go:build !windows

package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/hoststate"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"
	"github.com/tullus-labs/SpaceTraveler/pkg/processstate"
	"github.com/tullus-labs/SpaceTraveler/pkg/supervisor"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

var testBundle = fstest.MapFS{
	"alpha": {Data: []byte("#!/bin/sh\nsleep 30\n")},
}

// emptyScanner keeps other test binaries' processes out of the liveness
// checks.
type emptyScanner struct{}

func (emptyScanner) FindByName(ctx context.Context, pattern string) (int, bool, error) {
	return 0, false, nil
}

func runHost(t *testing.T, o *Orchestrator) (chan LifecycleEvent, chan error) {
	t.Helper()
	events := make(chan LifecycleEvent, 1)
	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), events) }()
	return events, done
}

func handleOf(o *Orchestrator, name string) (supervisor.Handle, bool) {
	for _, handle := range o.Handles() {
		if handle.Name == name {
			return handle, true
		}
	}
	return supervisor.Handle{}, false
}

func TestRun_StartsServicesUntilClose(t *testing.T) {
	root := t.TempDir()
	// beta's binary is already on disk without an exec bit, so it is never
	// overwritten and its spawn is denied.
	betaPath := filepath.Join(root, "services", "beta", "beta")
	require.NoError(t, os.MkdirAll(filepath.Dir(betaPath), 0755))
	require.NoError(t, os.WriteFile(betaPath, []byte("#!/bin/sh\n"), 0644))

	config := parseConfig(t, `
host:
  install_root: `+quote(root)+`
  shutdown_grace: 10ms
services:
  - name: alpha
  - name: beta
`)
	o, err := New(Options{Config: config, Bundle: testBundle, Scanner: emptyScanner{}}, logging.NewNopLogger())
	require.NoError(t, err)

	events, done := runHost(t, o)

	require.Eventually(t, func() bool {
		alpha, ok := handleOf(o, "alpha")
		return ok && alpha.Status == supervisor.StatusRunning
	}, testTimeout, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return o.State() == hoststate.StateStable
	}, testTimeout, 20*time.Millisecond)

	beta, ok := handleOf(o, "beta")
	require.True(t, ok)
	assert.Equal(t, supervisor.StatusNotStarted, beta.Status)

	alpha, _ := handleOf(o, "alpha")
	alive, _ := processstate.IsProcessRunning(alpha.PID)
	assert.True(t, alive)

	// A failed service does not end the host.
	select {
	case err := <-done:
		t.Fatalf("Run returned before close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	session := &recordingSession{}
	events <- LifecycleEvent{Kind: CloseRequested, Session: session}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Run did not return after close")
	}

	assert.Equal(t, 1, session.count())
	alpha, _ = handleOf(o, "alpha")
	assert.Equal(t, supervisor.StatusStopped, alpha.Status)
	alive, _ = processstate.IsProcessRunning(alpha.PID)
	assert.False(t, alive)

	store, err := hoststate.Open(config.StatePath(), logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, hoststate.StateStable, store.State())
}

func TestRun_InstallErrorIsFatal(t *testing.T) {
	root := t.TempDir()
	config := parseConfig(t, `
host:
  install_root: `+quote(root)+`
  shutdown_grace: 10ms
services:
  - name: gamma
`)
	o, err := New(Options{Config: config, Bundle: testBundle, Scanner: emptyScanner{}}, logging.NewNopLogger())
	require.NoError(t, err)

	_, done := runHost(t, o)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.IsInstallError(err))
	case <-time.After(testTimeout):
		t.Fatal("Run did not return after install error")
	}
	assert.Equal(t, hoststate.StateFirstRun, o.State())
}

func TestRun_ContextEndStopsHost(t *testing.T) {
	config := parseConfig(t, `
host:
  install_root: `+quote(t.TempDir())+`
  shutdown_grace: 10ms
services:
  - name: alpha
`)
	o, err := New(Options{Config: config, Bundle: testBundle, Scanner: emptyScanner{}}, logging.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, nil) }()

	require.Eventually(t, func() bool {
		alpha, ok := handleOf(o, "alpha")
		return ok && alpha.Status == supervisor.StatusRunning
	}, testTimeout, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Run did not return after cancel")
	}
	alpha, _ := handleOf(o, "alpha")
	assert.Equal(t, supervisor.StatusStopped, alpha.Status)
}

func TestRun_RelaySendsOnConnect(t *testing.T) {
	var (
		mutex    sync.Mutex
		received []string
	)
	upgrader := websocket.Upgrader{}
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`run_app {"app":"notepad","args":[],"window":false}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mutex.Lock()
			received = append(received, string(data))
			mutex.Unlock()
		}
	}))
	defer peer.Close()
	address := "ws" + strings.TrimPrefix(peer.URL, "http")

	config := parseConfig(t, `
host:
  install_root: `+quote(t.TempDir())+`
  shutdown_grace: 10ms
relay:
  endpoints:
    - key: observer
      address: `+address+`
      on_connect:
        - 'observe {"main_app":"SpaceTraveler","sub_apps":["blazzy"],"safe":"WoSafe"}'
`)
	o, err := New(Options{Config: config, Bundle: testBundle, Scanner: emptyScanner{}}, logging.NewNopLogger())
	require.NoError(t, err)

	events, done := runHost(t, o)

	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		return len(received) == 1
	}, testTimeout, 20*time.Millisecond)
	mutex.Lock()
	assert.True(t, strings.HasPrefix(received[0], "observe "))
	mutex.Unlock()

	session := &recordingSession{}
	events <- LifecycleEvent{Kind: CloseRequested, Session: session}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Run did not return after close")
	}
	assert.Equal(t, 1, session.count())
	assert.Empty(t, o.relay.Keys())
}
