package hoststate

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"

	"github.com/BurntSushi/toml"
)

// DefaultFileName is the state file kept next to the installed services.
const DefaultFileName = ".conf.toml"

type AppState string

const (
	StateFirstRun AppState = "FirstRun"
	StateStable   AppState = "Stable"
)

// PluginConfig is one plugin entry. The host stores it but does not load
// plugins itself.
type PluginConfig struct {
	Name     string            `toml:"name"`
	Enabled  bool              `toml:"enabled"`
	Settings map[string]string `toml:"settings,omitempty"`
}

type Document struct {
	State   AppState       `toml:"state"`
	Plugins []PluginConfig `toml:"plugins_conf"`
}

// Store is the persisted host state. Every mutation is written through to
// disk atomically.
type Store struct {
	path   string
	logger logging.Logger

	mutex    sync.Mutex
	document Document
}

// Open loads the state file at path, creating it when absent. A missing,
// empty or unparsable document is treated as a first run and rewritten.
func Open(path string, logger logging.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger,
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case os.IsNotExist(err):
		logger.Infof("State file not found, starting fresh, path: %s", path)
	default:
		return nil, errors.NewIOError("failed to read state file", err).WithContext("path", path)
	}

	if len(bytes.TrimSpace(data)) > 0 {
		if _, err := toml.Decode(string(data), &s.document); err != nil {
			logger.Warnf("State file is unreadable, resetting, path: %s, error: %v", path, err)
			s.document = Document{}
		}
	}

	if s.document.State != StateFirstRun && s.document.State != StateStable {
		s.document.State = StateFirstRun
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) State() AppState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.document.State
}

func (s *Store) SetState(state AppState) error {
	if state != StateFirstRun && state != StateStable {
		return errors.NewValidationError("unknown application state", nil).WithContext("state", string(state))
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.document.State == state {
		return nil
	}
	previous := s.document.State
	s.document.State = state
	if err := s.saveLocked(); err != nil {
		s.document.State = previous
		return err
	}
	s.logger.Infof("Application state changed, from: %s, to: %s", previous, state)
	return nil
}

// Setup resets the document to a fresh first-run state.
func (s *Store) Setup() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.document = Document{State: StateFirstRun}
	return s.saveLocked()
}

func (s *Store) Plugins() []PluginConfig {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	plugins := make([]PluginConfig, len(s.document.Plugins))
	copy(plugins, s.document.Plugins)
	return plugins
}

// SetPlugin inserts or replaces the plugin entry with the same name.
func (s *Store) SetPlugin(plugin PluginConfig) error {
	if plugin.Name == "" {
		return errors.NewValidationError("plugin name is required", nil)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	replaced := false
	for i := range s.document.Plugins {
		if s.document.Plugins[i].Name == plugin.Name {
			s.document.Plugins[i] = plugin
			replaced = true
			break
		}
	}
	if !replaced {
		s.document.Plugins = append(s.document.Plugins, plugin)
	}
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	var buffer bytes.Buffer
	if err := toml.NewEncoder(&buffer).Encode(s.document); err != nil {
		return errors.NewInternalError("failed to encode state", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIOError("failed to create state directory", err).WithContext("directory", dir)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buffer.Bytes(), 0644); err != nil {
		return errors.NewIOError("failed to write state file", err).WithContext("path", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return errors.NewIOError("failed to replace state file", err).WithContext("path", s.path)
	}
	return nil
}
