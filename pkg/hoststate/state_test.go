package hoststate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
	"github.com/tullus-labs/SpaceTraveler/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesFirstRunState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)

	store, err := Open(path, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, StateFirstRun, store.State())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `state = "FirstRun"`)
}

func TestOpen_ReadsExistingDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	content := `state = "Stable"

[[plugins_conf]]
name = "weather"
enabled = true
[plugins_conf.settings]
city = "Kyiv"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	store, err := Open(path, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, StateStable, store.State())

	plugins := store.Plugins()
	require.Len(t, plugins, 1)
	assert.Equal(t, "weather", plugins[0].Name)
	assert.True(t, plugins[0].Enabled)
	assert.Equal(t, "Kyiv", plugins[0].Settings["city"])
}

func TestOpen_ResetsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"garbage", "this is = = not toml"},
		{"unknown state", `state = "None"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), DefaultFileName)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			store, err := Open(path, logging.NewNopLogger())
			require.NoError(t, err)
			assert.Equal(t, StateFirstRun, store.State())
		})
	}
}

func TestSetState_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)

	store, err := Open(path, logging.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, store.SetState(StateStable))

	reopened, err := Open(path, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, StateStable, reopened.State())

	err = store.SetState(AppState("Broken"))
	assert.True(t, errors.IsValidationError(err))
}

func TestSetPlugin_InsertsAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	store, err := Open(path, logging.NewNopLogger())
	require.NoError(t, err)

	require.NoError(t, store.SetPlugin(PluginConfig{Name: "weather", Enabled: false}))
	require.NoError(t, store.SetPlugin(PluginConfig{Name: "weather", Enabled: true}))
	require.NoError(t, store.SetPlugin(PluginConfig{Name: "notes"}))

	reopened, err := Open(path, logging.NewNopLogger())
	require.NoError(t, err)
	plugins := reopened.Plugins()
	require.Len(t, plugins, 2)
	assert.True(t, plugins[0].Enabled)
	assert.Equal(t, "notes", plugins[1].Name)
}

func TestSetup_ResetsDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	store, err := Open(path, logging.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, store.SetPlugin(PluginConfig{Name: "weather"}))
	require.NoError(t, store.SetState(StateStable))

	require.NoError(t, store.Setup())
	assert.Equal(t, StateFirstRun, store.State())
	assert.Empty(t, store.Plugins())
}

func TestOpen_UnreadablePath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("file"), 0644))

	_, err := Open(filepath.Join(blocker, DefaultFileName), logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsIOError(err))
}
