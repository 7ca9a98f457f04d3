package assets

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadFrom(t *testing.T) {
	bundle := fstest.MapFS{
		"alpha":     {Data: []byte("#!/bin/sh\n")},
		"README.md": {Data: []byte("docs")},
	}

	data, err := PayloadFrom(bundle, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))

	_, err = PayloadFrom(bundle, "beta")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	_, err = PayloadFrom(bundle, "../alpha")
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	names, err := Names(bundle)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, names)
}

func TestEmbeddedBundle(t *testing.T) {
	data, err := PayloadFrom(Bundle(), "README.md")
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	_, err = Payload("no-such-service")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestReadPayloadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(path, []byte("bin"), 0644))

	data, err := ReadPayloadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("bin"), data)

	_, err = ReadPayloadFile(path + ".missing")
	assert.True(t, errors.IsNotFoundError(err))
}
