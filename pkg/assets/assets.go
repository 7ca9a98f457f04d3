package assets

import (
	"embed"
	stderrors "errors"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"
)

const bundleDir = "bundle"

//go:embed bundle
var bundle embed.FS

// Bundle returns the filesystem of embedded service payloads.
func Bundle() fs.FS {
	sub, err := fs.Sub(bundle, bundleDir)
	if err != nil {
		panic(err)
	}
	return sub
}

// Payload returns the embedded payload called name.
func Payload(name string) ([]byte, error) {
	return PayloadFrom(Bundle(), name)
}

// PayloadFrom reads a payload from any bundle, e.g. fstest.MapFS in tests.
func PayloadFrom(bundle fs.FS, name string) ([]byte, error) {
	if name == "" || !fs.ValidPath(name) {
		return nil, errors.NewValidationError("invalid payload name", nil).WithContext("payload", name)
	}
	data, err := fs.ReadFile(bundle, name)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.NewNotFoundError("payload not bundled", err).WithContext("payload", name)
		}
		return nil, errors.NewIOError("failed to read bundled payload", err).WithContext("payload", name)
	}
	return data, nil
}

// ReadPayloadFile reads a payload from disk, for services that are not
// embedded in the host binary.
func ReadPayloadFile(filename string) ([]byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("payload file not found", err).WithContext("payload_file", filename)
		}
		return nil, errors.NewIOError("failed to read payload file", err).WithContext("payload_file", filename)
	}
	return data, nil
}

// Names lists the bundled payloads, excluding documentation.
func Names(bundle fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(bundle, ".")
	if err != nil {
		return nil, errors.NewIOError("failed to list bundle", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) == ".md" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
