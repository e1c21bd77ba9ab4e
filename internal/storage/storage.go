// Package storage resolves upload storage specs to staged local files.
// Backends implement a uniform GetFiles contract: create the workspace
// directory under the temp base path and stage one file per match.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hydrosense/importworker/internal/model"
)

// ErrStorageNotSupported is returned when an upload names an unknown
// storage method.
var ErrStorageNotSupported = errors.New("storage not supported")

// Backend stages remote or local files into a per-job workspace.
type Backend interface {
	// GetFiles resolves the upload's storage options to concrete files,
	// creates tempBasePath/workspace, stages every matched file there,
	// and returns one reference per staged file.
	GetFiles(ctx context.Context, options map[string]any, tempBasePath, workspace string) ([]model.FileRef, error)
}

// Options carries the worker-level backend settings from configuration.
// Per-upload settings (such as file_name) arrive via GetFiles.
type Options struct {
	// LocalPath is the drop directory scanned by the local backend.
	LocalPath string

	// S3 settings for the s3 backend.
	S3Bucket   string
	S3Prefix   string
	S3Region   string
	S3Endpoint string
}

// Factory builds a backend from the worker-level options.
type Factory func(ctx context.Context, opts Options) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a backend factory under its symbolic method name.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New builds the backend registered under name.
func New(ctx context.Context, name string, opts Options) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStorageNotSupported, name)
	}
	return factory(ctx, opts)
}

// Names returns the registered backend names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

func optionString(options map[string]any, key string) (string, error) {
	value, ok := options[key]
	if !ok {
		return "", fmt.Errorf("storage option %q missing", key)
	}
	s, ok := value.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("storage option %q must be a non-empty string", key)
	}
	return s, nil
}
