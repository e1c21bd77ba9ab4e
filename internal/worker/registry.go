package worker

import (
	"context"
	"errors"

	"github.com/hydrosense/importworker/internal/model"
)

// Dispatch-loop errors for undecodable or unroutable messages.
var (
	ErrMethodUndefined    = errors.New("Import method undefined")
	ErrMethodNotSupported = errors.New("Import method not supported")
)

// MethodFunc executes one import method. Expected failures come back as
// a structured error inside the result, which still acknowledges the
// message; a non-nil error is an unexpected failure and leaves the
// delivery for the bus to retry.
type MethodFunc func(ctx context.Context, wctx Context, job *model.Job) (*model.JobResult, error)

// Methods maps symbolic method names to their handlers.
type Methods map[string]MethodFunc

// DefaultMethods returns the import pipeline's method table.
func DefaultMethods() Methods {
	return Methods{
		model.MethodProcessUpload: processUpload,
		model.MethodFetchManifest: fetchManifest,
		model.MethodFetchFiles:    fetchFiles,
		model.MethodProcessFiles:  processFiles,
	}
}

// Lookup resolves a method name.
func (m Methods) Lookup(name string) (MethodFunc, error) {
	if name == "" {
		return nil, ErrMethodUndefined
	}
	method, ok := m[name]
	if !ok {
		return nil, ErrMethodNotSupported
	}
	return method, nil
}
