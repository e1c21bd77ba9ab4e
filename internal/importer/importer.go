// Package importer hosts the import-method registry and the streaming
// record-transform engine. An importer consumes exactly one staged file
// per invocation, publishing each transformed record and accumulating
// per-file statistics.
package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hydrosense/importworker/internal/logging"
	"github.com/hydrosense/importworker/internal/model"
)

// ErrImporterNotSupported is returned when an upload names an unknown
// import method.
var ErrImporterNotSupported = errors.New("importer not supported")

// RecordPublisher publishes one transformed record without blocking the
// transform loop. done is invoked exactly once with the publish outcome.
type RecordPublisher interface {
	PublishRecord(rec *model.RecordMessage, done func(error))
}

// RunInput carries everything an importer needs for one file.
type RunInput struct {
	// Job is the processFiles job being executed; its id becomes the
	// req_id of every published record.
	Job *model.Job

	// Spec is the job's payload: files, organization, upload.
	Spec *model.JobSpec

	// Publisher receives the transformed records.
	Publisher RecordPublisher

	Logger logging.ServiceLogger

	// DeleteFile removes a fully processed file and its workspace.
	// Failures are logged by the caller, never raised.
	DeleteFile func(file model.FileRef) error
}

// RunResult is the outcome of one importer invocation: the file list
// with the processed file removed, plus one processed-summary entry.
type RunResult struct {
	Files     []model.FileRef
	Processed []model.ProcessedItem
}

// Importer processes the first file of a job's file list.
type Importer interface {
	Run(ctx context.Context, in RunInput) (*RunResult, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Importer)
)

// Register adds an importer under its symbolic method name.
func Register(name string, imp Importer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = imp
}

// Lookup resolves an import method by name.
func Lookup(name string) (Importer, error) {
	registryMu.RLock()
	imp, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrImporterNotSupported, name)
	}
	return imp, nil
}
