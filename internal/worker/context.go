package worker

import (
	"context"

	"github.com/hydrosense/importworker/internal/importer"
	"github.com/hydrosense/importworker/internal/logging"
	"github.com/hydrosense/importworker/internal/model"
	"github.com/hydrosense/importworker/internal/storage"
)

// JobDispatcher enqueues the next job of a processing chain onto the bus.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job *model.Job) error
}

// UpstreamService is the slice of the web API the import methods use.
type UpstreamService interface {
	GetAuthUser(ctx context.Context) (*model.User, error)
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)
	PatchUploadResult(ctx context.Context, id string, result *model.ImportResult) error
}

// Context carries the collaborators shared by the import methods. It is
// passed by value into each handler invocation; the process-wide fields
// (upstream client, storage options) are set once at startup, while
// Records is bound per source when the subscription set is built.
type Context struct {
	Logger   logging.ServiceLogger
	Jobs     JobDispatcher
	Upstream UpstreamService
	Records  importer.RecordPublisher
	Metrics  *Metrics

	// StorageOptions are the worker-level backend settings.
	StorageOptions storage.Options

	// TempPath is the base directory for per-job workspaces.
	TempPath string
}

// WithRecords returns a copy of the context bound to a record publisher.
func (c Context) WithRecords(records importer.RecordPublisher) Context {
	c.Records = records
	return c
}
