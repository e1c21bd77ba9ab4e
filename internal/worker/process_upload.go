package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hydrosense/importworker/internal/ids"
	"github.com/hydrosense/importworker/internal/logging"
	"github.com/hydrosense/importworker/internal/model"
)

// processUpload is the pipeline's initial state: given an upload it
// dispatches exactly one downstream job, choosing fetchFiles when the
// upload carries an inline processing spec and fetchManifest when it
// only references a manifest.
func processUpload(ctx context.Context, wctx Context, job *model.Job) (*model.JobResult, error) {
	upload := job.Spec.Upload
	if upload == nil {
		return errResult(errors.New("Spec incomplete")), nil
	}

	method := model.MethodFetchManifest
	if upload.Spec != nil {
		method = model.MethodFetchFiles
	}

	now := time.Now().UTC()
	importID := fmt.Sprintf("%s-%s-%d-%s", method, upload.ID, now.UnixMilli(), ids.RandomSuffix())

	wctx.Logger.Info("Dispatching import", logging.LogFields{"import_id": importID})

	next := &model.Job{
		ID:          importID,
		Method:      method,
		DispatchAt:  now,
		DispatchKey: upload.ID,
		ExpiresAt:   now.Add(model.JobExpiry),
		Spec:        job.Spec,
	}
	if err := wctx.Jobs.Dispatch(ctx, next); err != nil {
		return errResult(err), nil
	}

	return &model.JobResult{Upload: upload}, nil
}

// fetchManifest resolves an upload's manifest reference before files can
// be fetched. Manifest-driven uploads are handled by a separate worker;
// this build only reports them.
func fetchManifest(ctx context.Context, wctx Context, job *model.Job) (*model.JobResult, error) {
	return errResult(errors.New("Manifest fetch not supported")), nil
}

func errResult(err error) *model.JobResult {
	return &model.JobResult{Error: model.NewJobError(err)}
}
