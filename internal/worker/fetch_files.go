package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hydrosense/importworker/internal/ids"
	"github.com/hydrosense/importworker/internal/logging"
	"github.com/hydrosense/importworker/internal/model"
	"github.com/hydrosense/importworker/internal/storage"
)

// fetchFiles stages an upload's raw files into a fresh workspace and
// dispatches the processFiles job that will consume them.
func fetchFiles(ctx context.Context, wctx Context, job *model.Job) (*model.JobResult, error) {
	upload := job.Spec.Upload
	if upload == nil {
		return errResult(errors.New("Spec incomplete")), nil
	}
	if upload.Spec == nil {
		return errResult(errors.New("Load spec missing")), nil
	}
	if upload.Storage == nil {
		return errResult(errors.New("Storage spec missing")), nil
	}

	storageMethod := upload.Storage.Method

	wctx.Logger.Info("Creating storage", logging.LogFields{"storage_method": storageMethod})

	backend, err := storage.New(ctx, storageMethod, wctx.StorageOptions)
	if err != nil {
		return errResult(err), nil
	}

	now := time.Now().UTC()
	workspace := fmt.Sprintf("%s-%d-%s", upload.ID, now.UnixMilli(), ids.RandomSuffix())

	files, err := backend.GetFiles(ctx, upload.Storage.Options, wctx.TempPath, workspace)
	if err != nil {
		return errResult(err), nil
	}

	if _, err := wctx.Upstream.GetAuthUser(ctx); err != nil {
		return errResult(err), nil
	}

	wctx.Logger.Info("Getting organization", logging.LogFields{"_id": upload.OrganizationID})

	organization, err := wctx.Upstream.GetOrganization(ctx, upload.OrganizationID)
	if err != nil {
		return errResult(err), nil
	}

	importID := model.MethodProcessFiles + "-" + workspace

	wctx.Logger.Info("Dispatching import", logging.LogFields{"import_id": importID})

	next := &model.Job{
		ID:          importID,
		Method:      model.MethodProcessFiles,
		DispatchAt:  now,
		DispatchKey: upload.ID,
		ExpiresAt:   now.Add(model.JobExpiry),
		Spec: model.JobSpec{
			Files:        files,
			Organization: organization,
			Upload:       upload,
		},
	}
	if err := wctx.Jobs.Dispatch(ctx, next); err != nil {
		return errResult(err), nil
	}

	return &model.JobResult{Files: files, Upload: upload}, nil
}
