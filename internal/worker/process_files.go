package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hydrosense/importworker/internal/ids"
	"github.com/hydrosense/importworker/internal/importer"
	"github.com/hydrosense/importworker/internal/logging"
	"github.com/hydrosense/importworker/internal/model"
)

// processFiles runs the configured importer against the first file of
// the job's list. One file per invocation bounds the work done under a
// single ack deadline; the handler re-enqueues itself while files
// remain and finalizes the upload when none do.
func processFiles(ctx context.Context, wctx Context, job *model.Job) (*model.JobResult, error) {
	spec := job.Spec
	upload := spec.Upload
	if spec.Files == nil || upload == nil {
		return errResult(errors.New("Spec incomplete")), nil
	}
	if upload.Spec == nil {
		return errResult(errors.New("Load spec missing")), nil
	}

	loadMethod := upload.Spec.Method

	wctx.Logger.Info("Running importer", logging.LogFields{"load_method": loadMethod})

	imp, err := importer.Lookup(loadMethod)
	if err != nil {
		return errResult(err), nil
	}

	runRes, err := imp.Run(ctx, importer.RunInput{
		Job:        job,
		Spec:       &spec,
		Publisher:  wctx.Records,
		Logger:     wctx.Logger,
		DeleteFile: deleteWorkspaceFile,
	})
	if err != nil {
		// A file-level failure costs only that file; the chain continues
		// with the remainder.
		runRes = &importer.RunResult{
			Files:     remainingFiles(spec.Files),
			Processed: []model.ProcessedItem{{Error: err.Error()}},
		}
	}

	result := spec.Result
	if result == nil {
		result = &model.ImportResult{}
	}
	result.Processed = append(result.Processed, runRes.Processed...)

	if len(runRes.Files) > 0 {
		now := time.Now().UTC()
		importID := fmt.Sprintf("%s-%s-%d-%s", model.MethodProcessFiles, upload.ID, now.UnixMilli(), ids.RandomSuffix())

		wctx.Logger.Info("Dispatching import", logging.LogFields{"import_id": importID})

		next := &model.Job{
			ID:          importID,
			Method:      model.MethodProcessFiles,
			DispatchAt:  now,
			DispatchKey: upload.ID,
			ExpiresAt:   now.Add(model.JobExpiry),
			Spec: model.JobSpec{
				Files:        runRes.Files,
				Organization: spec.Organization,
				Result:       result,
				Upload:       upload,
			},
		}
		if err := wctx.Jobs.Dispatch(ctx, next); err != nil {
			return errResult(err), nil
		}
	} else {
		if _, err := wctx.Upstream.GetAuthUser(ctx); err != nil {
			return errResult(err), nil
		}

		wctx.Logger.Info("Patching upload", logging.LogFields{"_id": upload.ID})

		// Finalize. A redelivery after this patch but before the ack
		// repeats the whole job, ending in an identical, idempotent
		// patch; a crash between patch and ack is the accepted risk.
		if err := wctx.Upstream.PatchUploadResult(ctx, upload.ID, result); err != nil {
			return errResult(err), nil
		}
	}

	return &model.JobResult{Files: runRes.Files, Processed: runRes.Processed}, nil
}

func remainingFiles(files []model.FileRef) []model.FileRef {
	if len(files) <= 1 {
		return []model.FileRef{}
	}
	return append([]model.FileRef(nil), files[1:]...)
}

// deleteWorkspaceFile removes a fully processed file, then tries to
// remove its workspace directory. The directory removal only succeeds
// once the last file is gone; earlier attempts surface as tolerated
// errors.
func deleteWorkspaceFile(file model.FileRef) error {
	if err := os.Remove(file.Path); err != nil {
		return err
	}
	return os.Remove(filepath.Dir(file.Path))
}
