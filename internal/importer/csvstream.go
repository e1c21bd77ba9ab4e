package importer

import (
	"context"
	"errors"
	"os"

	"github.com/hydrosense/importworker/internal/logging"
	"github.com/hydrosense/importworker/internal/model"
)

// MethodCSVStream is the symbolic name of the streaming CSV importer.
const MethodCSVStream = "csvStream"

func init() {
	Register(MethodCSVStream, &CSVStream{})
}

// CSVStream imports delimited text files one file per invocation: the
// first file of the job's list is streamed through the transform engine,
// deleted from the workspace, and removed from the returned file list.
type CSVStream struct{}

func (imp *CSVStream) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	if in.Spec == nil || len(in.Spec.Files) == 0 {
		return nil, errors.New("Spec incomplete")
	}
	upload := in.Spec.Upload
	if upload == nil || upload.Spec == nil {
		return nil, errors.New("Load spec missing")
	}

	file := in.Spec.Files[0]
	remaining := append([]model.FileRef(nil), in.Spec.Files[1:]...)

	opts, err := ParseOptions(upload.Spec.Options)
	if err != nil {
		return nil, err
	}

	scope := PublishScope{
		File:     file,
		UploadID: upload.ID,
	}
	if in.Job != nil {
		scope.ReqID = in.Job.ID
	}
	if in.Spec.Organization != nil {
		scope.OrgSlug = in.Spec.Organization.Slug
	}

	f, err := os.Open(file.Path)
	if err != nil {
		return nil, err
	}

	src := NewCSVSource(f, opts)
	stats, transformErr := Transform(ctx, src, opts, in.Publisher, scope, in.Logger)
	_ = f.Close()

	if transformErr != nil {
		return nil, transformErr
	}

	if in.DeleteFile != nil {
		if err := in.DeleteFile(file); err != nil {
			in.Logger.Error("Temp file delete error", err, logging.LogFields{
				"file": file.Path,
			})
		}
	}

	return &RunResult{
		Files:     remaining,
		Processed: []model.ProcessedItem{{File: &file, Stats: stats}},
	}, nil
}
