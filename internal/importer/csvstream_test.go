package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrosense/importworker/internal/model"
)

func writeFixture(t *testing.T, rows int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ws_tenmin.dat")
	require.NoError(t, os.WriteFile(path, []byte(loggerFixture(rows)), 0o644))
	return path
}

func csvStreamSpec(files ...model.FileRef) *model.JobSpec {
	return &model.JobSpec{
		Files:        files,
		Organization: &model.Organization{ID: "org-1", Slug: "hillside"},
		Upload: &model.Upload{
			ID: "upload-1",
			Spec: &model.UploadSpec{
				Method: MethodCSVStream,
				Options: map[string]any{
					"from_line":    2,
					"skip_lines":   map[string]any{"at": []any{3, 4}},
					"skip_columns": []any{"RECORD"},
					"time_adjust":  28800,
				},
			},
		},
	}
}

func TestCSVStreamRun(t *testing.T) {
	path := writeFixture(t, 30)
	first := model.FileRef{Name: "ws_tenmin.dat", Path: path}
	second := model.FileRef{Name: "ws_hourly.dat", Path: "/tmp/nope"}

	var deleted []model.FileRef
	pub := &capturePublisher{}
	imp, err := Lookup(MethodCSVStream)
	require.NoError(t, err)

	res, err := imp.Run(context.Background(), RunInput{
		Job:       &model.Job{ID: "processFiles-xyz", Method: model.MethodProcessFiles},
		Spec:      csvStreamSpec(first, second),
		Publisher: pub,
		Logger:    discardLogger(),
		DeleteFile: func(file model.FileRef) error {
			deleted = append(deleted, file)
			return nil
		},
	})
	require.NoError(t, err)

	// Only the first file is consumed; the rest stay queued.
	assert.Equal(t, []model.FileRef{second}, res.Files)
	assert.Equal(t, []model.FileRef{first}, deleted)

	require.Len(t, res.Processed, 1)
	require.NotNil(t, res.Processed[0].Stats)
	assert.Equal(t, &first, res.Processed[0].File)
	assert.Equal(t, int64(30), res.Processed[0].Stats.RecordCount)
	assert.Equal(t, int64(30), res.Processed[0].Stats.PublishCount)

	require.Len(t, pub.records, 30)
	assert.Equal(t, "processFiles-xyz", pub.records[0].Context["req_id"])
	assert.Equal(t, "hillside", pub.records[0].Context["org_slug"])
}

func TestCSVStreamRunValidation(t *testing.T) {
	imp, err := Lookup(MethodCSVStream)
	require.NoError(t, err)

	_, err = imp.Run(context.Background(), RunInput{Spec: &model.JobSpec{}, Logger: discardLogger()})
	assert.EqualError(t, err, "Spec incomplete")

	_, err = imp.Run(context.Background(), RunInput{
		Spec:   &model.JobSpec{Files: []model.FileRef{{Name: "f"}}},
		Logger: discardLogger(),
	})
	assert.EqualError(t, err, "Load spec missing")
}

func TestCSVStreamRunOpenError(t *testing.T) {
	imp, err := Lookup(MethodCSVStream)
	require.NoError(t, err)

	spec := csvStreamSpec(model.FileRef{Name: "missing.dat", Path: "/definitely/not/here"})
	_, err = imp.Run(context.Background(), RunInput{
		Spec:      spec,
		Publisher: &capturePublisher{},
		Logger:    discardLogger(),
	})
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestLookupUnknownImporter(t *testing.T) {
	_, err := Lookup("xlsxStream")
	require.ErrorIs(t, err, ErrImporterNotSupported)
}
