package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hydrosense/importworker/internal/model"
)

func init() {
	Register("local", func(ctx context.Context, opts Options) (Backend, error) {
		return &Local{path: opts.LocalPath}, nil
	})
}

// Local stages files from a drop directory on the worker's filesystem.
// A file belongs to an upload when its name starts with "<file_name>.";
// the upload's manifest ("<file_name>.manifest.yaml") is never staged.
type Local struct {
	path string
}

// NewLocal returns a local backend rooted at path.
func NewLocal(path string) *Local {
	return &Local{path: path}
}

func (l *Local) GetFiles(ctx context.Context, options map[string]any, tempBasePath, workspace string) ([]model.FileRef, error) {
	fileName, err := optionString(options, "file_name")
	if err != nil {
		return nil, err
	}

	storPath, err := filepath.Abs(l.path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(storPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	var matched []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, fileName+".") && name != fileName+".manifest.yaml" {
			matched = append(matched, name)
		}
	}

	workPath := filepath.Join(tempBasePath, workspace)
	if err := os.MkdirAll(workPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	files := make([]model.FileRef, 0, len(matched))
	for _, name := range matched {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dst := filepath.Join(workPath, name)
		if err := copyFile(filepath.Join(storPath, name), dst); err != nil {
			return nil, fmt.Errorf("failed to stage %q: %w", name, err)
		}
		files = append(files, model.FileRef{Name: name, Path: dst})
	}

	return files, nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
