package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hydrosense/importworker/internal/model"
)

func init() {
	Register("s3", func(ctx context.Context, opts Options) (Backend, error) {
		return NewS3(ctx, opts)
	})
}

// S3 stages files from an object storage bucket. Matching follows the
// same rule as the local backend: keys under the configured prefix whose
// base name starts with "<file_name>.", excluding the manifest.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 builds the backend from the worker-level S3 options, loading
// credentials from the ambient AWS configuration.
func NewS3(ctx context.Context, opts Options) (*S3, error) {
	if opts.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.S3Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.S3Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{
		client: client,
		bucket: opts.S3Bucket,
		prefix: opts.S3Prefix,
	}, nil
}

func (b *S3) GetFiles(ctx context.Context, options map[string]any, tempBasePath, workspace string) ([]model.FileRef, error) {
	fileName, err := optionString(options, "file_name")
	if err != nil {
		return nil, err
	}

	keyPrefix := path.Join(b.prefix, fileName) + "."
	manifestKey := path.Join(b.prefix, fileName) + ".manifest.yaml"

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(keyPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == manifestKey || strings.HasSuffix(key, "/") {
				continue
			}
			keys = append(keys, key)
		}
	}

	workPath := filepath.Join(tempBasePath, workspace)
	if err := os.MkdirAll(workPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	files := make([]model.FileRef, 0, len(keys))
	for _, key := range keys {
		name := path.Base(key)
		dst := filepath.Join(workPath, name)
		if err := b.download(ctx, key, dst); err != nil {
			return nil, fmt.Errorf("failed to stage %q: %w", key, err)
		}
		files = append(files, model.FileRef{Name: name, Path: dst})
	}

	return files, nil
}

func (b *S3) download(ctx context.Context, key, dst string) (err error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer out.Body.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	_, err = io.Copy(f, out.Body)
	return err
}
