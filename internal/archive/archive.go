// Package archive uploads the Parquet interchange export to S3 before the
// rebuild discards it.
package archive

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
)

// Uploader copies export directories to s3://bucket/prefix/<run>/.
type Uploader struct {
	client Client
	bucket string
	prefix string
	run    string
}

// NewUploader creates an uploader. run names the folder under prefix,
// normally the run ID.
func NewUploader(client Client, bucket, prefix, run string) *Uploader {
	return &Uploader{client: client, bucket: bucket, prefix: prefix, run: run}
}

// Archive uploads every file below dir, keeping relative paths, and returns
// the S3 URI of the folder.
func (u *Uploader) Archive(ctx context.Context, dir string) (string, error) {
	base := path.Join(u.prefix, u.run)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(base, filepath.ToSlash(rel))
		return u.client.UploadFileToS3(ctx, u.bucket, key, p)
	})
	if err != nil {
		return "", fmt.Errorf("archiving %s: %w", dir, err)
	}
	return fmt.Sprintf("s3://%s/%s/", u.bucket, base), nil
}
