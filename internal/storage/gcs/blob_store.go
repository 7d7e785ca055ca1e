// Package gcs stores screenshot images in a Google Cloud Storage bucket
// and hands the resulting gs:// URI back to the record.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the bucket screenshot objects are written to.
type Config struct {
	Bucket string
}

// BlobStore uploads capture artifacts. Object names arrive fully formed
// from the screenshot service (prefix/site/record.png), so the store only
// writes and never lists.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New wraps an authenticated storage client around the configured bucket.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{client: client, bucket: cfg.Bucket}, nil
}

// PutObject streams the image into the bucket and returns its gs:// URI.
// A failed upload aborts the object write; GCS discards the partial object
// when the writer closes with an error.
func (b *BlobStore) PutObject(ctx context.Context, objectPath string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(objectPath) == "" {
		return "", fmt.Errorf("object path is required")
	}

	w := b.client.Bucket(b.bucket).Object(objectPath).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	w.Metadata = map[string]string{"uploaded-by": "curatord"}

	if _, err := io.Copy(w, r); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("upload object %s: %w (close writer: %v)", objectPath, err, closeErr)
		}
		return "", fmt.Errorf("upload object %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object %s: %w", objectPath, err)
	}
	return fmt.Sprintf("gs://%s/%s", b.bucket, objectPath), nil
}
