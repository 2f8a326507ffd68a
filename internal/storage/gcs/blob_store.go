// Package gcs mirrors checkpoint files to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// BlobStore writes checkpoint copies to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Open creates a storage client from application default credentials.
func Open(ctx context.Context, cfg Config) (*BlobStore, func() error, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("create storage client: %w", err)
	}
	store, err := New(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return store, client.Close, nil
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
// The object carries the checkpoint kind and source name as metadata so a
// bucket listing can be filtered without downloading anything.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	attrs := objectAttrs(name, contentType)
	writer.ContentType = attrs.ContentType
	writer.CacheControl = attrs.CacheControl
	writer.Metadata = attrs.Metadata
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// checkpointName matches "<kind>_<yyyymmdd>_<hhmmss>.<ext>".
var checkpointName = regexp.MustCompile(`^(.+)_(\d{8}_\d{6})(\.[a-z]+)$`)

// objectAttrs derives upload attributes from the object name. An explicit
// content type wins over the one implied by the extension.
func objectAttrs(name, contentType string) storage.ObjectAttrs {
	base := path.Base(name)
	attrs := storage.ObjectAttrs{
		ContentType:  contentType,
		CacheControl: "no-cache",
		Metadata:     map[string]string{"checkpoint-name": base},
	}
	ext := path.Ext(base)
	if m := checkpointName.FindStringSubmatch(base); m != nil {
		attrs.Metadata["checkpoint-kind"] = m[1]
		attrs.Metadata["checkpoint-timestamp"] = m[2]
		ext = m[3]
	}
	if attrs.ContentType == "" {
		switch ext {
		case ".jsonl":
			attrs.ContentType = "application/x-ndjson"
		case ".json":
			attrs.ContentType = "application/json"
		default:
			attrs.ContentType = "application/octet-stream"
		}
	}
	return attrs
}
