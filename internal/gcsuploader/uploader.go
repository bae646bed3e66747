package gcsuploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// ErrInvalidURI is returned for storage URIs that are not gs://bucket/object.
var ErrInvalidURI = errors.New("invalid GCS URI")

// uploadTimeout bounds a single object write.
const uploadTimeout = 2 * time.Minute

// Client wraps a Cloud Storage client. It assumes Application Default
// Credentials are configured (gcloud auth application-default login).
type Client struct {
	client *storage.Client
}

// New creates a storage client.
func New(ctx context.Context) (*Client, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Client{client: client}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.client.Close()
}

// UploadFile uploads a local file to bucketName under objectName.
func (c *Client) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()

	return c.write(ctx, bucketName, objectName, f)
}

// Upload writes data to bucketName under objectName.
func (c *Client) Upload(ctx context.Context, bucketName, objectName string, data []byte) error {
	return c.write(ctx, bucketName, objectName, bytes.NewReader(data))
}

func (c *Client) write(ctx context.Context, bucketName, objectName string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := c.client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy to GCS writer: %w", err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// FetchFromGCS downloads the object behind a gs://bucket/object URI.
func (c *Client) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseURI(gcsURI)
	if err != nil {
		return nil, err
	}

	rc, err := c.client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("fetchFromGCS: reading bytes: %w", err)
	}
	return data, nil
}

// ParseURI splits gs://bucket/path/to/object into bucket and object path.
func ParseURI(uri string) (string, string, error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w (no object path): %s", ErrInvalidURI, uri)
	}
	return parts[0], parts[1], nil
}

// IsGCSURI reports whether s names a storage object rather than a local path.
func IsGCSURI(s string) bool {
	return strings.HasPrefix(s, "gs://")
}

// ExtractFilenameFromGCSURI returns the last path element of the object,
// e.g. "gs://bucket/folder/export.csv" gives "export.csv".
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}
