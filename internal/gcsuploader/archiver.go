package gcsuploader

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/dvloznov/expense-tracker/internal/pipeline"
)

// ObjectWriter stores raw bytes as an object.
type ObjectWriter interface {
	Upload(ctx context.Context, bucketName, objectName string, data []byte) error
}

// Archiver keeps a copy of every uploaded import file in a bucket.
type Archiver struct {
	writer ObjectWriter
	bucket string
	now    func() time.Time
}

// NewArchiver returns an archiver writing to bucket.
func NewArchiver(writer ObjectWriter, bucket string) *Archiver {
	return &Archiver{writer: writer, bucket: bucket, now: time.Now}
}

// Archive uploads data and returns its gs:// URI.
func (a *Archiver) Archive(ctx context.Context, userID, filename string, data []byte) (string, error) {
	object := ObjectName(userID, filename, a.now())

	if err := a.writer.Upload(ctx, a.bucket, object, data); err != nil {
		return "", fmt.Errorf("Archive: %w", err)
	}

	uri := fmt.Sprintf("gs://%s/%s", a.bucket, object)
	log := logger.FromContext(ctx)
	log.Debug().Str("uri", uri).Int("bytes", len(data)).Msg("Archived import file")
	return uri, nil
}

// ObjectName builds imports/<user>/<timestamp>-<filename>. Only the base name
// of filename is kept.
func ObjectName(userID, filename string, at time.Time) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		base = "upload"
	}
	return fmt.Sprintf("imports/%s/%s-%s", userID, at.UTC().Format("20060102T150405.000Z"), base)
}

var _ pipeline.Archiver = (*Archiver)(nil)
