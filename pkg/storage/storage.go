// Package storage keeps uploaded source files addressable by key until ingestion reads them.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Open when no object exists for the key.
var ErrNotFound = errors.New("stored file not found")

// FileStore is implemented by the local disk store and the GCS client.
type FileStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// UploadKey builds the object key for an upload job's source file.
func UploadKey(jobID uuid.UUID, fileName string) string {
	return path.Join(jobID.String(), SanitizeFileName(fileName))
}

// SanitizeFileName drops directory components and characters that are unsafe in object keys.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = path.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "upload"
	}
	return out
}
