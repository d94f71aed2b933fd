// Package storage is the blob store behind document files. Keys are opaque
// to callers; backends decide how they map onto disk paths or bucket objects.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hmsportal/hms/internal/config"
)

var (
	ErrObjectNotFound   = errors.New("object not found")
	ErrInvalidKey       = errors.New("invalid object key")
	ErrInvalidSignature = errors.New("invalid or expired signature")
)

type Store interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// DocumentKey scopes a new object under the tenant and document kind.
func DocumentKey(tenantID, kind, filename string) string {
	return path.Join(tenantID, "documents", strings.ToLower(kind), uuid.New().String()+"-"+sanitizeFilename(filename))
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// New builds the backend selected by cfg. publicURL is the externally visible
// base of this server, used by the disk backend for signed links.
func New(ctx context.Context, cfg config.StorageConfig, publicURL string) (Store, error) {
	switch cfg.Backend {
	case "disk":
		return NewDisk(cfg.Directory, publicURL, []byte(cfg.SigningSecret))
	case "gcs":
		return NewGCS(ctx, cfg.Bucket, cfg.CredentialsFile, cfg.ServiceAccount)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
