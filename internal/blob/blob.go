// Package blob stores uploaded source files. Objects are addressed by the
// deterministic path uploads/<upload_id>/<filename>.
package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/devstudio-tyler/company-on/pkg/config"
)

// Store is the blob store the upload API writes to and the pipeline reads
// from. Get returns an ErrNotFound AppError for a missing object; Delete of
// a missing object succeeds.
type Store interface {
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "fs":
		return NewFSStore(cfg.Dir)
	case "minio":
		return NewMinIOStore(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
