package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
)

// FSStore keeps objects as files under a root directory. Used for local
// development and tests.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, errors.New("storage dir is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(path))
	full := filepath.Join(s.root, clean)
	if !strings.HasPrefix(full, filepath.Clean(s.root)+string(filepath.Separator)) {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid object path %q", path)
	}
	return full, nil
}

// Put writes to a temporary file and renames it into place, so readers
// never see a partial object.
func (s *FSStore) Put(ctx context.Context, path string, r io.Reader, _ int64, _ string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return apperrors.UploadFailed(err, "creating directory for %s", path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return apperrors.UploadFailed(err, "creating temp file for %s", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, contextReader{ctx, r}); err != nil {
		tmp.Close()
		return apperrors.UploadFailed(err, "writing %s", path)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.UploadFailed(err, "closing %s", path)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return apperrors.UploadFailed(err, "storing %s", path)
	}
	return nil
}

func (s *FSStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NotFound("object %s", path)
	}
	if err != nil {
		return nil, apperrors.UploadFailed(err, "opening %s", path)
	}
	return f, nil
}

func (s *FSStore) Exists(_ context.Context, path string) (bool, error) {
	full, err := s.resolve(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *FSStore) Delete(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	// Drop the per-upload directory once it is empty.
	if dir := filepath.Dir(full); dir != filepath.Clean(s.root) {
		_ = os.Remove(dir)
	}
	return nil
}

// Ping reports whether the root directory is reachable.
func (s *FSStore) Ping(context.Context) error {
	_, err := os.Stat(s.root)
	return err
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
