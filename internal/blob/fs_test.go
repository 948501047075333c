package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devstudio-tyler/company-on/internal/document"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
)

func TestFSStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	path := document.StoragePath("u-1", "보고서.txt")
	ok, err := s.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, path, strings.NewReader("본문"), 6, "text/plain"))
	ok, err = s.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Get(ctx, path)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "본문", string(data))

	require.NoError(t, s.Delete(ctx, path))
	require.NoError(t, s.Delete(ctx, path), "deleting twice is fine")
	ok, err = s.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFSStoreMissingObject(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "uploads/none/x.pdf")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, apperrors.ClassUploadFailed, apperrors.Classify(err))
}

func TestFSStoreStaysInsideRoot(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "../../escape.txt", strings.NewReader("x"), 1, ""))
	ok, err := s.Exists(context.Background(), "escape.txt")
	require.NoError(t, err)
	assert.True(t, ok, "parent references are clamped to the root")
}
