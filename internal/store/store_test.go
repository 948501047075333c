package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/devstudio-tyler/company-on/internal/document"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
	"github.com/devstudio-tyler/company-on/pkg/postgres"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 3

func TestLikePatternEscapesMetacharacters(t *testing.T) {
	assert.Equal(t, `%연차%`, likePattern("연차"))
	assert.Equal(t, `%100\%%`, likePattern("100%"))
	assert.Equal(t, `%a\_b%`, likePattern("a_b"))
	assert.Equal(t, `%c:\\dir%`, likePattern(`c:\dir`))
}

func TestTruncateCountsRunes(t *testing.T) {
	assert.Equal(t, "가나", truncate("가나다", 2))
	assert.Equal(t, "abc", truncate("abc", 5))
}

// openTestStore connects to CO_TEST_POSTGRES_DSN (a database with the
// pgvector extension available) or skips.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CO_TEST_POSTGRES_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	client := &postgres.Client{DB: db}
	ctx := context.Background()
	_, err = db.ExecContext(ctx, `DROP TABLE IF EXISTS document_chunks, documents, upload_sessions`)
	require.NoError(t, err)
	require.NoError(t, client.Migrate(ctx, testDimension))
	return New(client, 2)
}

func newSession(t *testing.T, s *Store, status document.SessionStatus) *document.UploadSession {
	t.Helper()
	sess := &document.UploadSession{
		ID:          uuid.NewString(),
		Filename:    "handbook.pdf",
		FileSize:    1024,
		ContentType: document.MediaPDF,
		Status:      status,
	}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := newSession(t, s, document.SessionPending)

	claimed, err := s.ClaimSession(ctx, sess.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, document.SessionProcessing, claimed.Status)

	_, err = s.ClaimSession(ctx, sess.ID, time.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, apperrors.ErrPipelineBusy)

	require.NoError(t, s.UpdateSessionMessage(ctx, sess.ID, "parsing"))

	doc := &document.Document{Title: "handbook", Filename: "handbook.pdf", StoragePath: sess.StoragePath(), FileSize: 1024, ContentType: document.MediaPDF}
	require.NoError(t, s.CreateDocument(ctx, doc))
	require.NoError(t, s.LinkDocument(ctx, sess.ID, doc.ID))
	require.NoError(t, s.LinkDocument(ctx, sess.ID, doc.ID))
	assert.ErrorIs(t, s.LinkDocument(ctx, sess.ID, doc.ID+1), apperrors.ErrStatusConflict)

	require.NoError(t, s.CompleteSession(ctx, sess.ID, doc.ID))
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, document.SessionCompleted, got.Status)
	require.NotNil(t, got.DocumentID)
	assert.Equal(t, doc.ID, *got.DocumentID)
	assert.Empty(t, got.ErrorMessage)

	assert.ErrorIs(t, s.FailSession(ctx, sess.ID, "late", apperrors.ClassProcessingFailed), apperrors.ErrStatusConflict)
}

func TestClaimTakesOverStaleRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := newSession(t, s, document.SessionPending)

	_, err := s.ClaimSession(ctx, sess.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = s.ClaimSession(ctx, sess.ID, time.Now().Add(time.Minute))
	require.NoError(t, err)
}

func TestRetryOnlyFromRetryableFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	terminal := newSession(t, s, document.SessionPending)
	require.NoError(t, s.FailSession(ctx, terminal.ID, "unsupported", apperrors.ClassUploadFailed))
	assert.ErrorIs(t, s.RetrySession(ctx, terminal.ID), apperrors.ErrRetryNotAllowed)

	transient := newSession(t, s, document.SessionPending)
	require.NoError(t, s.FailSession(ctx, transient.ID, "embedding down", apperrors.ClassProcessingFailed))
	got, err := s.GetSession(ctx, transient.ID)
	require.NoError(t, err)
	assert.True(t, got.Retryable)

	require.NoError(t, s.RetrySession(ctx, transient.ID))
	got, err = s.GetSession(ctx, transient.ID)
	require.NoError(t, err)
	assert.Equal(t, document.SessionPending, got.Status)
	assert.Equal(t, apperrors.ClassNone, got.FailureClass)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTransitionIsCompareAndSet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := newSession(t, s, document.SessionInit)

	require.NoError(t, s.TransitionSession(ctx, sess.ID, document.SessionInit, document.SessionUploading, ""))
	assert.ErrorIs(t, s.TransitionSession(ctx, sess.ID, document.SessionInit, document.SessionUploading, ""), apperrors.ErrStatusConflict)
	assert.ErrorIs(t, s.TransitionSession(ctx, sess.ID, document.SessionUploading, document.SessionCompleted, ""), apperrors.ErrStatusConflict)
}

func TestChunksAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := &document.Document{Title: "policy", Filename: "policy.txt", StoragePath: "uploads/x/policy.txt", FileSize: 10, ContentType: document.MediaText}
	require.NoError(t, s.CreateDocument(ctx, doc))

	chunks := []document.Chunk{
		{Index: 0, Content: "연차 휴가는 입사 1년 후 15일이 부여됩니다.", TokenCount: 12, Embedding: []float32{1, 0, 0}},
		{Index: 1, Content: "출장비 정산은 월말까지 제출합니다.", TokenCount: 10, Embedding: []float32{0, 1, 0}},
		{Index: 2, Content: "휴가 신청은 포털에서 합니다.", TokenCount: 8},
	}
	require.NoError(t, s.ReplaceChunks(ctx, doc.ID, chunks))
	require.NoError(t, s.ReplaceChunks(ctx, doc.ID, chunks))

	n, err := s.ChunkCount(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stored, err := s.Chunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, c := range stored {
		assert.Equal(t, i, c.Index)
	}
	assert.Nil(t, stored[2].Embedding)

	hits, err := s.KeywordSearch(ctx, []string{"연차", "휴가"}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, stored[0].ID, hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)

	vhits, err := s.VectorSearch(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, vhits, 2)
	assert.Equal(t, stored[0].ID, vhits[0].ChunkID)
	assert.InDelta(t, 1.0, vhits[0].Score, 1e-6)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalDocuments: 1, TotalChunks: 3, EmbeddedChunks: 2}, st)

	bad := []document.Chunk{{Index: 1, Content: "x"}}
	assert.ErrorIs(t, s.ReplaceChunks(ctx, doc.ID, bad), apperrors.ErrValidationFailure)

	require.NoError(t, s.UpdateChunkEmbedding(ctx, stored[2].ID, []float32{0, 0, 1}))
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.EmbeddedChunks)

	require.NoError(t, s.DeleteDocument(ctx, doc.ID))
	n, err = s.ChunkCount(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n, fmt.Sprintf("chunks of document %d should cascade", doc.ID))
}

func TestReleaseSessionReturnsItToPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := newSession(t, s, document.SessionPending)

	_, err := s.ClaimSession(ctx, sess.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.ReleaseSession(ctx, sess.ID))

	_, err = s.ClaimSession(ctx, sess.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err, "a released session is claimed without waiting for the stale window")

	require.NoError(t, s.FailSession(ctx, sess.ID, "boom", apperrors.ClassProcessingFailed))
	assert.ErrorIs(t, s.ReleaseSession(ctx, sess.ID), apperrors.ErrStatusConflict)
}

func TestListDocumentsAndLinkedSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"취업규칙.pdf", "expense.xlsx", "handbook.docx"} {
		doc := &document.Document{Title: name, Filename: name, StoragePath: "uploads/x/" + name, FileSize: 1, ContentType: document.DetectMediaType(name, "")}
		require.NoError(t, s.CreateDocument(ctx, doc))
	}
	all, total, err := s.ListDocuments(ctx, "", "", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, all, 2)

	found, total, err := s.ListDocuments(ctx, document.DocumentProcessing, "취업", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, found, 1)
	assert.Equal(t, "취업규칙.pdf", found[0].Filename)

	_, err = s.SessionForDocument(ctx, found[0].ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	sess := newSession(t, s, document.SessionPending)
	_, err = s.ClaimSession(ctx, sess.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.LinkDocument(ctx, sess.ID, found[0].ID))
	linked, err := s.SessionForDocument(ctx, found[0].ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, linked.ID)
}
