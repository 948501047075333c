// Package maintenance holds the housekeeping jobs run by ragctl and the
// worker's background loop: re-embedding, stale-run reaping and cleanup of
// failed uploads and orphaned chunks.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/devstudio-tyler/company-on/internal/blob"
	"github.com/devstudio-tyler/company-on/internal/document"
	"github.com/devstudio-tyler/company-on/internal/store"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
)

const (
	DefaultFailedRetention = 7 * 24 * time.Hour
	DefaultStaleAfter      = 30 * time.Minute

	staleMessage = "processing timed out"
	pageSize     = 100
)

type Store interface {
	ChunksAfter(ctx context.Context, afterID int64, limit int) ([]store.ChunkText, error)
	UpdateChunkEmbedding(ctx context.Context, chunkID int64, embedding []float32) error
	DeleteOrphanedChunks(ctx context.Context) (int64, error)

	StaleSessions(ctx context.Context, before time.Time) ([]document.UploadSession, error)
	FailedSessions(ctx context.Context, before time.Time) ([]document.UploadSession, error)
	FailSession(ctx context.Context, id, message string, class apperrors.FailureClass) error
	DeleteSession(ctx context.Context, id string) error
	FailDocument(ctx context.Context, id int64, class apperrors.FailureClass) error
	DeleteDocument(ctx context.Context, id int64) error
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Report counts what a job touched.
type Report struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("processed", r.Processed),
		slog.Int("succeeded", r.Succeeded),
		slog.Int("failed", r.Failed),
	)
}

type Maintainer struct {
	store    Store
	blobs    blob.Store
	embedder Embedder
	now      func() time.Time
	logger   *slog.Logger
}

// New builds a Maintainer. embedder may be nil when RegenerateEmbeddings is
// not used.
func New(st Store, blobs blob.Store, embedder Embedder) *Maintainer {
	return &Maintainer{
		store:    st,
		blobs:    blobs,
		embedder: embedder,
		now:      time.Now,
		logger:   slog.Default().With("component", "maintenance"),
	}
}

// RegenerateEmbeddings re-embeds every chunk with content, one chunk at a
// time. A chunk that fails is logged and skipped.
func (m *Maintainer) RegenerateEmbeddings(ctx context.Context) (Report, error) {
	if m.embedder == nil {
		return Report{}, errors.New("regenerate embeddings: no embedder configured")
	}
	var (
		report Report
		after  int64
	)
	for {
		page, err := m.store.ChunksAfter(ctx, after, pageSize)
		if err != nil {
			return report, fmt.Errorf("listing chunks after %d: %w", after, err)
		}
		if len(page) == 0 {
			break
		}
		for _, c := range page {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Processed++
			if err := m.reembed(ctx, c); err != nil {
				report.Failed++
				m.logger.Warn("re-embedding chunk failed", "chunk_id", c.ID, "error", err)
				continue
			}
			report.Succeeded++
		}
		after = page[len(page)-1].ID
		m.logger.Info("re-embedding progress", "report", report)
	}
	m.logger.Info("re-embedding finished", "report", report)
	return report, nil
}

func (m *Maintainer) reembed(ctx context.Context, c store.ChunkText) error {
	vectors, err := m.embedder.EmbedBatch(ctx, []string{c.Content})
	if err != nil {
		return err
	}
	if len(vectors) != 1 {
		return fmt.Errorf("expected one vector, got %d", len(vectors))
	}
	return m.store.UpdateChunkEmbedding(ctx, c.ID, vectors[0])
}

// ReapStaleSessions fails processing sessions whose run stopped reporting
// progress more than staleAfter ago. They become retryable.
func (m *Maintainer) ReapStaleSessions(ctx context.Context, staleAfter time.Duration) (Report, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	sessions, err := m.store.StaleSessions(ctx, m.now().Add(-staleAfter))
	if err != nil {
		return Report{}, err
	}
	var report Report
	for _, sess := range sessions {
		report.Processed++
		if err := m.store.FailSession(ctx, sess.ID, staleMessage, apperrors.ClassProcessingFailed); err != nil {
			report.Failed++
			m.logger.Warn("reaping stale session failed", "upload_id", sess.ID, "error", err)
			continue
		}
		if sess.DocumentID != nil {
			err := m.store.FailDocument(ctx, *sess.DocumentID, apperrors.ClassProcessingFailed)
			if err != nil && !errors.Is(err, apperrors.ErrStatusConflict) {
				m.logger.Warn("failing stale document", "document_id", *sess.DocumentID, "error", err)
			}
		}
		report.Succeeded++
		m.logger.Info("stale session reaped", "upload_id", sess.ID, "last_update", sess.UpdatedAt)
	}
	return report, nil
}

// CleanupFailedUploads removes failed sessions created before olderThan ago
// together with their blobs and any document they produced.
func (m *Maintainer) CleanupFailedUploads(ctx context.Context, olderThan time.Duration) (Report, error) {
	if olderThan <= 0 {
		olderThan = DefaultFailedRetention
	}
	sessions, err := m.store.FailedSessions(ctx, m.now().Add(-olderThan))
	if err != nil {
		return Report{}, err
	}
	var report Report
	for _, sess := range sessions {
		report.Processed++
		if err := m.removeUpload(ctx, sess); err != nil {
			report.Failed++
			m.logger.Warn("removing failed upload", "upload_id", sess.ID, "error", err)
			continue
		}
		report.Succeeded++
	}
	m.logger.Info("failed uploads cleaned", "report", report)
	return report, nil
}

func (m *Maintainer) removeUpload(ctx context.Context, sess document.UploadSession) error {
	if err := m.blobs.Delete(ctx, sess.StoragePath()); err != nil {
		return err
	}
	if sess.DocumentID != nil {
		if err := m.store.DeleteDocument(ctx, *sess.DocumentID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
	}
	return m.store.DeleteSession(ctx, sess.ID)
}

// CleanupOrphanedChunks deletes chunks whose document no longer exists.
func (m *Maintainer) CleanupOrphanedChunks(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteOrphanedChunks(ctx)
	if err != nil {
		return 0, err
	}
	m.logger.Info("orphaned chunks removed", "count", n)
	return n, nil
}

// Schedule configures RunPeriodic.
type Schedule struct {
	Interval        time.Duration
	StaleAfter      time.Duration
	FailedRetention time.Duration
}

// RunPeriodic reaps stale sessions and cleans failed uploads every interval
// until ctx is done.
func (m *Maintainer) RunPeriodic(ctx context.Context, s Schedule) {
	if s.Interval <= 0 {
		s.Interval = 5 * time.Minute
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.ReapStaleSessions(ctx, s.StaleAfter); err != nil {
				m.logger.Error("reaping stale sessions", "error", err)
			}
			if _, err := m.CleanupFailedUploads(ctx, s.FailedRetention); err != nil {
				m.logger.Error("cleaning failed uploads", "error", err)
			}
		}
	}
}
