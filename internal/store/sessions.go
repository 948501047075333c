package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/devstudio-tyler/company-on/internal/document"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
)

const sessionColumns = `id, filename, file_size, uploaded_size, content_type, status,
	document_id, error_message, failure_class, retryable, created_at, updated_at`

func scanSession(row scanner) (*document.UploadSession, error) {
	var (
		s       document.UploadSession
		docID   sql.NullInt64
		message sql.NullString
	)
	err := row.Scan(&s.ID, &s.Filename, &s.FileSize, &s.UploadedSize, &s.ContentType, &s.Status,
		&docID, &message, &s.FailureClass, &s.Retryable, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if docID.Valid {
		id := docID.Int64
		s.DocumentID = &id
	}
	s.ErrorMessage = message.String
	return &s, nil
}

// CreateSession inserts s in its current status and fills the timestamps.
func (s *Store) CreateSession(ctx context.Context, sess *document.UploadSession) error {
	if sess.Status == "" {
		sess.Status = document.SessionInit
	}
	if sess.FailureClass == "" {
		sess.FailureClass = apperrors.ClassNone
	}
	err := s.db.DB.QueryRowContext(ctx,
		`INSERT INTO upload_sessions (id, filename, file_size, uploaded_size, content_type, status, failure_class)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		sess.ID, sess.Filename, sess.FileSize, sess.UploadedSize, sess.ContentType, sess.Status, sess.FailureClass,
	).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating upload session: %w", err)
	}
	s.logger.Info("upload session created", "upload_id", sess.ID, "filename", sess.Filename, "size", sess.FileSize)
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*document.UploadSession, error) {
	sess, err := scanSession(s.db.DB.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM upload_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "upload session %s", id)
	}
	return sess, nil
}

// ListSessions pages through sessions newest first. An empty status lists
// every session. The total ignores limit and offset.
func (s *Store) ListSessions(ctx context.Context, status document.SessionStatus, limit, offset int) ([]document.UploadSession, int, error) {
	var total int
	if err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM upload_sessions WHERE $1 = '' OR status = $1`, status,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting upload sessions: %w", err)
	}

	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM upload_sessions
		 WHERE $1 = '' OR status = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		status, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing upload sessions: %w", err)
	}
	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

func collectSessions(rows *sql.Rows) ([]document.UploadSession, error) {
	defer rows.Close()
	var out []document.UploadSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning upload session row: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// SessionForDocument returns the most recent upload session linked to a
// document.
func (s *Store) SessionForDocument(ctx context.Context, documentID int64) (*document.UploadSession, error) {
	sess, err := scanSession(s.db.DB.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM upload_sessions
		 WHERE document_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		documentID,
	))
	if err != nil {
		return nil, notFoundOr(err, "upload session for document %d", documentID)
	}
	return sess, nil
}

// ClaimSession moves a pending session to processing and returns it. A
// session already processing is only taken over once its last update is
// older than staleBefore; otherwise ErrPipelineBusy. This is the per-upload
// run lock.
func (s *Store) ClaimSession(ctx context.Context, id string, staleBefore time.Time) (*document.UploadSession, error) {
	sess, err := scanSession(s.db.DB.QueryRowContext(ctx,
		`UPDATE upload_sessions
		 SET status = 'processing', error_message = NULL, failure_class = 'none', retryable = false, updated_at = NOW()
		 WHERE id = $1 AND (status = 'pending' OR (status = 'processing' AND updated_at < $2))
		 RETURNING `+sessionColumns,
		id, staleBefore,
	))
	if err == nil {
		return sess, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("claiming upload session %s: %w", id, err)
	}

	current, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == document.SessionProcessing {
		return nil, apperrors.Newf(apperrors.ErrPipelineBusy, http.StatusConflict,
			"upload %s is already being processed", id)
	}
	return nil, conflict("upload %s is %s, expected pending", id, current.Status)
}

// TransitionSession moves a session from → to if it is still in from.
// message replaces the stored message; empty clears it.
func (s *Store) TransitionSession(ctx context.Context, id string, from, to document.SessionStatus, message string) error {
	if !document.CanTransition(from, to) {
		return conflict("upload %s cannot move from %s to %s", id, from, to)
	}
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE upload_sessions SET status = $3, error_message = $4, updated_at = NOW()
		 WHERE id = $1 AND status = $2`,
		id, from, to, nullString(message),
	)
	if err != nil {
		return fmt.Errorf("updating upload session %s: %w", id, err)
	}
	if affected(res) == 0 {
		return s.sessionConflict(ctx, id, from)
	}
	return nil
}

func (s *Store) sessionConflict(ctx context.Context, id string, expected document.SessionStatus) error {
	current, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return conflict("upload %s is %s, expected %s", id, current.Status, expected)
}

// UpdateSessionMessage records progress on a processing session. It also
// refreshes updated_at, which ClaimSession reads as a heartbeat.
func (s *Store) UpdateSessionMessage(ctx context.Context, id, message string) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE upload_sessions SET error_message = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id, nullString(message),
	)
	if err != nil {
		return fmt.Errorf("updating upload session message %s: %w", id, err)
	}
	if affected(res) == 0 {
		return s.sessionConflict(ctx, id, document.SessionProcessing)
	}
	return nil
}

func (s *Store) SetUploadedSize(ctx context.Context, id string, size int64) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE upload_sessions SET uploaded_size = $2, updated_at = NOW() WHERE id = $1`,
		id, size,
	)
	if err != nil {
		return fmt.Errorf("updating uploaded size %s: %w", id, err)
	}
	if affected(res) == 0 {
		return apperrors.NotFound("upload session %s", id)
	}
	return nil
}

// LinkDocument sets document_id once. Linking the same document again is a
// no-op; linking a different one is a conflict.
func (s *Store) LinkDocument(ctx context.Context, id string, documentID int64) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE upload_sessions SET document_id = $2, updated_at = NOW()
		 WHERE id = $1 AND document_id IS NULL`,
		id, documentID,
	)
	if err != nil {
		return fmt.Errorf("linking document to upload %s: %w", id, err)
	}
	if affected(res) == 1 {
		return nil
	}
	current, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if current.DocumentID != nil && *current.DocumentID == documentID {
		return nil
	}
	return conflict("upload %s is already linked to another document", id)
}

// FailSession marks a non-terminal session failed with its classification.
func (s *Store) FailSession(ctx context.Context, id, message string, class apperrors.FailureClass) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE upload_sessions
		 SET status = 'failed', error_message = $2, failure_class = $3, retryable = $4, updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, nullString(truncate(message, 500)), class, class.Retryable(),
	)
	if err != nil {
		return fmt.Errorf("failing upload session %s: %w", id, err)
	}
	if affected(res) == 0 {
		current, err := s.GetSession(ctx, id)
		if err != nil {
			return err
		}
		return conflict("upload %s is already %s", id, current.Status)
	}
	s.logger.Info("upload session failed", "upload_id", id, "failure_class", class)
	return nil
}

// CompleteSession finishes a processing session and links its document.
func (s *Store) CompleteSession(ctx context.Context, id string, documentID int64) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE upload_sessions
		 SET status = 'completed', document_id = $2, error_message = NULL,
		     failure_class = 'none', retryable = false, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing' AND (document_id IS NULL OR document_id = $2)`,
		id, documentID,
	)
	if err != nil {
		return fmt.Errorf("completing upload session %s: %w", id, err)
	}
	if affected(res) == 0 {
		return s.sessionConflict(ctx, id, document.SessionProcessing)
	}
	return nil
}

// ReleaseSession hands a processing session back as pending after its run
// was interrupted, so the next claim does not wait for the stale window.
func (s *Store) ReleaseSession(ctx context.Context, id string) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE upload_sessions
		 SET status = 'pending', error_message = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("releasing upload session %s: %w", id, err)
	}
	if affected(res) == 0 {
		return s.sessionConflict(ctx, id, document.SessionProcessing)
	}
	s.logger.Info("upload session released", "upload_id", id)
	return nil
}

// RetrySession moves a retryable failed session back to pending.
func (s *Store) RetrySession(ctx context.Context, id string) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE upload_sessions
		 SET status = 'pending', error_message = NULL, failure_class = 'none', retryable = false, updated_at = NOW()
		 WHERE id = $1 AND status = 'failed' AND retryable`,
		id,
	)
	if err != nil {
		return fmt.Errorf("retrying upload session %s: %w", id, err)
	}
	if affected(res) == 1 {
		return nil
	}
	current, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	return apperrors.Newf(apperrors.ErrRetryNotAllowed, http.StatusConflict,
		"upload %s is %s (failure class %s) and cannot be retried", id, current.Status, current.FailureClass)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.DB.ExecContext(ctx, `DELETE FROM upload_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting upload session %s: %w", id, err)
	}
	if affected(res) == 0 {
		return apperrors.NotFound("upload session %s", id)
	}
	s.logger.Info("upload session deleted", "upload_id", id)
	return nil
}

// StaleSessions returns processing sessions not touched since before.
func (s *Store) StaleSessions(ctx context.Context, before time.Time) ([]document.UploadSession, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM upload_sessions
		 WHERE status = 'processing' AND updated_at < $1
		 ORDER BY updated_at`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stale sessions: %w", err)
	}
	return collectSessions(rows)
}

// FailedSessions returns failed sessions created before the cutoff.
func (s *Store) FailedSessions(ctx context.Context, before time.Time) ([]document.UploadSession, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM upload_sessions
		 WHERE status = 'failed' AND created_at < $1
		 ORDER BY created_at`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("listing failed sessions: %w", err)
	}
	return collectSessions(rows)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
