package store

import (
	"context"
	"fmt"

	"github.com/devstudio-tyler/company-on/internal/document"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
)

const documentColumns = `id, title, filename, file_path, file_size, content_type, status,
	failure_class, metadata, created_at, updated_at`

func scanDocument(row scanner) (*document.Document, error) {
	var (
		d    document.Document
		meta []byte
	)
	err := row.Scan(&d.ID, &d.Title, &d.Filename, &d.StoragePath, &d.FileSize, &d.ContentType, &d.Status,
		&d.FailureClass, &meta, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if d.Metadata, err = document.UnmarshalMetadata(meta); err != nil {
		return nil, fmt.Errorf("document %d: %w", d.ID, err)
	}
	return &d, nil
}

// CreateDocument inserts d as processing and sets its id and timestamps.
func (s *Store) CreateDocument(ctx context.Context, d *document.Document) error {
	meta, err := document.MarshalMetadata(d.Metadata)
	if err != nil {
		return err
	}
	d.Status = document.DocumentProcessing
	d.FailureClass = apperrors.ClassNone
	err = s.db.DB.QueryRowContext(ctx,
		`INSERT INTO documents (title, filename, file_path, file_size, content_type, status, failure_class, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		truncate(d.Title, 255), d.Filename, d.StoragePath, d.FileSize, d.ContentType, d.Status, d.FailureClass, string(meta),
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating document: %w", err)
	}
	s.logger.Info("document created", "document_id", d.ID, "filename", d.Filename)
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id int64) (*document.Document, error) {
	d, err := scanDocument(s.db.DB.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "document %d", id)
	}
	return d, nil
}

// ListDocuments pages through documents newest first. status and search
// are optional; search matches title or filename.
func (s *Store) ListDocuments(ctx context.Context, status document.DocumentStatus, search string, limit, offset int) ([]document.Document, int, error) {
	pattern := ""
	if search != "" {
		pattern = likePattern(search)
	}
	const filter = `WHERE ($1 = '' OR status = $1) AND ($2 = '' OR title ILIKE $2 OR filename ILIKE $2)`

	var total int
	if err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents `+filter, status, pattern,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting documents: %w", err)
	}

	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents `+filter+`
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3 OFFSET $4`,
		status, pattern, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var out []document.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning document row: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ReopenDocument puts a failed or interrupted document back to processing
// so a retry can reuse it. A completed document is a conflict.
func (s *Store) ReopenDocument(ctx context.Context, id int64) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE documents SET status = 'processing', failure_class = 'none', updated_at = NOW()
		 WHERE id = $1 AND status IN ('failed', 'processing')`,
		id,
	)
	if err != nil {
		return fmt.Errorf("reopening document %d: %w", id, err)
	}
	if affected(res) == 0 {
		return s.documentConflict(ctx, id, "reopen")
	}
	return nil
}

// CompleteDocument stores the parsed metadata and marks the document
// completed.
func (s *Store) CompleteDocument(ctx context.Context, id int64, meta document.Metadata) error {
	raw, err := document.MarshalMetadata(meta)
	if err != nil {
		return err
	}
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE documents SET status = 'completed', metadata = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id, string(raw),
	)
	if err != nil {
		return fmt.Errorf("completing document %d: %w", id, err)
	}
	if affected(res) == 0 {
		return s.documentConflict(ctx, id, "complete")
	}
	return nil
}

func (s *Store) FailDocument(ctx context.Context, id int64, class apperrors.FailureClass) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE documents SET status = 'failed', failure_class = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id, class,
	)
	if err != nil {
		return fmt.Errorf("failing document %d: %w", id, err)
	}
	if affected(res) == 0 {
		return s.documentConflict(ctx, id, "fail")
	}
	return nil
}

// DeleteDocument removes a document; its chunks go with it.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	res, err := s.db.DB.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document %d: %w", id, err)
	}
	if affected(res) == 0 {
		return apperrors.NotFound("document %d", id)
	}
	s.logger.Info("document deleted", "document_id", id)
	return nil
}

func (s *Store) documentConflict(ctx context.Context, id int64, action string) error {
	d, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	return conflict("cannot %s document %d in status %s", action, id, d.Status)
}
