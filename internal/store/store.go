// Package store persists documents, chunks and upload sessions in
// PostgreSQL and runs the keyword and vector halves of hybrid retrieval
// against the chunk table. Status changes are compare-and-set updates, so
// two workers racing on the same upload cannot both win.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
	"github.com/devstudio-tyler/company-on/pkg/postgres"
)

const defaultInsertBatch = 200

// Store is the PostgreSQL-backed repository for every persisted model.
type Store struct {
	db          *postgres.Client
	insertBatch int
	logger      *slog.Logger
}

// New wraps db. insertBatch bounds the rows per multi-row chunk INSERT.
func New(db *postgres.Client, insertBatch int) *Store {
	if insertBatch <= 0 {
		insertBatch = defaultInsertBatch
	}
	return &Store{
		db:          db,
		insertBatch: insertBatch,
		logger:      slog.Default().With("component", "store"),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func affected(res sql.Result) int64 {
	n, _ := res.RowsAffected()
	return n
}

func conflict(format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrStatusConflict, http.StatusConflict, format, args...)
}

func notFoundOr(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(format, args...)
	}
	return fmt.Errorf("querying "+format+": %w", append(args, err)...)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
