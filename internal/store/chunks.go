package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/devstudio-tyler/company-on/internal/document"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
	"github.com/pgvector/pgvector-go"
)

const chunkInsertColumns = 7

// ChunkText is the minimum a re-embedding pass needs.
type ChunkText struct {
	ID      int64
	Content string
}

// ReplaceChunks swaps a document's chunks for chunks in one transaction, so
// readers see either the previous set or the new one. Indices must run
// 0..N-1 in order.
func (s *Store) ReplaceChunks(ctx context.Context, documentID int64, chunks []document.Chunk) error {
	for i, c := range chunks {
		if c.Index != i {
			return apperrors.ValidationFailure("chunk %d of document %d has index %d", i, documentID, c.Index)
		}
	}

	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("clearing chunks of document %d: %w", documentID, err)
		}
		for start := 0; start < len(chunks); start += s.insertBatch {
			end := min(start+s.insertBatch, len(chunks))
			if err := insertChunks(ctx, tx, documentID, chunks[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("chunks stored", "document_id", documentID, "count", len(chunks))
	return nil
}

func insertChunks(ctx context.Context, tx *sql.Tx, documentID int64, batch []document.Chunk) error {
	var b strings.Builder
	b.WriteString(`INSERT INTO document_chunks
		(document_id, chunk_index, chunk_type, content, token_count, embedding, metadata) VALUES `)
	args := make([]any, 0, len(batch)*chunkInsertColumns)
	for i, c := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * chunkInsertColumns
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)

		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encoding chunk %d metadata: %w", c.Index, err)
		}
		var embedding any
		if len(c.Embedding) > 0 {
			embedding = pgvector.NewVector(c.Embedding)
		}
		chunkType := c.Type
		if chunkType == "" {
			chunkType = document.ChunkText
		}
		args = append(args, documentID, c.Index, chunkType, c.Content, c.TokenCount, embedding, string(meta))
	}
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("inserting %d chunks for document %d: %w", len(batch), documentID, err)
	}
	return nil
}

// Chunks returns a document's chunks in index order, embeddings included.
func (s *Store) Chunks(ctx context.Context, documentID int64) ([]document.Chunk, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, chunk_type, content, token_count, embedding, metadata
		 FROM document_chunks WHERE document_id = $1 ORDER BY chunk_index`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing chunks of document %d: %w", documentID, err)
	}
	defer rows.Close()

	var out []document.Chunk
	for rows.Next() {
		var (
			c    document.Chunk
			vec  *pgvector.Vector
			meta []byte
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Type, &c.Content, &c.TokenCount, &vec, &meta); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		if vec != nil {
			c.Embedding = vec.Slice()
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Metadata); err != nil {
				return nil, fmt.Errorf("decoding chunk %d metadata: %w", c.ID, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ChunkCount(ctx context.Context, documentID int64) (int, error) {
	var n int
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_chunks WHERE document_id = $1`, documentID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chunks of document %d: %w", documentID, err)
	}
	return n, nil
}

// ChunksAfter pages through chunks with non-empty content by ascending id.
func (s *Store) ChunksAfter(ctx context.Context, afterID int64, limit int) ([]ChunkText, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, content FROM document_chunks
		 WHERE id > $1 AND LENGTH(content) > 0
		 ORDER BY id
		 LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing chunks after %d: %w", afterID, err)
	}
	defer rows.Close()

	var out []ChunkText
	for rows.Next() {
		var c ChunkText
		if err := rows.Scan(&c.ID, &c.Content); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateChunkEmbedding(ctx context.Context, chunkID int64, embedding []float32) error {
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE document_chunks SET embedding = $2 WHERE id = $1`,
		chunkID, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("updating embedding of chunk %d: %w", chunkID, err)
	}
	if affected(res) == 0 {
		return apperrors.NotFound("chunk %d", chunkID)
	}
	return nil
}

// DeleteOrphanedChunks removes chunks whose document no longer exists and
// reports how many went.
func (s *Store) DeleteOrphanedChunks(ctx context.Context) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM document_chunks dc
		 WHERE NOT EXISTS (SELECT 1 FROM documents d WHERE d.id = dc.document_id)`,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting orphaned chunks: %w", err)
	}
	n := affected(res)
	if n > 0 {
		s.logger.Info("orphaned chunks deleted", "count", n)
	}
	return n, nil
}
