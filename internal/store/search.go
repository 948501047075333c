package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// Hit is one row of a keyword or vector sub-search.
type Hit struct {
	ChunkID    int64
	DocumentID int64
	Content    string
	Score      float64
}

// Stats counts what retrieval can see.
type Stats struct {
	TotalDocuments int64
	TotalChunks    int64
	EmbeddedChunks int64
}

// Keyword scores: the primary keyword as a substring, a full-text match on
// all keywords, and any keyword as a substring.
const (
	scoreSubstring = 1.0
	scoreFullText  = 0.8
	scoreFallback  = 0.5
)

var keywordQuery = fmt.Sprintf(`
	SELECT id, document_id, content,
		CASE
			WHEN content ILIKE $1 THEN %.1f
			WHEN to_tsvector('simple', content) @@ plainto_tsquery('simple', $2) THEN %.1f
			ELSE %.1f
		END AS score
	FROM document_chunks
	WHERE content ILIKE $1
	   OR to_tsvector('simple', content) @@ plainto_tsquery('simple', $2)
	   OR content ILIKE ANY($3)
	ORDER BY score DESC, id
	LIMIT $4`, scoreSubstring, scoreFullText, scoreFallback)

// KeywordSearch ranks chunks against keywords; keywords[0] is the primary
// keyword. No keywords means no hits.
func (s *Store) KeywordSearch(ctx context.Context, keywords []string, limit int) ([]Hit, error) {
	if len(keywords) == 0 || limit <= 0 {
		return nil, nil
	}
	patterns := make([]string, len(keywords))
	for i, kw := range keywords {
		patterns[i] = likePattern(kw)
	}

	rows, err := s.db.DB.QueryContext(ctx, keywordQuery,
		patterns[0], strings.Join(keywords, " "), pq.Array(patterns), limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("scanning keyword hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// VectorSearch returns the nearest chunks by cosine similarity. Chunks
// without an embedding are never returned.
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, limit int) ([]Hit, error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}
	q := pgvector.NewVector(embedding)
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, document_id, content, 1 - (embedding <=> $1) AS score
		 FROM document_chunks
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1, id
		 LIMIT $2`,
		q, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("scanning vector hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM document_chunks),
			(SELECT COUNT(*) FROM document_chunks WHERE embedding IS NOT NULL)`,
	).Scan(&st.TotalDocuments, &st.TotalChunks, &st.EmbeddedChunks)
	if err != nil {
		return Stats{}, fmt.Errorf("reading search stats: %w", err)
	}
	return st, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern matches kw anywhere, with LIKE metacharacters taken literally.
func likePattern(kw string) string {
	return "%" + likeEscaper.Replace(kw) + "%"
}
