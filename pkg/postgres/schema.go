package postgres

import (
	"context"
	"fmt"
)

// schema creates the tables on first start. The embedding column width is
// fixed by the configured model dimension.
const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
	id            BIGSERIAL PRIMARY KEY,
	title         VARCHAR(255) NOT NULL,
	filename      VARCHAR(255) NOT NULL,
	file_path     VARCHAR(500) NOT NULL,
	file_size     BIGINT NOT NULL,
	content_type  VARCHAR(100) NOT NULL,
	status        VARCHAR(20) NOT NULL DEFAULT 'processing',
	failure_class VARCHAR(32) NOT NULL DEFAULT 'none',
	metadata      JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status);

CREATE TABLE IF NOT EXISTS document_chunks (
	id          BIGSERIAL PRIMARY KEY,
	document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	chunk_type  VARCHAR(32) NOT NULL DEFAULT 'text',
	content     TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	embedding   vector(%[1]d),
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (document_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding_hnsw
	ON document_chunks USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64);
CREATE INDEX IF NOT EXISTS idx_document_chunks_fts
	ON document_chunks USING gin (to_tsvector('simple', content));

CREATE TABLE IF NOT EXISTS upload_sessions (
	id            VARCHAR(255) PRIMARY KEY,
	filename      VARCHAR(255) NOT NULL,
	file_size     BIGINT NOT NULL,
	uploaded_size BIGINT NOT NULL DEFAULT 0,
	content_type  VARCHAR(100) NOT NULL,
	status        VARCHAR(20) NOT NULL DEFAULT 'init',
	document_id   BIGINT,
	error_message VARCHAR(500),
	failure_class VARCHAR(32) NOT NULL DEFAULT 'none',
	retryable     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_upload_sessions_status ON upload_sessions (status);
CREATE INDEX IF NOT EXISTS idx_upload_sessions_created ON upload_sessions (created_at DESC);
`

// Migrate applies the schema idempotently.
func (c *Client) Migrate(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("migrate: invalid embedding dimension %d", dimension)
	}
	if _, err := c.DB.ExecContext(ctx, fmt.Sprintf(schema, dimension)); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
