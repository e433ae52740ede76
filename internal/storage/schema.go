package storage

import (
	"context"
	"fmt"
)

// EnsureSchema creates the tables and indexes the module relies on.
// Every statement is idempotent so the call is safe on each startup.
func (d *DB) EnsureSchema(ctx context.Context, embedDim int) error {
	if embedDim <= 0 {
		embedDim = 384
	}
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS papers (
  paper_id BIGSERIAL PRIMARY KEY,
  filename TEXT NOT NULL,
  title TEXT,
  authors TEXT,
  year INT,
  pages INT,
  status TEXT NOT NULL DEFAULT 'processing' CHECK (status IN ('processing','ready','failed')),
  fail_reason TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chunks (
  chunk_id TEXT PRIMARY KEY,
  paper_id BIGINT NOT NULL REFERENCES papers(paper_id) ON DELETE CASCADE,
  chunk_index INT NOT NULL,
  text TEXT NOT NULL,
  section TEXT NOT NULL DEFAULT 'Unknown',
  page_start INT NOT NULL DEFAULT 0,
  page_end INT NOT NULL DEFAULT 0,
  embedding_version TEXT NOT NULL DEFAULT '',
  embedding vector(%d),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_chunks_paper ON chunks(paper_id, chunk_index);

CREATE TABLE IF NOT EXISTS queries (
  query_id BIGSERIAL PRIMARY KEY,
  question TEXT NOT NULL,
  response_time_ms INT NOT NULL DEFAULT 0,
  confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
  rating INT CHECK (rating BETWEEN 1 AND 5),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_queries_created ON queries(created_at DESC);

CREATE TABLE IF NOT EXISTS query_papers (
  query_id BIGINT NOT NULL REFERENCES queries(query_id) ON DELETE CASCADE,
  paper_id BIGINT NOT NULL,
  PRIMARY KEY (query_id, paper_id)
);
`, embedDim)
	if _, err := d.Pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
