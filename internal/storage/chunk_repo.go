package storage

import (
	"context"
	"fmt"

	"paperquery/internal/models"
)

type ChunkRecord struct {
	ChunkID          string
	PaperID          int64
	ChunkIndex       int
	Text             string
	Section          string
	PageStart        int
	PageEnd          int
	EmbeddingVersion string
	EmbeddingVector  *string
}

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

func (r *ChunkRepo) UpsertChunks(ctx context.Context, chunks []ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx upsert chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
INSERT INTO chunks (chunk_id, paper_id, chunk_index, text, section, page_start, page_end, embedding_version, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, CASE WHEN $9::text IS NULL THEN NULL ELSE $9::vector END)
ON CONFLICT (chunk_id)
DO UPDATE SET
  text = EXCLUDED.text,
  section = EXCLUDED.section,
  page_start = EXCLUDED.page_start,
  page_end = EXCLUDED.page_end,
  embedding_version = EXCLUDED.embedding_version,
  embedding = COALESCE(EXCLUDED.embedding, chunks.embedding)`,
			c.ChunkID, c.PaperID, c.ChunkIndex, c.Text, c.Section, c.PageStart, c.PageEnd, c.EmbeddingVersion, c.EmbeddingVector,
		)
		if err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks tx: %w", err)
	}
	return nil
}

func (r *ChunkRepo) ListChunksByPaper(ctx context.Context, paperID int64) ([]models.Chunk, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT chunk_id, paper_id, chunk_index, text, section, page_start, page_end, embedding_version, created_at
FROM chunks
WHERE paper_id=$1
ORDER BY chunk_index ASC`, paperID)
	if err != nil {
		return nil, fmt.Errorf("list chunks by paper: %w", err)
	}
	defer rows.Close()
	out := make([]models.Chunk, 0, 64)
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ChunkID, &c.PaperID, &c.ChunkIndex, &c.Text, &c.Section, &c.PageStart, &c.PageEnd, &c.EmbeddingVersion, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk by paper: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk by paper: %w", err)
	}
	return out, nil
}

func (r *ChunkRepo) CountChunksByPaper(ctx context.Context, paperID int64) (int, error) {
	var n int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE paper_id=$1`, paperID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks by paper: %w", err)
	}
	return n, nil
}
