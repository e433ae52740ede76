package vector

import (
	"context"
	"fmt"
	"strings"

	"paperquery/internal/models"

	"github.com/jackc/pgx/v5"
)

type SearchFilters struct {
	PaperIDs         []int64
	EmbeddingVersion string
}

type Searcher struct {
	q Queryer
}

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func NewSearcher(q Queryer) *Searcher {
	return &Searcher{q: q}
}

// SearchChunks runs a cosine similarity search over embedded chunks and
// returns the topK nearest hits, most similar first. Scores are
// 1 - cosine distance, so higher means closer.
func (s *Searcher) SearchChunks(ctx context.Context, queryVec []float32, topK int, filters SearchFilters) ([]models.ChunkHit, error) {
	if topK <= 0 {
		topK = 8
	}
	vecLiteral := ToLiteral(queryVec)
	args := []any{vecLiteral, topK}

	filterSQL := ""
	if len(filters.PaperIDs) > 0 {
		args = append(args, filters.PaperIDs)
		filterSQL += fmt.Sprintf(" AND c.paper_id = ANY($%d)", len(args))
	}
	if strings.TrimSpace(filters.EmbeddingVersion) != "" {
		args = append(args, filters.EmbeddingVersion)
		filterSQL += fmt.Sprintf(" AND c.embedding_version = $%d", len(args))
	}

	query := `
SELECT c.chunk_id,
       c.paper_id,
       COALESCE(p.title, p.filename) AS title,
       p.filename,
       c.section,
       c.page_start,
       c.page_end,
       c.chunk_index,
       c.text,
       1 - (c.embedding <=> $1::vector) AS score
FROM chunks c
JOIN papers p ON p.paper_id = c.paper_id
WHERE c.embedding IS NOT NULL
  AND p.status = 'ready'` + filterSQL + `
ORDER BY c.embedding <=> $1::vector
LIMIT $2`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	results := make([]models.ChunkHit, 0, topK)
	for rows.Next() {
		var r models.ChunkHit
		if err := rows.Scan(&r.ChunkID, &r.PaperID, &r.Title, &r.Filename, &r.Section, &r.PageStart, &r.PageEnd, &r.ChunkIndex, &r.Text, &r.Score); err != nil {
			return nil, fmt.Errorf("scan chunk hit: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return results, nil
}

func ToLiteral(v []float32) string {
	parts := make([]string, 0, len(v))
	for _, x := range v {
		parts = append(parts, fmt.Sprintf("%f", x))
	}
	return "[" + strings.Join(parts, ",") + "]"
}
