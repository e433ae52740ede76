package storage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"paperquery/internal/models"
)

type QueryRepo struct {
	db *DB
}

func NewQueryRepo(db *DB) *QueryRepo {
	return &QueryRepo{db: db}
}

func (r *QueryRepo) SaveQuery(ctx context.Context, rec models.QueryRecord) (int64, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx save query: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var id int64
	err = tx.QueryRow(ctx, `
INSERT INTO queries (question, response_time_ms, confidence, rating)
VALUES ($1, $2, $3, $4)
RETURNING query_id`,
		rec.Question, rec.ResponseTimeMs, rec.Confidence, rec.Rating,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save query: %w", err)
	}
	for _, pid := range rec.PaperIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO query_papers (query_id, paper_id) VALUES ($1, $2)`, id, pid); err != nil {
			return 0, fmt.Errorf("save query paper ref: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit save query tx: %w", err)
	}
	return id, nil
}

func (r *QueryRepo) ListRecentQueries(ctx context.Context, limit int) ([]models.QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT q.query_id, q.question, q.response_time_ms, q.confidence, q.rating, q.created_at,
       COALESCE(ARRAY_AGG(qp.paper_id) FILTER (WHERE qp.paper_id IS NOT NULL), '{}')
FROM queries q
LEFT JOIN query_papers qp ON qp.query_id = q.query_id
GROUP BY q.query_id
ORDER BY q.created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent queries: %w", err)
	}
	defer rows.Close()

	out := make([]models.QueryRecord, 0, limit)
	for rows.Next() {
		var rec models.QueryRecord
		if err := rows.Scan(&rec.ID, &rec.Question, &rec.ResponseTimeMs, &rec.Confidence, &rec.Rating, &rec.CreatedAt, &rec.PaperIDs); err != nil {
			return nil, fmt.Errorf("scan recent query: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent queries: %w", err)
	}
	return out, nil
}

func (r *QueryRepo) SetRating(ctx context.Context, queryID int64, rating int) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE queries SET rating=$2 WHERE query_id=$1`, queryID, rating)
	if err != nil {
		return fmt.Errorf("set query rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set query rating %d: %w", queryID, ErrNotFound)
	}
	return nil
}

type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

var topicStopwords = map[string]bool{}

func init() {
	for _, w := range strings.Fields("the a an and or of to in on for with from is are was were be been being this that those these what which who why how into across between by as using use method methods methodology results discussion conclusion abstract paper model models algorithm algorithms study studies research") {
		topicStopwords[w] = true
	}
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9\s]`)

// PopularTopics computes a keyword frequency table over the last 200
// questions. Naive, but good enough for a dashboard widget.
func (r *QueryRepo) PopularTopics(ctx context.Context, limit int) ([]TopicCount, error) {
	if limit <= 0 {
		limit = 10
	}
	recent, err := r.ListRecentQueries(ctx, 200)
	if err != nil {
		return nil, fmt.Errorf("popular topics: %w", err)
	}

	counts := make(map[string]int)
	for _, rec := range recent {
		q := nonAlnumRe.ReplaceAllString(strings.ToLower(rec.Question), " ")
		for _, w := range strings.Fields(q) {
			if len(w) < 3 || topicStopwords[w] {
				continue
			}
			counts[w]++
		}
	}

	out := make([]TopicCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, TopicCount{Topic: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Topic < out[j].Topic
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
