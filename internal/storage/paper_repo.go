package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"paperquery/internal/models"
)

type PaperRepo struct {
	db *DB
}

func NewPaperRepo(db *DB) *PaperRepo {
	return &PaperRepo{db: db}
}

// CreatePaper inserts a new paper row in "processing" status and returns
// the generated id.
func (r *PaperRepo) CreatePaper(ctx context.Context, filename string) (int64, error) {
	var id int64
	err := r.db.Pool.QueryRow(ctx, `
INSERT INTO papers (filename, status)
VALUES ($1, 'processing')
RETURNING paper_id`, filename).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create paper: %w", err)
	}
	return id, nil
}

func (r *PaperRepo) UpdatePaperMetadata(ctx context.Context, paperID int64, title, authors string, year, pages *int) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE papers SET
  title = COALESCE(NULLIF($2,''), title),
  authors = COALESCE(NULLIF($3,''), authors),
  year = COALESCE($4, year),
  pages = COALESCE($5, pages),
  updated_at = NOW()
WHERE paper_id=$1`, paperID, title, authors, year, pages)
	if err != nil {
		return fmt.Errorf("update paper metadata: %w", err)
	}
	return nil
}

func (r *PaperRepo) UpdatePaperStatus(ctx context.Context, paperID int64, status, failReason string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE papers SET status=$2, fail_reason=NULLIF($3,''), updated_at=NOW() WHERE paper_id=$1`, paperID, status, failReason)
	if err != nil {
		return fmt.Errorf("update paper status: %w", err)
	}
	return nil
}

func (r *PaperRepo) GetPaperByID(ctx context.Context, paperID int64) (models.Paper, error) {
	var p models.Paper
	err := r.db.Pool.QueryRow(ctx, `
SELECT paper_id, filename, COALESCE(title,''), COALESCE(authors,''), year, pages,
       status, COALESCE(fail_reason,''), created_at, updated_at
FROM papers
WHERE paper_id=$1`, paperID).
		Scan(&p.PaperID, &p.Filename, &p.Title, &p.Authors, &p.Year, &p.Pages, &p.Status, &p.FailReason, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Paper{}, fmt.Errorf("get paper %d: %w", paperID, ErrNotFound)
	}
	if err != nil {
		return models.Paper{}, fmt.Errorf("get paper by id: %w", err)
	}
	return p, nil
}

func (r *PaperRepo) ListPapers(ctx context.Context) ([]models.Paper, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT paper_id, filename, COALESCE(title,''), COALESCE(authors,''), year, pages,
       status, COALESCE(fail_reason,''), created_at, updated_at
FROM papers
ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	defer rows.Close()

	out := make([]models.Paper, 0)
	for rows.Next() {
		var p models.Paper
		if err := rows.Scan(&p.PaperID, &p.Filename, &p.Title, &p.Authors, &p.Year, &p.Pages, &p.Status, &p.FailReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan paper: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate papers: %w", err)
	}
	return out, nil
}

func (r *PaperRepo) ListPapersByIDs(ctx context.Context, paperIDs []int64) ([]models.Paper, error) {
	if len(paperIDs) == 0 {
		return []models.Paper{}, nil
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT paper_id, filename, COALESCE(title,''), COALESCE(authors,''), year, pages,
       status, COALESCE(fail_reason,''), created_at, updated_at
FROM papers
WHERE paper_id = ANY($1)
ORDER BY created_at DESC`, paperIDs)
	if err != nil {
		return nil, fmt.Errorf("list papers by ids: %w", err)
	}
	defer rows.Close()

	out := make([]models.Paper, 0, len(paperIDs))
	for rows.Next() {
		var p models.Paper
		if err := rows.Scan(&p.PaperID, &p.Filename, &p.Title, &p.Authors, &p.Year, &p.Pages, &p.Status, &p.FailReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan paper by id: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate papers by ids: %w", err)
	}
	return out, nil
}

// ListReadyTitles returns the titles of ready papers keyed by paper id.
// Used to spot quoted paper titles inside questions.
func (r *PaperRepo) ListReadyTitles(ctx context.Context) (map[int64]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT paper_id, COALESCE(title,'') FROM papers WHERE status='ready' AND title IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list ready titles: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, fmt.Errorf("scan ready title: %w", err)
		}
		if title != "" {
			out[id] = title
		}
	}
	return out, rows.Err()
}

// DeletePaper removes a paper and its chunks. Chunks cascade on the
// foreign key but the explicit delete keeps behavior obvious without
// relying on schema details.
func (r *PaperRepo) DeletePaper(ctx context.Context, paperID int64) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx delete paper: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE paper_id=$1`, paperID); err != nil {
		return fmt.Errorf("delete paper chunks: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM papers WHERE paper_id=$1`, paperID)
	if err != nil {
		return fmt.Errorf("delete paper: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete paper %d: %w", paperID, ErrNotFound)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete paper tx: %w", err)
	}
	return nil
}
