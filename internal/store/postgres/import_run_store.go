package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

// ImportRunStore implements domain.ImportRunStore using PostgreSQL.
type ImportRunStore struct {
	pool *pgxpool.Pool
}

// NewImportRunStore creates an ImportRunStore backed by the given pool.
func NewImportRunStore(pool *pgxpool.Pool) *ImportRunStore {
	return &ImportRunStore{pool: pool}
}

// Record inserts a finished run and returns its id.
func (s *ImportRunStore) Record(ctx context.Context, run domain.ImportRun) (int64, error) {
	const query = `
		INSERT INTO import_runs (started_at, finished_at, total, succeeded, failed, retryable)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		run.StartedAt, run.FinishedAt, run.Total, run.Succeeded, run.Failed, run.Retryable,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: record import run: %w", err)
	}
	return id, nil
}

// ListRecent returns the latest runs, newest first.
func (s *ImportRunStore) ListRecent(ctx context.Context, limit int) ([]domain.ImportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT id, started_at, finished_at, total, succeeded, failed, retryable
		FROM import_runs
		ORDER BY started_at DESC, id DESC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list import runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.ImportRun
	for rows.Next() {
		var r domain.ImportRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Total, &r.Succeeded, &r.Failed, &r.Retryable); err != nil {
			return nil, fmt.Errorf("postgres: scan import run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list import runs rows: %w", err)
	}
	return runs, nil
}

// Compile-time interface check.
var _ domain.ImportRunStore = (*ImportRunStore)(nil)
