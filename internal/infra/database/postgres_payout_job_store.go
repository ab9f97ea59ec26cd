package database

import (
	"context"
	"database/sql"
	"fmt"

	"savings_circle/internal/infra/scheduler"
)

// PostgresPayoutJobStore persists the payout queue in payout_jobs.
type PostgresPayoutJobStore struct {
	db *sql.DB
}

func NewPostgresPayoutJobStore(db *sql.DB) *PostgresPayoutJobStore {
	return &PostgresPayoutJobStore{db: db}
}

func (s *PostgresPayoutJobStore) SaveJob(ctx context.Context, job scheduler.Job) error {
	query := `INSERT INTO payout_jobs (community_id, due_at) VALUES ($1, $2)
              ON CONFLICT (community_id) DO UPDATE SET due_at = EXCLUDED.due_at`
	if _, err := s.db.ExecContext(ctx, query, job.CommunityID, job.DueAt); err != nil {
		return fmt.Errorf("error saving payout job: %w", err)
	}
	return nil
}

func (s *PostgresPayoutJobStore) DeleteJob(ctx context.Context, communityID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM payout_jobs WHERE community_id = $1`, communityID); err != nil {
		return fmt.Errorf("error deleting payout job: %w", err)
	}
	return nil
}

func (s *PostgresPayoutJobStore) ListJobs(ctx context.Context) ([]scheduler.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT community_id, due_at FROM payout_jobs ORDER BY due_at`)
	if err != nil {
		return nil, fmt.Errorf("error listing payout jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]scheduler.Job, 0)
	for rows.Next() {
		var j scheduler.Job
		if err := rows.Scan(&j.CommunityID, &j.DueAt); err != nil {
			return nil, fmt.Errorf("error scanning payout job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payout jobs: %w", err)
	}
	return jobs, nil
}
