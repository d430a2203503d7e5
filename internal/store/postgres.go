package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourorg/conveyor/internal/domain"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Pool exposes the underlying pool for advisory-lock election in the
// sweeper. Job rows are never touched through it.
func (s *Postgres) Pool() *pgxpool.Pool { return s.pool }

const insertSQL = `
INSERT INTO jobs (payload)
VALUES ($1)
RETURNING id, payload, status, created_at, updated_at`

func (s *Postgres) Insert(ctx context.Context, payload []byte) (domain.Job, error) {
	row := s.pool.QueryRow(ctx, insertSQL, payload)
	job, err := scanJob(row)
	if err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// InsertMany queues one INSERT per payload in a single pgx batch so the
// round trip count stays constant regardless of batch size.
func (s *Postgres) InsertMany(ctx context.Context, payloads [][]byte) ([]domain.Job, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, p := range payloads {
		batch.Queue(insertSQL, p)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	jobs := make([]domain.Job, 0, len(payloads))
	for range payloads {
		job, err := scanJob(results.QueryRow())
		if err != nil {
			return nil, fmt.Errorf("insert job batch: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// claimSQL atomically selects and locks up to $1 waiting jobs.
//
// FOR UPDATE SKIP LOCKED makes concurrent claimers partition the waiting
// set instead of blocking or double-claiming: rows locked by another
// in-flight claim are skipped. ORDER BY id pins the selection to insertion
// order so no waiting job is starved. The outer SELECT re-orders because
// UPDATE ... RETURNING does not guarantee row order.
const claimSQL = `
WITH claimed AS (
    UPDATE jobs
    SET status = 'running', updated_at = NOW()
    WHERE id IN (
        SELECT id FROM jobs
        WHERE status = 'waiting'
        ORDER BY id
        LIMIT $1
        FOR UPDATE SKIP LOCKED
    )
    RETURNING id, payload, status, created_at, updated_at
)
SELECT * FROM claimed ORDER BY id`

func (s *Postgres) Claim(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, claimSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("claim jobs: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	return jobs, nil
}

// UpdateStatus is fenced on status = 'running' so a terminal status can
// never be overwritten, and a row the sweeper already returned to waiting
// is not clobbered by a late report.
func (s *Postgres) UpdateStatus(ctx context.Context, id int64, status domain.Status) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("update status: %q is not terminal", status)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'running'`,
		id, string(status))
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) Get(ctx context.Context, id int64) (domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, payload, status, created_at, updated_at
		FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, ErrJobNotFound
		}
		return domain.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ReapStale requeues running rows whose updated_at is older than maxAge.
// SKIP LOCKED keeps the sweep from blocking on rows a claim transaction
// is concurrently locking; LIMIT 500 bounds work per cycle.
func (s *Postgres) ReapStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		WITH stale AS (
			SELECT id FROM jobs
			WHERE status = 'running'
			  AND updated_at < NOW() - ($1 * interval '1 millisecond')
			ORDER BY updated_at
			LIMIT 500
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs
		SET status = 'waiting', updated_at = NOW()
		FROM stale
		WHERE jobs.id = stale.id`,
		maxAge.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("reap stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanJob populates a Job from the canonical column order:
// id, payload, status, created_at, updated_at.
func scanJob(row pgx.Row) (domain.Job, error) {
	var job domain.Job
	var status string
	err := row.Scan(&job.ID, &job.Payload, &status, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return domain.Job{}, err
	}
	job.Status = domain.Status(status)
	return job, nil
}
