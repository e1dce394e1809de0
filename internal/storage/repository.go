package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS rebalance_jobs (
        id          UUID PRIMARY KEY,
        user_id     TEXT        NOT NULL,
        params      JSONB       NOT NULL,
        status      TEXT        NOT NULL,
        increase    JSONB,
        decrease    JSONB,
        result      JSONB,
        error       TEXT,
        started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
        finished_at TIMESTAMPTZ
    );
    CREATE INDEX IF NOT EXISTS rebalance_jobs_user_started_idx
        ON rebalance_jobs (user_id, started_at DESC);`

	insertJobSQL = `INSERT INTO rebalance_jobs (
        id,
        user_id,
        params,
        status,
        started_at
    ) VALUES (
        $1,$2,$3,$4,$5
    );`

	finishJobSQL = `UPDATE rebalance_jobs
    SET status      = $2,
        increase    = $3,
        decrease    = $4,
        result      = $5,
        error       = $6,
        finished_at = $7
    WHERE id = $1;`

	listRecentJobsSQL = `SELECT
        id,
        user_id,
        params,
        status,
        increase,
        decrease,
        result,
        error,
        started_at,
        finished_at
    FROM rebalance_jobs
    WHERE ($1 = '' OR user_id = $1)
    ORDER BY started_at DESC
    LIMIT $2;`

	listJobsBetweenSQL = `SELECT
        id,
        user_id,
        params,
        status,
        increase,
        decrease,
        result,
        error,
        started_at,
        finished_at
    FROM rebalance_jobs
    WHERE ($1 = '' OR user_id = $1)
      AND started_at >= $2
      AND started_at < $3
    ORDER BY started_at;`

	deleteJobsBeforeSQL = `DELETE FROM rebalance_jobs WHERE started_at < $1 AND status <> 'running';`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// JobStore defines operations for rebalance job history.
type JobStore interface {
	InsertJob(ctx context.Context, job JobRecord) error
	FinishJob(ctx context.Context, id uuid.UUID, outcome JobOutcome, finishedAt time.Time) error
	ListRecentJobs(ctx context.Context, userID string, limit int) ([]JobRecord, error)
	DeleteJobsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the job history.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ JobStore       = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the job table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// 解锁失败时连接归还后会话结束，锁随之释放
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertJob records a job in the running state.
func (s *Store) InsertJob(ctx context.Context, job JobRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	status := job.Status
	if status == "" {
		status = StatusRunning
	}
	startedAt := job.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	params := jsonArg(job.Params)
	if params == nil {
		params = "{}"
	}

	if _, err := pool.Exec(ctx, insertJobSQL, job.ID, job.UserID, params, status, startedAt); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// FinishJob stores the terminal state of a job.
func (s *Store) FinishJob(ctx context.Context, id uuid.UUID, outcome JobOutcome, finishedAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg any
	if outcome.Error != nil {
		errMsg = *outcome.Error
	}

	cmdTag, execErr := pool.Exec(ctx, finishJobSQL,
		id,
		outcome.Status,
		jsonArg(outcome.Increase),
		jsonArg(outcome.Decrease),
		jsonArg(outcome.Result),
		errMsg,
		finishedAt,
	)
	if execErr != nil {
		return fmt.Errorf("finish job: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRecentJobs lists the newest jobs, optionally for one user.
func (s *Store) ListRecentJobs(ctx context.Context, userID string, limit int) ([]JobRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	rows, queryErr := pool.Query(ctx, listRecentJobsSQL, userID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent jobs: %w", queryErr)
	}
	defer rows.Close()

	jobs := make([]JobRecord, 0, limit)
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		jobs = append(jobs, job)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

// ListJobsBetween lists jobs started within [from, to), oldest first.
func (s *Store) ListJobsBetween(ctx context.Context, userID string, from, to time.Time) ([]JobRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listJobsBetweenSQL, userID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list jobs between: %w", queryErr)
	}
	defer rows.Close()

	jobs := make([]JobRecord, 0)
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		jobs = append(jobs, job)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

// DeleteJobsBefore deletes finished jobs that started before olderThan.
func (s *Store) DeleteJobsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteJobsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete jobs before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

func scanJob(rows pgx.Rows) (JobRecord, error) {
	var (
		job                        JobRecord
		params                     []byte
		increase, decrease, result []byte
	)
	if err := rows.Scan(
		&job.ID,
		&job.UserID,
		&params,
		&job.Status,
		&increase,
		&decrease,
		&result,
		&job.Error,
		&job.StartedAt,
		&job.FinishedAt,
	); err != nil {
		return JobRecord{}, fmt.Errorf("scan job: %w", err)
	}
	job.Params = rawOrNil(params)
	job.Increase = rawOrNil(increase)
	job.Decrease = rawOrNil(decrease)
	job.Result = rawOrNil(result)
	return job, nil
}

// jsonArg maps an empty document to SQL NULL.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
