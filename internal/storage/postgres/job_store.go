// Package postgres provides a Postgres-backed crawler.JobStore so job
// history survives restarts of the archive server.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/recurse-archiver/internal/clock/system"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultTable       = "archive_jobs"
	uniqueViolation    = "23505"
	terminalStatusList = `('succeeded','failed','canceled')`
)

// Config controls the Postgres connection pool used for job rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// JobStore persists archive jobs into a single Postgres table.
type JobStore struct {
	pool  pool
	table string
	clock crawler.Clock
}

var _ crawler.JobStore = (*JobStore)(nil)

// NewJobStore connects to Postgres using cfg.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres_dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: p, table: table, clock: system.New()}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(p pool, table string, clock crawler.Clock) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = system.New()
	}
	return &JobStore{pool: p, table: name, clock: clock}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the jobs table when missing.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	error_text TEXT NOT NULL DEFAULT '',
	options JSONB NOT NULL,
	counters JSONB NOT NULL,
	output TEXT NOT NULL DEFAULT '',
	parent_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS %[1]s_submitted_idx ON %[1]s (submitted_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

// CreateJob inserts a job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	kind,
	status,
	submitted_at,
	options,
	counters,
	parent_id
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, s.table)
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		string(job.Kind),
		string(job.Status),
		job.Submitted,
		options,
		counters,
		job.ParentID,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return crawler.ErrJobExists
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus writes status, error text and counters, stamping
// started_at on first leaving the queue and finished_at on terminal states.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.Counters,
) error {
	payload, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	now := s.clock.Now()
	var started, finished any
	if status != crawler.JobStatusQueued {
		started = now
	}
	if status.IsTerminal() {
		finished = now
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	counters = $4,
	started_at = COALESCE(started_at, $5),
	finished_at = $6
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), errText, payload, started, finished)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrJobNotFound
	}
	return nil
}

// UpdateJobProgress refreshes counters while the job is not terminal.
func (s *JobStore) UpdateJobProgress(ctx context.Context, jobID string, counters crawler.Counters) error {
	payload, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET counters = $2 WHERE id = $1 AND status NOT IN %s`, s.table, terminalStatusList)
	if _, err := s.pool.Exec(ctx, query, jobID, payload); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// SetJobOutput records the archive location.
func (s *JobStore) SetJobOutput(ctx context.Context, jobID string, output string) error {
	query := fmt.Sprintf(`UPDATE %s SET output = $2 WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, output)
	if err != nil {
		return fmt.Errorf("update job output: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrJobNotFound
	}
	return nil
}

func (s *JobStore) selectColumns() string {
	return fmt.Sprintf(`SELECT id, kind, status, submitted_at, started_at, finished_at,
	error_text, options, counters, output, parent_id FROM %s`, s.table)
}

// GetJob fetches a job by id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	row := s.pool.QueryRow(ctx, s.selectColumns()+` WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, crawler.ErrJobNotFound
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns every job, newest submission first.
func (s *JobStore) ListJobs(ctx context.Context) ([]crawler.Job, error) {
	rows, err := s.pool.Query(ctx, s.selectColumns()+` ORDER BY submitted_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []crawler.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job               crawler.Job
		kind, status      string
		options, counters []byte
		started, finished *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&kind,
		&status,
		&job.Submitted,
		&started,
		&finished,
		&job.ErrorText,
		&options,
		&counters,
		&job.Output,
		&job.ParentID,
	); err != nil {
		return crawler.Job{}, err
	}
	job.Kind = crawler.JobKind(kind)
	job.Status = crawler.JobStatus(status)
	job.Started = started
	job.Finished = finished
	if len(options) > 0 {
		if err := json.Unmarshal(options, &job.Options); err != nil {
			return crawler.Job{}, fmt.Errorf("decode options: %w", err)
		}
	}
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &job.Counters); err != nil {
			return crawler.Job{}, fmt.Errorf("decode counters: %w", err)
		}
	}
	return job, nil
}
