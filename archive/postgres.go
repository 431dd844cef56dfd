package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enesunal-m/interviewrt"
)

const schema = `
CREATE TABLE IF NOT EXISTS interview_sessions (
	id         TEXT PRIMARY KEY,
	prompt     TEXT        NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ NOT NULL,
	reason     TEXT        NOT NULL,
	error      TEXT        NOT NULL DEFAULT '',
	entries    JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS interview_sessions_ended_at ON interview_sessions (ended_at DESC);
`

const selectColumns = `SELECT id, prompt, started_at, ended_at, reason, error, entries FROM interview_sessions`

// PostgresStore keeps records in the interview_sessions table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, checks the connection and creates the
// table if it does not exist.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse database config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Save upserts rec.
func (s *PostgresStore) Save(ctx context.Context, rec interviewrt.SessionRecord) error {
	if rec.ID == "" {
		return errors.New("archive: session id is required")
	}
	if rec.Entries == nil {
		rec.Entries = []interviewrt.LogEntry{}
	}
	entries, err := json.Marshal(rec.Entries)
	if err != nil {
		return fmt.Errorf("archive: encode entries: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO interview_sessions (id, prompt, started_at, ended_at, reason, error, entries)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			reason   = EXCLUDED.reason,
			error    = EXCLUDED.error,
			entries  = EXCLUDED.entries`,
		rec.ID, rec.Prompt, rec.StartedAt, rec.EndedAt, rec.Reason, rec.Error, entries)
	if err != nil {
		return fmt.Errorf("archive: save %s: %w", rec.ID, err)
	}
	return nil
}

// List returns up to limit records, most recently ended first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]interviewrt.SessionRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.pool.Query(ctx, selectColumns+` ORDER BY ended_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (interviewrt.SessionRecord, error) {
		return scanRecord(row)
	})
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	return recs, nil
}

// Get returns the record with id, or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, id string) (interviewrt.SessionRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return interviewrt.SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return interviewrt.SessionRecord{}, fmt.Errorf("archive: get %s: %w", id, err)
	}
	return rec, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (interviewrt.SessionRecord, error) {
	var (
		rec     interviewrt.SessionRecord
		entries []byte
	)
	if err := row.Scan(&rec.ID, &rec.Prompt, &rec.StartedAt, &rec.EndedAt, &rec.Reason, &rec.Error, &entries); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(entries, &rec.Entries); err != nil {
		return rec, fmt.Errorf("decode entries: %w", err)
	}
	return rec, nil
}
