package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/ramboxcrty/GameRMCR/internal/config"
	"github.com/ramboxcrty/GameRMCR/internal/model"
)

// MaxHistoryRows limits the number of rows returned by history queries.
const MaxHistoryRows = 1000

const schema = `
CREATE TABLE IF NOT EXISTS rmcr_blacklist (
	process     TEXT PRIMARY KEY,
	reason      TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS rmcr_attach_history (
	id         BIGSERIAL PRIMARY KEY,
	at         TIMESTAMPTZ NOT NULL,
	context    TEXT NOT NULL,
	process    TEXT NOT NULL,
	pid        INTEGER NOT NULL DEFAULT 0,
	attempt    INTEGER NOT NULL DEFAULT 0,
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	reason     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS rmcr_attach_history_process_at ON rmcr_attach_history (process, at DESC);
`

// SQL stores the blacklist and attach history in PostgreSQL.
type SQL struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQL opens a connection pool for cfg.
func NewSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*SQL, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewSQLFromDB(db, logger), nil
}

// NewSQLFromDB wraps an existing pool.
func NewSQLFromDB(db *sql.DB, logger *slog.Logger) *SQL {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQL{
		db:     db,
		logger: logger.With("component", "store"),
		now:    time.Now,
	}
}

// Ping tests the database connection.
func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables when they are missing.
func (s *SQL) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		if isPermissionError(err) {
			return fmt.Errorf("creating schema: insufficient privileges: %w", err)
		}
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether name has a blacklist row.
// A missing table means nothing has been blacklisted yet.
func (s *SQL) IsBlacklisted(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM rmcr_blacklist WHERE process = $1)`,
		model.NormalizeName(name),
	).Scan(&exists)
	if err != nil {
		if isTableNotExistError(err) {
			s.logger.Warn("rmcr_blacklist table does not exist, treating as empty")
			return false, nil
		}
		return false, fmt.Errorf("querying rmcr_blacklist: %w", err)
	}
	return exists, nil
}

// FilterBlacklisted returns the subset of names that are blacklisted, in one round trip.
func (s *SQL) FilterBlacklisted(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	ids := make([]string, len(names))
	for i, n := range names {
		ids[i] = model.NormalizeName(n)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT process FROM rmcr_blacklist WHERE process = ANY($1) ORDER BY process`,
		pq.Array(ids),
	)
	if err != nil {
		if isTableNotExistError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying rmcr_blacklist: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning process name: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordPermanentFailure inserts or refreshes the blacklist row for name.
func (s *SQL) RecordPermanentFailure(ctx context.Context, name string, reason model.Reason) error {
	id := model.NormalizeName(name)
	if id == "" {
		return errors.New("store: empty process name")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rmcr_blacklist (process, reason, recorded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (process) DO UPDATE
		SET reason = EXCLUDED.reason, recorded_at = EXCLUDED.recorded_at
	`, id, string(reason), s.now().UTC())
	if err != nil {
		return fmt.Errorf("inserting blacklist entry: %w", err)
	}
	return nil
}

// Remove deletes the blacklist row for name and reports whether one existed.
func (s *SQL) Remove(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rmcr_blacklist WHERE process = $1`,
		model.NormalizeName(name),
	)
	if err != nil {
		return false, fmt.Errorf("deleting blacklist entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting blacklist entry: %w", err)
	}
	return n > 0, nil
}

// List returns every blacklist row, oldest first.
func (s *SQL) List(ctx context.Context) ([]model.BlacklistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT process, reason, recorded_at
		FROM rmcr_blacklist
		ORDER BY recorded_at, process
	`)
	if err != nil {
		if isTableNotExistError(err) {
			s.logger.Warn("rmcr_blacklist table does not exist, treating as empty")
			return nil, nil
		}
		if isPermissionError(err) {
			s.logger.Warn("insufficient privileges to query rmcr_blacklist, treating as empty")
			return nil, nil
		}
		return nil, fmt.Errorf("querying rmcr_blacklist: %w", err)
	}
	defer rows.Close()

	var entries []model.BlacklistEntry
	var scanErrors int
	for rows.Next() {
		var e model.BlacklistEntry
		var reason string
		if err := rows.Scan(&e.Process, &reason, &e.RecordedAt); err != nil {
			scanErrors++
			if scanErrors <= 3 {
				s.logger.Warn("failed to scan blacklist row", "err", err)
			}
			continue
		}
		e.Reason = model.Reason(reason)
		entries = append(entries, e)
	}
	if scanErrors > 3 {
		s.logger.Warn("blacklist rows failed to scan", "count", scanErrors)
	}
	return entries, rows.Err()
}

// SaveTransition appends rec to the attach history.
func (s *SQL) SaveTransition(ctx context.Context, rec model.TransitionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rmcr_attach_history
			(at, context, process, pid, attempt, from_state, to_state, reason, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		rec.Time.UTC(), rec.Context, rec.Process, rec.PID, rec.Attempt,
		rec.From.String(), rec.To.String(), string(rec.Reason), rec.Error,
	)
	if err != nil {
		return fmt.Errorf("inserting attach history: %w", err)
	}
	return nil
}

// History returns up to limit transitions for name, newest first.
func (s *SQL) History(ctx context.Context, name string, limit int) ([]model.TransitionRecord, error) {
	if limit <= 0 || limit > MaxHistoryRows {
		limit = MaxHistoryRows
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT at, context, process, pid, attempt, from_state, to_state, reason, error
		FROM rmcr_attach_history
		WHERE process = $1
		ORDER BY at DESC
		LIMIT $2
	`, model.NormalizeName(name), limit)
	if err != nil {
		if isTableNotExistError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying rmcr_attach_history: %w", err)
	}
	defer rows.Close()

	var out []model.TransitionRecord
	for rows.Next() {
		var rec model.TransitionRecord
		var from, to, reason string
		if err := rows.Scan(&rec.Time, &rec.Context, &rec.Process, &rec.PID, &rec.Attempt, &from, &to, &reason, &rec.Error); err != nil {
			return nil, fmt.Errorf("scanning attach history: %w", err)
		}
		if rec.From, err = model.ParseAttachmentState(from); err != nil {
			return nil, err
		}
		if rec.To, err = model.ParseAttachmentState(to); err != nil {
			return nil, err
		}
		rec.Reason = model.Reason(reason)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// isTableNotExistError checks if the error is due to a missing table.
func isTableNotExistError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 42P01 = undefined_table
		return pqErr.Code == "42P01"
	}
	return false
}

// isPermissionError checks if the error is due to permission denied.
func isPermissionError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 42501 = insufficient_privilege
		return pqErr.Code == "42501"
	}
	return false
}
