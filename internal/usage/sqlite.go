package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aigate-dev/aigate/internal/util"
)

// SQLiteBackend persists usage records in a local SQLite file. The default
// store when the DSN is a plain path.
type SQLiteBackend struct {
	db      *sql.DB
	batcher *batcher
	path    string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	api_key TEXT NOT NULL DEFAULT '',
	requested_at TIMESTAMP NOT NULL,
	failed BOOLEAN NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_usage_requested_at ON usage_records(requested_at);
CREATE INDEX IF NOT EXISTS idx_usage_provider_model ON usage_records(provider, model);
`

// NewSQLiteBackend opens (or creates) the database file and prepares the
// schema. Start launches the workers.
func NewSQLiteBackend(path string, cfg Config) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	path, err := util.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	b := &SQLiteBackend{db: db, path: path}
	b.batcher = newBatcher(cfg, b.writeBatch, b.Cleanup)
	return b, nil
}

// Path returns the database file location.
func (b *SQLiteBackend) Path() string { return b.path }

func (b *SQLiteBackend) Start() error {
	b.batcher.start()
	return nil
}

func (b *SQLiteBackend) Stop() error {
	if b == nil {
		return nil
	}
	b.batcher.halt()
	return b.db.Close()
}

func (b *SQLiteBackend) Enqueue(record Record) {
	if b == nil {
		return
	}
	b.batcher.enqueue(record)
}

func (b *SQLiteBackend) Flush(ctx context.Context) error {
	if b == nil {
		return nil
	}
	return b.batcher.drain(ctx)
}

func (b *SQLiteBackend) writeBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_records (
			provider, model, api_key, requested_at, failed,
			input_tokens, output_tokens, total_tokens
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Provider, r.Model, r.APIKey, r.RequestedAt, r.Failed,
			r.InputTokens, r.OutputTokens, r.TotalTokens,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Totals(ctx context.Context, since time.Time) (*Totals, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN failed = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE requested_at >= ?
	`, since)

	var t Totals
	if err := row.Scan(&t.Requests, &t.Succeeded, &t.Failed, &t.TotalTokens); err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	return &t, nil
}

func (b *SQLiteBackend) Daily(ctx context.Context, since time.Time) ([]DailyStat, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT
			DATE(requested_at) AS day,
			COUNT(*),
			COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE requested_at >= ?
		GROUP BY DATE(requested_at)
		HAVING day IS NOT NULL
		ORDER BY day
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	var out []DailyStat
	for rows.Next() {
		var d DailyStat
		var day sql.NullString
		if err := rows.Scan(&day, &d.Requests, &d.Tokens); err != nil {
			return nil, err
		}
		if day.Valid && day.String != "" {
			d.Day = day.String
			out = append(out, d)
		}
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Providers(ctx context.Context, since time.Time) ([]ProviderStat, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT
			COALESCE(NULLIF(provider, ''), 'unknown'),
			COUNT(*),
			SUM(CASE WHEN failed = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE requested_at >= ?
		GROUP BY provider
		ORDER BY COUNT(*) DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query provider stats: %w", err)
	}
	defer rows.Close()

	var out []ProviderStat
	for rows.Next() {
		var p ProviderStat
		if err := rows.Scan(
			&p.Provider, &p.Requests, &p.Succeeded, &p.Failed,
			&p.InputTokens, &p.OutputTokens, &p.TotalTokens,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Models(ctx context.Context, since time.Time) ([]ModelStat, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT
			COALESCE(NULLIF(model, ''), 'unknown'),
			COALESCE(NULLIF(provider, ''), 'unknown'),
			COUNT(*),
			SUM(CASE WHEN failed = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE requested_at >= ?
		GROUP BY model, provider
		ORDER BY COUNT(*) DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query model stats: %w", err)
	}
	defer rows.Close()

	var out []ModelStat
	for rows.Next() {
		var m ModelStat
		if err := rows.Scan(
			&m.Model, &m.Provider, &m.Requests, &m.Succeeded, &m.Failed,
			&m.InputTokens, &m.OutputTokens, &m.TotalTokens,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := b.db.ExecContext(ctx, `DELETE FROM usage_records WHERE requested_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
