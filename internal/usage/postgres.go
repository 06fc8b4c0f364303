package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend persists usage records in PostgreSQL through a pgx pool.
// Suited to several gateway instances sharing one store.
type PostgresBackend struct {
	pool    *pgxpool.Pool
	batcher *batcher
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id BIGSERIAL PRIMARY KEY,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	api_key TEXT NOT NULL DEFAULT '',
	requested_at TIMESTAMPTZ NOT NULL,
	failed BOOLEAN NOT NULL DEFAULT FALSE,
	input_tokens BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	total_tokens BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_usage_requested_at ON usage_records(requested_at);
CREATE INDEX IF NOT EXISTS idx_usage_provider_model ON usage_records(provider, model);
`

// NewPostgresBackend connects, verifies the connection, and prepares the
// schema. Start launches the workers.
func NewPostgresBackend(dsn string, cfg Config) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	b := &PostgresBackend{pool: pool}
	b.batcher = newBatcher(cfg, b.writeBatch, b.Cleanup)
	return b, nil
}

func (b *PostgresBackend) Start() error {
	b.batcher.start()
	return nil
}

func (b *PostgresBackend) Stop() error {
	if b == nil {
		return nil
	}
	b.batcher.halt()
	b.pool.Close()
	return nil
}

func (b *PostgresBackend) Enqueue(record Record) {
	if b == nil {
		return
	}
	b.batcher.enqueue(record)
}

func (b *PostgresBackend) Flush(ctx context.Context) error {
	if b == nil {
		return nil
	}
	return b.batcher.drain(ctx)
}

// writeBatch uses COPY, the cheapest bulk path pgx offers.
func (b *PostgresBackend) writeBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	columns := []string{
		"provider", "model", "api_key", "requested_at", "failed",
		"input_tokens", "output_tokens", "total_tokens",
	}
	_, err := b.pool.CopyFrom(
		ctx,
		pgx.Identifier{"usage_records"},
		columns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{
				r.Provider, r.Model, r.APIKey, r.RequestedAt, r.Failed,
				r.InputTokens, r.OutputTokens, r.TotalTokens,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy records: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Totals(ctx context.Context, since time.Time) (*Totals, error) {
	row := b.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN failed = false THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN failed = true THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE requested_at >= $1
	`, since)

	var t Totals
	if err := row.Scan(&t.Requests, &t.Succeeded, &t.Failed, &t.TotalTokens); err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	return &t, nil
}

func (b *PostgresBackend) Daily(ctx context.Context, since time.Time) ([]DailyStat, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT
			DATE(requested_at)::TEXT AS day,
			COUNT(*),
			COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE requested_at >= $1
		GROUP BY DATE(requested_at)
		ORDER BY day
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	var out []DailyStat
	for rows.Next() {
		var d DailyStat
		if err := rows.Scan(&d.Day, &d.Requests, &d.Tokens); err != nil {
			return nil, err
		}
		if d.Day != "" {
			out = append(out, d)
		}
	}
	return out, rows.Err()
}

func (b *PostgresBackend) Providers(ctx context.Context, since time.Time) ([]ProviderStat, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT
			COALESCE(NULLIF(provider, ''), 'unknown'),
			COUNT(*),
			SUM(CASE WHEN failed = false THEN 1 ELSE 0 END),
			SUM(CASE WHEN failed = true THEN 1 ELSE 0 END),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE requested_at >= $1
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

func (b *PostgresBackend) Models(ctx context.Context, since time.Time) ([]ModelStat, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT
			COALESCE(NULLIF(model, ''), 'unknown'),
			COALESCE(NULLIF(provider, ''), 'unknown'),
			COUNT(*),
			SUM(CASE WHEN failed = false THEN 1 ELSE 0 END),
			SUM(CASE WHEN failed = true THEN 1 ELSE 0 END),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE requested_at >= $1
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

func (b *PostgresBackend) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := b.pool.Exec(ctx, `DELETE FROM usage_records WHERE requested_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
