package cache

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/brustt/logistics-sprawl/internal/db"
	"github.com/brustt/logistics-sprawl/internal/resilience"
)

// PostgresBackend stores artifacts in a bytea table. Transient connection
// errors are retried.
type PostgresBackend struct {
	pool  db.Pool
	retry resilience.RetryConfig
}

// NewPostgres wraps an open pool.
func NewPostgres(pool db.Pool) *PostgresBackend {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("postgres", "cache")
	return &PostgresBackend{pool: pool, retry: cfg}
}

// WithRetry replaces the retry policy, keeping the retry logger.
func (p *PostgresBackend) WithRetry(rc resilience.RetryConfig) *PostgresBackend {
	rc.OnRetry = p.retry.OnRetry
	p.retry = rc
	return p
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sprawl_artifacts (
	key        TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate creates the artifact table.
func (p *PostgresBackend) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (p *PostgresBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := resilience.Do(ctx, p.retry, func(ctx context.Context) error {
		return p.pool.QueryRow(ctx, `SELECT data FROM sprawl_artifacts WHERE key = $1`, key).Scan(&data)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: get %s", key)
	}
	return data, true, nil
}

func (p *PostgresBackend) Put(ctx context.Context, key string, data []byte) error {
	err := resilience.Do(ctx, p.retry, func(ctx context.Context) error {
		_, err := p.pool.Exec(ctx,
			`INSERT INTO sprawl_artifacts (key, data, updated_at) VALUES ($1, $2, now())
			 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
			key, data,
		)
		return err
	})
	return eris.Wrapf(err, "postgres: put %s", key)
}

func (p *PostgresBackend) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM sprawl_artifacts WHERE key = $1`, key)
	return eris.Wrapf(err, "postgres: delete %s", key)
}

func (p *PostgresBackend) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key FROM sprawl_artifacts WHERE starts_with(key, $1) ORDER BY key`, prefix)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, eris.Wrap(err, "postgres: scan key")
		}
		keys = append(keys, k)
	}
	return keys, eris.Wrap(rows.Err(), "postgres: iterate keys")
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}
