package kv

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/slalomtime/racesync/internal/common"
	"github.com/slalomtime/racesync/internal/server/kv/migrations"
)

// PostgresStore implements Store on a single kv_entries table. Plain values
// live in a bytea column; hash fields are kept in a jsonb column with
// base64-encoded values. A bigint version column backs the optimistic
// transactions: Commit is an UPDATE conditioned on the version observed at
// Watch time.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.runMigrations(context.Background()); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db, ".")
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM kv_entries
		WHERE key = $1 AND value IS NOT NULL
		  AND (expires_at IS NULL OR expires_at > now())`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, version, expires_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			hash = NULL,
			version = kv_entries.version + 1,
			expires_at = excluded.expires_at`, key, value, expiresAt(ttl))
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ANY($1)`, keys)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM kv_entries
		WHERE key LIKE $1 || '%'
		  AND (expires_at IS NULL OR expires_at > now())`, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrStorage, err)
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	return out, nil
}

func (s *PostgresStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE kv_entries SET expires_at = $2 WHERE key = $1`, key, expiresAt(ttl))
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) HSet(ctx context.Context, key, field string, value []byte, ttl time.Duration) error {
	encoded := base64.StdEncoding.EncodeToString(value)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, hash, version, expires_at)
		VALUES ($1, jsonb_build_object($2::text, $3::text), 1, $4)
		ON CONFLICT (key) DO UPDATE SET
			hash = coalesce(kv_entries.hash, '{}'::jsonb) || jsonb_build_object($2::text, $3::text),
			version = kv_entries.version + 1,
			expires_at = excluded.expires_at`, key, field, encoded, expiresAt(ttl))
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	out := make(map[string][]byte)

	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT hash FROM kv_entries
		WHERE key = $1 AND hash IS NOT NULL
		  AND (expires_at IS NULL OR expires_at > now())`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorage, err)
	}

	var encoded map[string]string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	for field, v := range encoded {
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrStorage, err)
		}
		out[field] = decoded
	}
	return out, nil
}

func (s *PostgresStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE kv_entries SET hash = hash - $2::text[], version = version + 1
		WHERE key = $1 AND hash IS NOT NULL`, key, fields)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) Watch(ctx context.Context, key string) (Tx, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT version FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`, key).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	return &pgTx{store: s, key: key, version: version}, nil
}

type pgTx struct {
	store   *PostgresStore
	key     string
	version int64
	done    bool
}

func (t *pgTx) Commit(ctx context.Context, value []byte, ttl time.Duration) error {
	if t.done {
		return common.ErrConflict
	}
	t.done = true

	if t.version == 0 {
		// Key was absent at watch time. A physical row may still linger
		// past its expiry (nothing sweeps dead rows), so the insert must
		// be allowed to take such a row over; a live row still loses.
		// Bumping the old version keeps pre-expiry watchers conflicting.
		res, err := t.store.db.ExecContext(ctx, `
			INSERT INTO kv_entries (key, value, version, expires_at)
			VALUES ($1, $2, 1, $3)
			ON CONFLICT (key) DO UPDATE SET
				value = excluded.value,
				hash = NULL,
				version = kv_entries.version + 1,
				expires_at = excluded.expires_at
			WHERE kv_entries.expires_at IS NOT NULL
			  AND kv_entries.expires_at <= now()`, t.key, value, expiresAt(ttl))
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrStorage, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return common.ErrConflict
		}
		return nil
	}

	res, err := t.store.db.ExecContext(ctx, `
		UPDATE kv_entries SET
			value = $2, hash = NULL, version = version + 1, expires_at = $3
		WHERE key = $1 AND version = $4`, t.key, value, expiresAt(ttl), t.version)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrConflict
	}
	return nil
}

func (t *pgTx) Unwatch(_ context.Context) error {
	t.done = true
	return nil
}

func expiresAt(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	at := time.Now().Add(ttl)
	return &at
}
