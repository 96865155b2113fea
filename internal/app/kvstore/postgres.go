package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// Postgres is a Store backed by the `kv_store` / `kv_atomics_counter` tables
// (§6 "Persisted state"), using the teacher's raw database/sql pattern.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps db. Callers must run migrations creating kv_store
// (service_id, bucket_id, key, value, updated_at) and kv_atomics_counter
// (service_id, bucket_id, key, value) before use.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

func (p *Postgres) Open(_ context.Context, serviceID wavs.ServiceId, bucketID string) (Handle, error) {
	if strings.TrimSpace(bucketID) == "" {
		bucketID = "default"
	}
	return Handle{ServiceId: serviceID, BucketId: bucketID}, nil
}

func (p *Postgres) Get(ctx context.Context, h Handle, key string) ([]byte, bool, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT value FROM kv_store WHERE service_id = $1 AND bucket_id = $2 AND key = $3
	`, h.ServiceId.String(), h.BucketId, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get: %w", err)
	}
	return value, true, nil
}

func (p *Postgres) Set(ctx context.Context, h Handle, key string, value []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO kv_store (service_id, bucket_id, key, value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (service_id, bucket_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, h.ServiceId.String(), h.BucketId, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, h Handle, key string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM kv_store WHERE service_id = $1 AND bucket_id = $2 AND key = $3
	`, h.ServiceId.String(), h.BucketId, key)
	if err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

func (p *Postgres) Exists(ctx context.Context, h Handle, key string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM kv_store WHERE service_id = $1 AND bucket_id = $2 AND key = $3)
	`, h.ServiceId.String(), h.BucketId, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("kv exists: %w", err)
	}
	return exists, nil
}

func (p *Postgres) ListKeys(ctx context.Context, h Handle, cursor string, pageSize int) (ListResult, error) {
	query := `SELECT key FROM kv_store WHERE service_id = $1 AND bucket_id = $2 AND key > $3 ORDER BY key`
	args := []any{h.ServiceId.String(), h.BucketId, cursor}
	if pageSize > 0 {
		query += fmt.Sprintf(" LIMIT %d", pageSize+1)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return ListResult{}, fmt.Errorf("kv list_keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return ListResult{}, fmt.Errorf("kv list_keys scan: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("kv list_keys: %w", err)
	}

	result := ListResult{Keys: keys}
	if pageSize > 0 && len(keys) > pageSize {
		result.Keys = keys[:pageSize]
		result.NextCursor = keys[pageSize-1]
	}
	return result, nil
}

func (p *Postgres) GetMany(ctx context.Context, h Handle, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, ok, err := p.Get(ctx, h, key)
		if err != nil {
			return nil, fmt.Errorf("kv get_many: %w", err)
		}
		if ok {
			out[key] = value
		}
	}
	return out, nil
}

func (p *Postgres) SetMany(ctx context.Context, h Handle, values map[string][]byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv set_many: %w", err)
	}
	defer tx.Rollback()
	now := time.Now().UTC()
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv_store (service_id, bucket_id, key, value, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (service_id, bucket_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		`, h.ServiceId.String(), h.BucketId, key, value, now); err != nil {
			return fmt.Errorf("kv set_many: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kv set_many commit: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteMany(ctx context.Context, h Handle, keys []string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv delete_many: %w", err)
	}
	defer tx.Rollback()
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM kv_store WHERE service_id = $1 AND bucket_id = $2 AND key = $3
		`, h.ServiceId.String(), h.BucketId, key); err != nil {
			return fmt.Errorf("kv delete_many: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kv delete_many commit: %w", err)
	}
	return nil
}

func (p *Postgres) Increment(ctx context.Context, h Handle, key string, delta int64) (int64, error) {
	var value int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO kv_atomics_counter (service_id, bucket_id, key, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (service_id, bucket_id, key) DO UPDATE SET value = kv_atomics_counter.value + EXCLUDED.value
		RETURNING value
	`, h.ServiceId.String(), h.BucketId, key, delta).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("kv increment: %w", err)
	}
	return value, nil
}

func (p *Postgres) CASCurrent(ctx context.Context, h Handle, key string) ([]byte, bool, error) {
	return p.Get(ctx, h, key)
}

// CASSwap unconditionally replaces the value. The current contract has no
// compare step: swap always wins (§9 Open Questions).
func (p *Postgres) CASSwap(ctx context.Context, h Handle, key string, value []byte) error {
	return p.Set(ctx, h, key, value)
}

func (p *Postgres) PurgeService(ctx context.Context, serviceID wavs.ServiceId) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("purge service: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_store WHERE service_id = $1`, serviceID.String()); err != nil {
		return fmt.Errorf("purge kv_store: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_atomics_counter WHERE service_id = $1`, serviceID.String()); err != nil {
		return fmt.Errorf("purge kv_atomics_counter: %w", err)
	}
	return tx.Commit()
}
