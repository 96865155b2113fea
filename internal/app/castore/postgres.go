package castore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// Postgres is a Store backed by the `components_bytes` table (§6 "Persisted
// state"), following the teacher's raw database/sql access pattern: no ORM,
// positional placeholders, explicit scanning.
type Postgres struct {
	db      *sql.DB
	fetcher Fetcher
}

// NewPostgres wraps db. Callers are responsible for running migrations that
// create the components_bytes table before use.
func NewPostgres(db *sql.DB, fetcher Fetcher) *Postgres {
	if fetcher == nil {
		fetcher = HTTPFetcher{}
	}
	return &Postgres{db: db, fetcher: fetcher}
}

var _ Store = (*Postgres)(nil)

func (p *Postgres) Put(ctx context.Context, b []byte) (wavs.ComponentDigest, error) {
	digest := wavs.HashComponent(b)
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO components_bytes (digest, bytes, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (digest) DO NOTHING
	`, digest.String(), b, time.Now().UTC())
	if err != nil {
		return wavs.ComponentDigest{}, fmt.Errorf("put component: %w", err)
	}
	return digest, nil
}

func (p *Postgres) Get(ctx context.Context, digest wavs.ComponentDigest) ([]byte, error) {
	var b []byte
	err := p.db.QueryRowContext(ctx, `SELECT bytes FROM components_bytes WHERE digest = $1`, digest.String()).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wavs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get component %s: %w", digest, err)
	}
	return b, nil
}

func (p *Postgres) Has(ctx context.Context, digest wavs.ComponentDigest) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM components_bytes WHERE digest = $1)`, digest.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has component %s: %w", digest, err)
	}
	return exists, nil
}

func (p *Postgres) Fetch(ctx context.Context, source wavs.ComponentSource) (wavs.ComponentDigest, error) {
	switch source.Kind {
	case wavs.SourceDigest:
		ok, err := p.Has(ctx, source.Digest)
		if err != nil {
			return wavs.ComponentDigest{}, err
		}
		if !ok {
			return wavs.ComponentDigest{}, wavs.ErrNotFound
		}
		return source.Digest, nil
	case wavs.SourceDownload:
		b, err := p.fetcher.FetchURL(ctx, source.URL)
		if err != nil {
			return wavs.ComponentDigest{}, fmt.Errorf("fetch %s: %w", source.URL, err)
		}
		return p.verifyAndStore(ctx, b, source.Digest)
	case wavs.SourceRegistry:
		b, err := p.fetcher.FetchRegistry(ctx, source.RegistryDomain, source.RegistryPkg, source.RegistryVer)
		if err != nil {
			return wavs.ComponentDigest{}, fmt.Errorf("fetch registry %s/%s: %w", source.RegistryDomain, source.RegistryPkg, err)
		}
		return p.verifyAndStore(ctx, b, source.Digest)
	default:
		return wavs.ComponentDigest{}, fmt.Errorf("unknown component source kind %d", source.Kind)
	}
}

func (p *Postgres) verifyAndStore(ctx context.Context, b []byte, want wavs.ComponentDigest) (wavs.ComponentDigest, error) {
	got := wavs.HashComponent(b)
	if got != want {
		return wavs.ComponentDigest{}, &wavs.DigestMismatchError{Want: want, Got: got}
	}
	return p.Put(ctx, b)
}

// GC deletes any stored digest absent from referenced and returns what it
// freed. Invoked by the dispatcher on an operator-configurable interval.
func (p *Postgres) GC(ctx context.Context, referenced map[wavs.ComponentDigest]struct{}) ([]wavs.ComponentDigest, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT digest FROM components_bytes`)
	if err != nil {
		return nil, fmt.Errorf("gc scan: %w", err)
	}
	var stale []string
	for rows.Next() {
		var hexDigest string
		if err := rows.Scan(&hexDigest); err != nil {
			rows.Close()
			return nil, fmt.Errorf("gc scan row: %w", err)
		}
		digest, err := wavs.ParseComponentDigest(hexDigest)
		if err != nil {
			continue
		}
		if _, ok := referenced[digest]; !ok {
			stale = append(stale, hexDigest)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("gc scan: %w", err)
	}
	rows.Close()

	freed := make([]wavs.ComponentDigest, 0, len(stale))
	for _, hexDigest := range stale {
		res, err := p.db.ExecContext(ctx, `DELETE FROM components_bytes WHERE digest = $1`, hexDigest)
		if err != nil {
			return freed, fmt.Errorf("gc delete %s: %w", hexDigest, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			if digest, err := wavs.ParseComponentDigest(hexDigest); err == nil {
				freed = append(freed, digest)
			}
		}
	}
	return freed, nil
}
