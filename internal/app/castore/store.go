// Package castore implements the content-addressed store for component
// bytecode: components are written once under their SHA-256 digest and never
// modified afterward.
package castore

import (
	"context"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// Store is the content-addressed store contract used by the engine pool and
// the HTTP dev endpoints.
type Store interface {
	// Put hashes b, writes it atomically under its canonical digest, and
	// returns that digest. Writing the same bytes twice is a no-op.
	Put(ctx context.Context, b []byte) (wavs.ComponentDigest, error)
	// Get returns the bytes stored under digest, or wavs.ErrNotFound.
	Get(ctx context.Context, digest wavs.ComponentDigest) ([]byte, error)
	// Has reports whether digest is present without reading the bytes.
	Has(ctx context.Context, digest wavs.ComponentDigest) (bool, error)
	// Fetch resolves a Download or Registry source, verifies the retrieved
	// bytes hash to source.Digest, stores them, and returns the digest.
	// A Digest source is resolved directly against the store with no network
	// access. Digest mismatches return *wavs.DigestMismatchError.
	Fetch(ctx context.Context, source wavs.ComponentSource) (wavs.ComponentDigest, error)
	// GC deletes bytes for any stored digest not present in referenced, and
	// returns the digests it freed.
	GC(ctx context.Context, referenced map[wavs.ComponentDigest]struct{}) ([]wavs.ComponentDigest, error)
}

// Fetcher resolves Download and Registry sources into verified bytes; the
// real implementation performs an HTTP GET or a registry API call. Kept as an
// interface so tests can substitute a canned fetcher.
type Fetcher interface {
	FetchURL(ctx context.Context, url string) ([]byte, error)
	FetchRegistry(ctx context.Context, domain, pkg, version string) ([]byte, error)
}
