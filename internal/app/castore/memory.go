package castore

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// Memory is an in-process Store backed by a mutex-guarded map, used in tests
// and for single-node dev runs without Postgres configured.
type Memory struct {
	mu      sync.RWMutex
	bytes   map[wavs.ComponentDigest][]byte
	fetcher Fetcher
}

// NewMemory returns an empty in-memory content-addressed store.
func NewMemory(fetcher Fetcher) *Memory {
	if fetcher == nil {
		fetcher = HTTPFetcher{Client: http.DefaultClient}
	}
	return &Memory{bytes: make(map[wavs.ComponentDigest][]byte), fetcher: fetcher}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Put(_ context.Context, b []byte) (wavs.ComponentDigest, error) {
	digest := wavs.HashComponent(b)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bytes[digest]; !ok {
		cp := make([]byte, len(b))
		copy(cp, b)
		m.bytes[digest] = cp
	}
	return digest, nil
}

func (m *Memory) Get(_ context.Context, digest wavs.ComponentDigest) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bytes[digest]
	if !ok {
		return nil, wavs.ErrNotFound
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

func (m *Memory) Has(_ context.Context, digest wavs.ComponentDigest) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.bytes[digest]
	return ok, nil
}

func (m *Memory) Fetch(ctx context.Context, source wavs.ComponentSource) (wavs.ComponentDigest, error) {
	switch source.Kind {
	case wavs.SourceDigest:
		ok, err := m.Has(ctx, source.Digest)
		if err != nil {
			return wavs.ComponentDigest{}, err
		}
		if !ok {
			return wavs.ComponentDigest{}, wavs.ErrNotFound
		}
		return source.Digest, nil
	case wavs.SourceDownload:
		b, err := m.fetcher.FetchURL(ctx, source.URL)
		if err != nil {
			return wavs.ComponentDigest{}, fmt.Errorf("fetch %s: %w", source.URL, err)
		}
		return m.verifyAndStore(ctx, b, source.Digest)
	case wavs.SourceRegistry:
		b, err := m.fetcher.FetchRegistry(ctx, source.RegistryDomain, source.RegistryPkg, source.RegistryVer)
		if err != nil {
			return wavs.ComponentDigest{}, fmt.Errorf("fetch registry %s/%s: %w", source.RegistryDomain, source.RegistryPkg, err)
		}
		return m.verifyAndStore(ctx, b, source.Digest)
	default:
		return wavs.ComponentDigest{}, fmt.Errorf("unknown component source kind %d", source.Kind)
	}
}

func (m *Memory) verifyAndStore(ctx context.Context, b []byte, want wavs.ComponentDigest) (wavs.ComponentDigest, error) {
	got := wavs.HashComponent(b)
	if got != want {
		return wavs.ComponentDigest{}, &wavs.DigestMismatchError{Want: want, Got: got}
	}
	return m.Put(ctx, b)
}

func (m *Memory) GC(_ context.Context, referenced map[wavs.ComponentDigest]struct{}) ([]wavs.ComponentDigest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var freed []wavs.ComponentDigest
	for digest := range m.bytes {
		if _, ok := referenced[digest]; ok {
			continue
		}
		delete(m.bytes, digest)
		freed = append(freed, digest)
	}
	return freed, nil
}
