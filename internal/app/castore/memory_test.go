package castore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

type fakeFetcher struct {
	urlBytes      map[string][]byte
	registryBytes map[string][]byte
}

func (f fakeFetcher) FetchURL(_ context.Context, url string) ([]byte, error) {
	return f.urlBytes[url], nil
}

func (f fakeFetcher) FetchRegistry(_ context.Context, domain, pkg, version string) ([]byte, error) {
	return f.registryBytes[domain+"/"+pkg+"@"+version], nil
}

func TestMemoryPutIsIdempotentByDigest(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	d1, err := m.Put(ctx, []byte("component-bytes"))
	require.NoError(t, err)
	d2, err := m.Put(ctx, []byte("component-bytes"))
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	b, err := m.Get(ctx, d1)
	require.NoError(t, err)
	assert.Equal(t, []byte("component-bytes"), b)
}

func TestMemoryGetMissingReturnsErrNotFound(t *testing.T) {
	m := NewMemory(nil)
	_, err := m.Get(context.Background(), wavs.ComponentDigest{})
	assert.ErrorIs(t, err, wavs.ErrNotFound)
}

func TestMemoryFetchDigestSourceRequiresPresence(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	digest := wavs.HashComponent([]byte("x"))

	_, err := m.Fetch(ctx, wavs.ComponentSource{Kind: wavs.SourceDigest, Digest: digest})
	assert.ErrorIs(t, err, wavs.ErrNotFound)

	_, err = m.Put(ctx, []byte("x"))
	require.NoError(t, err)
	got, err := m.Fetch(ctx, wavs.ComponentSource{Kind: wavs.SourceDigest, Digest: digest})
	require.NoError(t, err)
	assert.Equal(t, digest, got)
}

// Fetch over a Download source stores the bytes and returns the digest once
// they're verified against the source's claimed digest.
func TestMemoryFetchDownloadVerifiesAndStores(t *testing.T) {
	body := []byte("downloaded-component")
	digest := wavs.HashComponent(body)
	fetcher := fakeFetcher{urlBytes: map[string][]byte{"https://example/c.wasm": body}}
	m := NewMemory(fetcher)

	got, err := m.Fetch(context.Background(), wavs.ComponentSource{Kind: wavs.SourceDownload, URL: "https://example/c.wasm", Digest: digest})
	require.NoError(t, err)
	assert.Equal(t, digest, got)

	ok, err := m.Has(context.Background(), digest)
	require.NoError(t, err)
	assert.True(t, ok)
}

// A digest mismatch between the claimed and actual bytes is rejected and
// never stored.
func TestMemoryFetchDownloadDigestMismatch(t *testing.T) {
	body := []byte("downloaded-component")
	wrongDigest := wavs.HashComponent([]byte("something-else"))
	fetcher := fakeFetcher{urlBytes: map[string][]byte{"https://example/c.wasm": body}}
	m := NewMemory(fetcher)

	_, err := m.Fetch(context.Background(), wavs.ComponentSource{Kind: wavs.SourceDownload, URL: "https://example/c.wasm", Digest: wrongDigest})
	require.Error(t, err)
	var mismatch *wavs.DigestMismatchError
	require.ErrorAs(t, err, &mismatch)

	ok, err := m.Has(context.Background(), wavs.HashComponent(body))
	require.NoError(t, err)
	assert.False(t, ok, "unverified bytes must never be stored")
}

// GC deletes every stored digest absent from the referenced set and
// leaves referenced ones untouched.
func TestMemoryGCRemovesUnreferenced(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	keep, err := m.Put(ctx, []byte("keep-me"))
	require.NoError(t, err)
	drop, err := m.Put(ctx, []byte("drop-me"))
	require.NoError(t, err)

	freed, err := m.GC(ctx, map[wavs.ComponentDigest]struct{}{keep: {}})
	require.NoError(t, err)
	assert.Equal(t, []wavs.ComponentDigest{drop}, freed)

	ok, err := m.Has(ctx, keep)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Has(ctx, drop)
	require.NoError(t, err)
	assert.False(t, ok)
}

// GC against an empty referenced set removes everything currently stored.
func TestMemoryGCEmptyReferencedRemovesAll(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	_, err := m.Put(ctx, []byte("a"))
	require.NoError(t, err)
	_, err = m.Put(ctx, []byte("b"))
	require.NoError(t, err)

	freed, err := m.GC(ctx, map[wavs.ComponentDigest]struct{}{})
	require.NoError(t, err)
	assert.Len(t, freed, 2)
}
