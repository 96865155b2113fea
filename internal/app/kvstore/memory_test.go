package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

func testHandle() Handle {
	return Handle{ServiceId: wavs.ServiceId(wavs.HashService([]byte("svc"))), BucketId: "default"}
}

func seedKeys(t *testing.T, m *Memory, h Handle, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, m.Set(context.Background(), h, k, []byte(k)))
	}
}

// A page exactly at pageSize is returned in full with no NextCursor, per the
// "no further pages" contract.
func TestMemoryListKeysExactPageNoNextCursor(t *testing.T) {
	m := NewMemory()
	h := testHandle()
	seedKeys(t, m, h, "a", "b", "c")

	res, err := m.ListKeys(context.Background(), h, "", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, res.Keys)
	assert.Empty(t, res.NextCursor)
}

// A result exceeding pageSize is truncated and NextCursor is set to the
// last returned key, so the next call with cursor=NextCursor resumes past
// it rather than re-returning it.
func TestMemoryListKeysTruncatesAndSetsNextCursor(t *testing.T) {
	m := NewMemory()
	h := testHandle()
	seedKeys(t, m, h, "a", "b", "c", "d")

	res, err := m.ListKeys(context.Background(), h, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Keys)
	assert.Equal(t, "b", res.NextCursor)

	next, err := m.ListKeys(context.Background(), h, res.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, next.Keys)
	assert.Empty(t, next.NextCursor)
}

// pageSize <= 0 means unpaginated: every matching key is returned.
func TestMemoryListKeysNoPaginationWhenPageSizeZero(t *testing.T) {
	m := NewMemory()
	h := testHandle()
	seedKeys(t, m, h, "a", "b", "c")

	res, err := m.ListKeys(context.Background(), h, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, res.Keys)
	assert.Empty(t, res.NextCursor)
}

// cursor excludes keys lexicographically <= cursor, not just "before".
func TestMemoryListKeysCursorIsExclusive(t *testing.T) {
	m := NewMemory()
	h := testHandle()
	seedKeys(t, m, h, "a", "b", "c")

	res, err := m.ListKeys(context.Background(), h, "a", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, res.Keys)
}

// Keys are namespaced by (ServiceId, BucketId): listing one handle never
// surfaces another service's or bucket's keys.
func TestMemoryListKeysNamespaceIsolation(t *testing.T) {
	m := NewMemory()
	h1 := testHandle()
	h2 := Handle{ServiceId: wavs.ServiceId(wavs.HashService([]byte("other-svc"))), BucketId: "default"}

	seedKeys(t, m, h1, "shared-name")
	seedKeys(t, m, h2, "shared-name", "only-in-h2")

	res, err := m.ListKeys(context.Background(), h1, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"shared-name"}, res.Keys)
}
