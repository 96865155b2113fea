package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

type nsKey struct {
	serviceID wavs.ServiceId
	bucketID  string
	key       string
}

// Memory is an in-process Store guarded by a single mutex, used in tests and
// for dev runs without Postgres configured.
type Memory struct {
	mu       sync.Mutex
	values   map[nsKey][]byte
	counters map[nsKey]int64
}

// NewMemory returns an empty in-memory key-value store.
func NewMemory() *Memory {
	return &Memory{values: make(map[nsKey][]byte), counters: make(map[nsKey]int64)}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Open(_ context.Context, serviceID wavs.ServiceId, bucketID string) (Handle, error) {
	if strings.TrimSpace(bucketID) == "" {
		bucketID = "default"
	}
	return Handle{ServiceId: serviceID, BucketId: bucketID}, nil
}

func (m *Memory) key(h Handle, key string) nsKey {
	return nsKey{serviceID: h.ServiceId, bucketID: h.BucketId, key: key}
}

func (m *Memory) Get(_ context.Context, h Handle, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[m.key(h, key)]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, h Handle, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[m.key(h, key)] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, h Handle, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, m.key(h, key))
	return nil
}

func (m *Memory) Exists(_ context.Context, h Handle, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[m.key(h, key)]
	return ok, nil
}

func (m *Memory) ListKeys(_ context.Context, h Handle, cursor string, pageSize int) (ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.values {
		if k.serviceID == h.ServiceId && k.bucketID == h.BucketId && k.key > cursor {
			keys = append(keys, k.key)
		}
	}
	sort.Strings(keys)
	result := ListResult{Keys: keys}
	if pageSize > 0 && len(keys) > pageSize {
		result.Keys = keys[:pageSize]
		result.NextCursor = keys[pageSize-1]
	}
	return result, nil
}

func (m *Memory) GetMany(_ context.Context, h Handle, keys []string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if v, ok := m.values[m.key(h, key)]; ok {
			out[key] = v
		}
	}
	return out, nil
}

func (m *Memory) SetMany(_ context.Context, h Handle, values map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range values {
		m.values[m.key(h, key)] = value
	}
	return nil
}

func (m *Memory) DeleteMany(_ context.Context, h Handle, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, m.key(h, key))
	}
	return nil
}

func (m *Memory) Increment(_ context.Context, h Handle, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(h, key)
	m.counters[k] += delta
	return m.counters[k], nil
}

func (m *Memory) CASCurrent(ctx context.Context, h Handle, key string) ([]byte, bool, error) {
	return m.Get(ctx, h, key)
}

func (m *Memory) CASSwap(ctx context.Context, h Handle, key string, value []byte) error {
	return m.Set(ctx, h, key, value)
}

func (m *Memory) PurgeService(_ context.Context, serviceID wavs.ServiceId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.values {
		if k.serviceID == serviceID {
			delete(m.values, k)
		}
	}
	for k := range m.counters {
		if k.serviceID == serviceID {
			delete(m.counters, k)
		}
	}
	return nil
}
