package registry

import (
	"context"
	"sync"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// Memory is an in-process Store guarded by a reader-writer lock, matching the
// read-mostly discipline described for the services registry.
type Memory struct {
	mu       sync.RWMutex
	services map[wavs.ServiceId]wavs.Service
	order    []wavs.ServiceId
}

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{services: make(map[wavs.ServiceId]wavs.Service)}
}

var _ Store = (*Memory)(nil)

func (m *Memory) AddService(_ context.Context, svc wavs.Service) (wavs.ServiceId, error) {
	if err := svc.Validate(); err != nil {
		return wavs.ServiceId{}, err
	}
	id := svc.Id()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.services[id]; exists {
		return wavs.ServiceId{}, ErrAlreadyExists
	}
	m.services[id] = svc
	m.order = append(m.order, id)
	return id, nil
}

func (m *Memory) SaveService(_ context.Context, svc wavs.Service) error {
	if err := svc.Validate(); err != nil {
		return err
	}
	id := svc.Id()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.services[id]; !exists {
		m.order = append(m.order, id)
	}
	m.services[id] = svc
	return nil
}

func (m *Memory) DeleteService(_ context.Context, id wavs.ServiceId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[id]; !ok {
		return wavs.ErrNotFound
	}
	delete(m.services, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) GetService(_ context.Context, id wavs.ServiceId) (wavs.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[id]
	if !ok {
		return wavs.Service{}, wavs.ErrNotFound
	}
	return svc, nil
}

func (m *Memory) ListServices(_ context.Context, limit, offset int) ([]wavs.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]wavs.Service, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.services[m.order[i]])
	}
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AllComponentDigests(_ context.Context) (map[wavs.ComponentDigest]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[wavs.ComponentDigest]struct{})
	for _, svc := range m.services {
		for _, wf := range svc.Workflows {
			if !wf.Component.Source.Digest.IsZero() {
				out[wf.Component.Source.Digest] = struct{}{}
			}
		}
	}
	return out, nil
}
