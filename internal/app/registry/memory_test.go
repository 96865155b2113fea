package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

func testService(address string) wavs.Service {
	return wavs.Service{
		Name:    "svc-" + address,
		Manager: wavs.ServiceManager{Chain: "evm:1", Address: address},
		Workflows: map[wavs.WorkflowId]wavs.Workflow{
			"main-workflow": {
				Trigger: wavs.TriggerConfig{Kind: wavs.TriggerManual},
				Component: wavs.Component{
					Source: wavs.ComponentSource{Kind: wavs.SourceDigest, Digest: wavs.HashComponent([]byte("wasm"))},
				},
			},
		},
	}
}

func TestMemoryAddServiceRejectsDuplicate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, err := m.AddService(ctx, testService("0xaaa"))
	require.NoError(t, err)
	assert.Equal(t, testService("0xaaa").Id(), id)

	_, err = m.AddService(ctx, testService("0xaaa"))
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMemoryAddServiceRejectsInvalidWorkflowId(t *testing.T) {
	m := NewMemory()
	svc := testService("0xaaa")
	svc.Workflows["Invalid Id!"] = svc.Workflows["main-workflow"]

	_, err := m.AddService(context.Background(), svc)
	assert.Error(t, err)
}

func TestMemoryGetServiceMissing(t *testing.T) {
	m := NewMemory()
	_, err := m.GetService(context.Background(), wavs.ServiceId{})
	assert.ErrorIs(t, err, wavs.ErrNotFound)
}

func TestMemoryDeleteServiceIsNotIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	svc := testService("0xaaa")
	id, err := m.AddService(ctx, svc)
	require.NoError(t, err)

	require.NoError(t, m.DeleteService(ctx, id))
	assert.ErrorIs(t, m.DeleteService(ctx, id), wavs.ErrNotFound)
}

// ListServices returns newest-first and respects limit/offset pagination.
func TestMemoryListServicesOrderingAndPagination(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	idA, err := m.AddService(ctx, testService("0xaaa"))
	require.NoError(t, err)
	idB, err := m.AddService(ctx, testService("0xbbb"))
	require.NoError(t, err)

	all, err := m.ListServices(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, idB, all[0].Id(), "most recently added service comes first")
	assert.Equal(t, idA, all[1].Id())

	page, err := m.ListServices(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, idB, page[0].Id())

	rest, err := m.ListServices(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, idA, rest[0].Id())
}

func TestMemoryAllComponentDigestsDeduplicates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	sharedDigest := wavs.HashComponent([]byte("shared"))

	svcA := testService("0xaaa")
	svcA.Workflows["main-workflow"] = wavs.Workflow{
		Component: wavs.Component{Source: wavs.ComponentSource{Kind: wavs.SourceDigest, Digest: sharedDigest}},
	}
	svcB := testService("0xbbb")
	svcB.Workflows["main-workflow"] = wavs.Workflow{
		Component: wavs.Component{Source: wavs.ComponentSource{Kind: wavs.SourceDigest, Digest: sharedDigest}},
	}
	_, err := m.AddService(ctx, svcA)
	require.NoError(t, err)
	_, err = m.AddService(ctx, svcB)
	require.NoError(t, err)

	digests, err := m.AllComponentDigests(ctx)
	require.NoError(t, err)
	assert.Len(t, digests, 1)
	_, ok := digests[sharedDigest]
	assert.True(t, ok)
}

func TestMemorySaveServiceUpsertsWithoutDuplicatingOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	svc := testService("0xaaa")
	require.NoError(t, m.SaveService(ctx, svc))
	require.NoError(t, m.SaveService(ctx, svc))

	all, err := m.ListServices(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
