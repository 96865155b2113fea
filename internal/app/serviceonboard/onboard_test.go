package serviceonboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavs-labs/wavs/internal/app/castore"
	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/internal/app/registry"
	"github.com/wavs-labs/wavs/pkg/logger"
)

type fakeSubscriber struct {
	added   []wavs.WorkflowId
	removed []wavs.WorkflowId
}

func (f *fakeSubscriber) AddTrigger(_ wavs.ServiceId, workflowID wavs.WorkflowId, _ wavs.TriggerConfig, _ uint64) error {
	f.added = append(f.added, workflowID)
	return nil
}

func (f *fakeSubscriber) RemoveTrigger(_ wavs.ServiceId, workflowID wavs.WorkflowId) {
	f.removed = append(f.removed, workflowID)
}

// callerReturning builds a ChainCaller that always returns the ABI-encoded
// serviceURI() return value, ignoring the call's address/chain.
func callerReturning(uri string) ChainCaller {
	return func(_ context.Context, _ wavs.ChainKey, _ common.Address, _ []byte) ([]byte, error) {
		packed, err := serviceURIABI.Methods["serviceURI"].Outputs.Pack(uri)
		if err != nil {
			return nil, err
		}
		return packed, nil
	}
}

// AddService resolves a descriptor served over HTTP, stores its component
// bytes, persists the service, and subscribes every workflow's trigger.
func TestOnboarderAddServiceEndToEnd(t *testing.T) {
	componentBytes := []byte("wasm-bytes")
	digest := wavs.HashComponent(componentBytes)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"name": "example-service",
			"workflows": {
				"main-workflow": {
					"trigger": {"kind": "manual"},
					"component": {"source": {"kind": "digest", "digest": "` + digest.String() + `"}},
					"submit": {"kind": "none"}
				}
			}
		}`))
	}))
	defer server.Close()

	reg := registry.NewMemory()
	ca := castore.NewMemory(nil)
	_, err := ca.Put(context.Background(), componentBytes)
	require.NoError(t, err)

	sub := &fakeSubscriber{}
	onboarder := NewOnboarder(logger.NewDefault("onboard-test"), reg, ca, callerReturning(server.URL), "", sub)

	manager := wavs.ServiceManager{Chain: "evm:1", Address: "0x1111111111111111111111111111111111111111"}
	id, err := onboarder.AddService(context.Background(), manager)
	require.NoError(t, err)
	assert.Equal(t, wavs.DeriveServiceId(manager.Chain, manager.Address), id)
	assert.Equal(t, []wavs.WorkflowId{"main-workflow"}, sub.added)

	stored, err := reg.GetService(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "example-service", stored.Name)
}

// DeleteService tears down every workflow's trigger subscription and removes
// the service from the registry.
func TestOnboarderDeleteServiceRemovesAndUnsubscribes(t *testing.T) {
	reg := registry.NewMemory()
	manager := wavs.ServiceManager{Chain: "evm:1", Address: "0x2222222222222222222222222222222222222222"}
	svc := wavs.Service{
		Manager: manager,
		Workflows: map[wavs.WorkflowId]wavs.Workflow{
			"main-workflow": {Trigger: wavs.TriggerConfig{Kind: wavs.TriggerManual}},
		},
	}
	id, err := reg.AddService(context.Background(), svc)
	require.NoError(t, err)

	sub := &fakeSubscriber{}
	onboarder := NewOnboarder(logger.NewDefault("onboard-test"), reg, castore.NewMemory(nil), nil, "", sub)

	require.NoError(t, onboarder.DeleteService(context.Background(), manager))
	assert.Equal(t, []wavs.WorkflowId{"main-workflow"}, sub.removed)

	_, err = reg.GetService(context.Background(), id)
	assert.ErrorIs(t, err, wavs.ErrNotFound)
}

// Onboarding rejects a workflow whose component source digest string fails
// to parse, before ever touching the registry.
func TestOnboarderAddServiceRejectsBadComponentDigest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"name": "bad-service",
			"workflows": {
				"main-workflow": {
					"trigger": {"kind": "manual"},
					"component": {"source": {"kind": "digest", "digest": "not-hex"}},
					"submit": {"kind": "none"}
				}
			}
		}`))
	}))
	defer server.Close()

	reg := registry.NewMemory()
	onboarder := NewOnboarder(logger.NewDefault("onboard-test"), reg, castore.NewMemory(nil), callerReturning(server.URL), "", &fakeSubscriber{})

	manager := wavs.ServiceManager{Chain: "evm:1", Address: "0x3333333333333333333333333333333333333333"}
	_, err := onboarder.AddService(context.Background(), manager)
	assert.Error(t, err)

	all, err := reg.ListServices(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}
