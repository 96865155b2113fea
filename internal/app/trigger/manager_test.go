package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/pkg/logger"
)

func testManager() *Manager {
	return New(Config{}, logger.NewDefault("trigger-test"))
}

var testKey = wavs.SubscriptionKey{
	ServiceId:  wavs.ServiceId(wavs.HashService([]byte("svc"))),
	WorkflowId: "wf",
}

// Fire against an unregistered manual subscription fails rather than
// silently emitting a TriggerAction nobody expects.
func TestManagerFireWithoutSubscriptionFails(t *testing.T) {
	m := testManager()
	err := m.Fire(context.Background(), testKey.ServiceId, testKey.WorkflowId, wavs.TriggerData{})
	assert.Error(t, err)
}

// A registered manual trigger fires onto Output() with the given data.
func TestManagerFireManualTrigger(t *testing.T) {
	m := testManager()
	require.NoError(t, m.AddTrigger(testKey.ServiceId, testKey.WorkflowId, wavs.TriggerConfig{Kind: wavs.TriggerManual}, 0))

	err := m.Fire(context.Background(), testKey.ServiceId, testKey.WorkflowId, wavs.TriggerData{Kind: wavs.DataRaw, Raw: []byte("payload")})
	require.NoError(t, err)

	select {
	case action := <-m.Output():
		assert.Equal(t, testKey.ServiceId, action.ServiceId)
		assert.Equal(t, testKey.WorkflowId, action.WorkflowId)
		assert.Equal(t, []byte("payload"), action.Data.Raw)
	default:
		t.Fatal("expected a fired TriggerAction")
	}
}

// FireWithConfig attaches the override config to the emitted action; Fire
// (without an override) leaves Config at its zero value.
func TestManagerFireWithConfigAttachesOverride(t *testing.T) {
	m := testManager()
	require.NoError(t, m.AddTrigger(testKey.ServiceId, testKey.WorkflowId, wavs.TriggerConfig{Kind: wavs.TriggerManual}, 0))

	override := wavs.TriggerConfig{Kind: wavs.TriggerManual, Chain: "eth"}
	require.NoError(t, m.FireWithConfig(context.Background(), testKey.ServiceId, testKey.WorkflowId, &override, wavs.TriggerData{}))

	select {
	case action := <-m.Output():
		assert.Equal(t, wavs.ChainKey("eth"), action.Config.Chain)
	default:
		t.Fatal("expected a fired TriggerAction")
	}
}

// AddTrigger rejects a second registration of the same (service, workflow)
// pair.
func TestManagerAddTriggerDuplicateRejected(t *testing.T) {
	m := testManager()
	require.NoError(t, m.AddTrigger(testKey.ServiceId, testKey.WorkflowId, wavs.TriggerConfig{Kind: wavs.TriggerManual}, 0))

	err := m.AddTrigger(testKey.ServiceId, testKey.WorkflowId, wavs.TriggerConfig{Kind: wavs.TriggerManual}, 0)
	assert.ErrorIs(t, err, ErrDuplicateSubscription)
}

// RemoveTrigger tears down a manual subscription so a subsequent Fire fails
// again, and is idempotent.
func TestManagerAddThenRemoveTriggerIsIdempotent(t *testing.T) {
	m := testManager()
	require.NoError(t, m.AddTrigger(testKey.ServiceId, testKey.WorkflowId, wavs.TriggerConfig{Kind: wavs.TriggerManual}, 0))

	m.RemoveTrigger(testKey.ServiceId, testKey.WorkflowId)
	m.RemoveTrigger(testKey.ServiceId, testKey.WorkflowId) // no-op, must not panic

	err := m.Fire(context.Background(), testKey.ServiceId, testKey.WorkflowId, wavs.TriggerData{})
	assert.Error(t, err, "a removed manual subscription must no longer accept Fire")

	// And it can be re-registered cleanly after removal.
	require.NoError(t, m.AddTrigger(testKey.ServiceId, testKey.WorkflowId, wavs.TriggerConfig{Kind: wavs.TriggerManual}, 0))
}

// AddTrigger against an unconfigured chain for a chain-based trigger kind
// fails with SubscriptionFailedError rather than panicking.
func TestManagerAddTriggerUnknownChain(t *testing.T) {
	m := testManager()
	err := m.AddTrigger(testKey.ServiceId, testKey.WorkflowId, wavs.TriggerConfig{Kind: wavs.TriggerBlockInterval, Chain: "unconfigured"}, 0)
	require.Error(t, err)
	var subErr *SubscriptionFailedError
	assert.ErrorAs(t, err, &subErr)
}
