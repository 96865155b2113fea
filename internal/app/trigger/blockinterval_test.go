package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

func TestFirstBlockFiringAtOrBeforeStart(t *testing.T) {
	assert.Equal(t, uint64(100), firstBlockFiring(100, 10, 50))
	assert.Equal(t, uint64(100), firstBlockFiring(100, 10, 100))
}

// A trigger added mid-phase aligns to the next on-phase height rather than
// drifting: start=100, n=10, now=103 -> next on-phase height is 110.
func TestFirstBlockFiringAlignsToNextPhase(t *testing.T) {
	assert.Equal(t, uint64(110), firstBlockFiring(100, 10, 103))
	// Exactly on-phase already: still the current height, not one past it.
	assert.Equal(t, uint64(110), firstBlockFiring(100, 10, 110))
}

// AddTrigger rejects a duplicate (service, workflow) pair.
func TestBlockIntervalSchedulerAddTriggerDuplicateRejected(t *testing.T) {
	out := make(chan wavs.TriggerAction, 4)
	s := NewBlockIntervalScheduler(out)
	key := wavs.SubscriptionKey{ServiceId: wavs.ServiceId(wavs.HashService([]byte("svc"))), WorkflowId: "wf"}
	cfg := wavs.TriggerConfig{Kind: wavs.TriggerBlockInterval, Chain: "eth", NBlocks: 5}

	assert.True(t, s.AddTrigger(key, cfg, 0))
	assert.False(t, s.AddTrigger(key, cfg, 0))
}

// OnBlock fires exactly at the aligned interval height and not before.
func TestBlockIntervalSchedulerFiresAtAlignedHeight(t *testing.T) {
	out := make(chan wavs.TriggerAction, 4)
	s := NewBlockIntervalScheduler(out)
	key := wavs.SubscriptionKey{ServiceId: wavs.ServiceId(wavs.HashService([]byte("svc"))), WorkflowId: "wf"}
	cfg := wavs.TriggerConfig{Kind: wavs.TriggerBlockInterval, Chain: "eth", NBlocks: 10}
	require.True(t, s.AddTrigger(key, cfg, 100)) // first firing at 100

	ctx := context.Background()
	s.OnBlock(ctx, "eth", 99)
	select {
	case <-out:
		t.Fatal("must not fire before the aligned height")
	default:
	}

	s.OnBlock(ctx, "eth", 100)
	select {
	case action := <-out:
		assert.Equal(t, uint64(100), action.Data.Height)
	default:
		t.Fatal("expected a fired TriggerAction at the aligned height")
	}
}

// A trigger with end_block terminates after the last in-range firing and
// never fires again.
func TestBlockIntervalSchedulerRespectsEndBlock(t *testing.T) {
	out := make(chan wavs.TriggerAction, 4)
	s := NewBlockIntervalScheduler(out)
	key := wavs.SubscriptionKey{ServiceId: wavs.ServiceId(wavs.HashService([]byte("svc"))), WorkflowId: "wf"}
	end := uint64(105)
	cfg := wavs.TriggerConfig{Kind: wavs.TriggerBlockInterval, Chain: "eth", NBlocks: 10, EndBlock: &end}
	require.True(t, s.AddTrigger(key, cfg, 100))

	ctx := context.Background()
	s.OnBlock(ctx, "eth", 100)
	require.Len(t, out, 1)
	<-out // drain

	s.OnBlock(ctx, "eth", 110) // would be the next interval boundary, but past end_block
	select {
	case <-out:
		t.Fatal("must not fire past end_block")
	default:
	}
}

// RemoveTrigger is idempotent and stops further firings.
func TestBlockIntervalSchedulerRemoveTriggerStopsFiring(t *testing.T) {
	out := make(chan wavs.TriggerAction, 4)
	s := NewBlockIntervalScheduler(out)
	key := wavs.SubscriptionKey{ServiceId: wavs.ServiceId(wavs.HashService([]byte("svc"))), WorkflowId: "wf"}
	cfg := wavs.TriggerConfig{Kind: wavs.TriggerBlockInterval, Chain: "eth", NBlocks: 10}
	require.True(t, s.AddTrigger(key, cfg, 100))

	s.RemoveTrigger(key)
	s.RemoveTrigger(key) // no-op

	ctx := context.Background()
	s.OnBlock(ctx, "eth", 100)
	select {
	case <-out:
		t.Fatal("a removed trigger must never fire")
	default:
	}
}
