package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// Regression test: a trigger whose first computed firing time is already
// past end_time must be accepted (bookkeeping only) but must never actually
// fire — it is routed through registerInert rather than handed to the
// interval scheduler.
func TestCronAddTriggerPastEndTimeNeverFires(t *testing.T) {
	out := make(chan wavs.TriggerAction, 1)
	s := NewCronScheduler(out)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	key := wavs.SubscriptionKey{ServiceId: wavs.ServiceId(wavs.HashService([]byte("svc"))), WorkflowId: "wf"}

	// Force a schedule whose very first occurrence is already past end_time:
	// a yearly cron starting exactly "now" won't fire again until next year.
	pastEnd := now.Add(time.Minute)
	cfg := wavs.TriggerConfig{Kind: wavs.TriggerCron, Schedule: "0 0 1 1 *", EndTime: &pastEnd}

	added, err := s.AddTrigger(key, cfg, now)
	require.NoError(t, err)
	assert.True(t, added, "bookkeeping must still register the subscription")
	assert.Equal(t, 0, s.sched.Len(), "an inert trigger must never be promoted into the firing scheduler")

	// Ticking far into the future (well past the inert schedule's nominal
	// first occurrence) must never emit anything.
	fired := s.sched.Tick(now.Add(400 * 24 * time.Hour))
	assert.Empty(t, fired)
	select {
	case <-out:
		t.Fatal("an inert past-end_time trigger must never fire")
	default:
	}
}

// A trigger whose schedule still has at least one occurrence before
// end_time is registered active and fires normally.
func TestCronAddTriggerWithinEndTimeFires(t *testing.T) {
	out := make(chan wavs.TriggerAction, 1)
	s := NewCronScheduler(out)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := now.Add(time.Hour)
	key := wavs.SubscriptionKey{ServiceId: wavs.ServiceId(wavs.HashService([]byte("svc"))), WorkflowId: "wf"}
	cfg := wavs.TriggerConfig{Kind: wavs.TriggerCron, Schedule: "* * * * *", EndTime: &end}

	added, err := s.AddTrigger(key, cfg, now)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, s.sched.Len())

	s.emit(context.Background(), now.Add(time.Minute))
	select {
	case action := <-out:
		assert.Equal(t, key.ServiceId, action.ServiceId)
		assert.Equal(t, key.WorkflowId, action.WorkflowId)
	default:
		t.Fatal("expected a fired TriggerAction")
	}
}

// RemoveTrigger is idempotent for both active and inert (past-end_time)
// subscriptions.
func TestCronRemoveTriggerIdempotent(t *testing.T) {
	out := make(chan wavs.TriggerAction, 1)
	s := NewCronScheduler(out)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	key := wavs.SubscriptionKey{ServiceId: wavs.ServiceId(wavs.HashService([]byte("svc"))), WorkflowId: "wf"}
	cfg := wavs.TriggerConfig{Kind: wavs.TriggerCron, Schedule: "* * * * *"}

	_, err := s.AddTrigger(key, cfg, now)
	require.NoError(t, err)

	s.RemoveTrigger(key)
	assert.Equal(t, 0, s.sched.Len())
	s.RemoveTrigger(key) // no-op, must not panic
}

// An invalid cron expression is rejected with a *CronError.
func TestCronAddTriggerInvalidExpression(t *testing.T) {
	out := make(chan wavs.TriggerAction, 1)
	s := NewCronScheduler(out)
	key := wavs.SubscriptionKey{ServiceId: wavs.ServiceId(wavs.HashService([]byte("svc"))), WorkflowId: "wf"}
	cfg := wavs.TriggerConfig{Kind: wavs.TriggerCron, Schedule: "not-a-schedule"}

	_, err := s.AddTrigger(key, cfg, time.Now())
	require.Error(t, err)
	var cronErr *CronError
	require.ErrorAs(t, err, &cronErr)
}
