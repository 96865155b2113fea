package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lessUint(a, b uint64) bool { return a < b }

// Add is idempotent: a duplicate lookupID is rejected wherever the first
// registration currently lives (unadded or already promoted to active).
func TestIntervalSchedulerAddIdempotent(t *testing.T) {
	s := NewIntervalScheduler[uint64](lessUint)
	hit := func(now uint64) (HitResult, uint64) { return HitFireReschedule, now + 1 }

	require.True(t, s.Add("x", 10, hit))
	assert.False(t, s.Add("x", 10, hit), "duplicate add while unadded must be rejected")

	s.Tick(10) // promotes x to active
	assert.False(t, s.Add("x", 20, hit), "duplicate add while active must be rejected")
}

// Remove is idempotent and works regardless of whether the entry is still
// unadded or already active.
func TestIntervalSchedulerRemoveIdempotent(t *testing.T) {
	s := NewIntervalScheduler[uint64](lessUint)
	hit := func(now uint64) (HitResult, uint64) { return HitFireReschedule, now + 1 }
	s.Add("x", 10, hit)

	s.Remove("x")
	assert.Equal(t, 0, s.Len())
	s.Remove("x") // no-op, must not panic

	s.Add("y", 5, hit)
	s.Tick(5)
	require.Equal(t, 1, s.Len())
	s.Remove("y")
	assert.Equal(t, 0, s.Len())
	s.Remove("y")
}

// Adding then removing an entry (whether or not it ever ticked) returns the
// scheduler to its initial empty state (§8).
func TestIntervalSchedulerAddRemoveRoundTrip(t *testing.T) {
	s := NewIntervalScheduler[uint64](lessUint)
	hit := func(now uint64) (HitResult, uint64) { return HitFireReschedule, now + 1 }
	require.Equal(t, 0, s.Len())

	s.Add("x", 10, hit)
	require.Equal(t, 1, s.Len())
	s.Remove("x")
	assert.Equal(t, 0, s.Len())
}

// A missed boundary (Tick called well past the due time) fires exactly
// once, not once per skipped interval.
func TestIntervalSchedulerFiresOnceOnMissedBoundary(t *testing.T) {
	s := NewIntervalScheduler[uint64](lessUint)
	calls := 0
	hit := func(now uint64) (HitResult, uint64) {
		calls++
		return HitFireReschedule, now + 10
	}
	s.Add("x", 10, hit)

	fired := s.Tick(100) // way past due; must still fire once
	assert.Equal(t, []string{"x"}, fired)
	assert.Equal(t, 1, calls)
}

// HitFireTerminate removes the entry from the active set so it never fires
// again.
func TestIntervalSchedulerTerminateStopsFiring(t *testing.T) {
	s := NewIntervalScheduler[uint64](lessUint)
	hit := func(now uint64) (HitResult, uint64) { return HitFireTerminate, 0 }
	s.Add("x", 10, hit)

	fired := s.Tick(10)
	assert.Equal(t, []string{"x"}, fired)
	assert.Equal(t, 0, s.Len())

	fired = s.Tick(20)
	assert.Empty(t, fired)
}

// An entry not yet at its start value stays unadded across ticks that
// haven't reached it.
func TestIntervalSchedulerNotYetDue(t *testing.T) {
	s := NewIntervalScheduler[uint64](lessUint)
	hit := func(now uint64) (HitResult, uint64) { return HitFireReschedule, now + 1 }
	s.Add("x", 10, hit)

	fired := s.Tick(5)
	assert.Empty(t, fired)
	assert.Equal(t, 1, s.Len())
}
