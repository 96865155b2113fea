// Package trigger implements the Trigger Manager (§4.4): per-chain stream
// controllers, interval/cron schedulers, and the recovery manager that
// backfills on reconnect, all funneling TriggerActions into a single bounded
// output channel consumed by the engine pool.
package trigger

import "fmt"

// Error kinds named per §7.
type (
	SubscriptionFailedError struct {
		Chain  string
		Reason string
	}
	StreamError struct {
		Chain string
		Err   error
	}
	BackfillError struct {
		Chain string
		Err   error
	}
	CronError struct {
		Expression string
		Reason     string
	}
	EventIndexConversionError struct {
		Reason string
	}
)

func (e *SubscriptionFailedError) Error() string {
	return fmt.Sprintf("trigger: subscription failed for %s: %s", e.Chain, e.Reason)
}
func (e *StreamError) Error() string       { return fmt.Sprintf("trigger: stream error on %s: %v", e.Chain, e.Err) }
func (e *StreamError) Unwrap() error       { return e.Err }
func (e *BackfillError) Error() string     { return fmt.Sprintf("trigger: backfill error on %s: %v", e.Chain, e.Err) }
func (e *BackfillError) Unwrap() error     { return e.Err }
func (e *CronError) Error() string {
	return fmt.Sprintf("trigger: invalid cron expression %q: %s", e.Expression, e.Reason)
}
func (e *EventIndexConversionError) Error() string {
	return fmt.Sprintf("trigger: event index conversion: %s", e.Reason)
}

// ErrDuplicateSubscription is returned by AddTrigger for a (service, workflow)
// pair that is already registered.
var ErrDuplicateSubscription = fmt.Errorf("trigger: duplicate subscription")
