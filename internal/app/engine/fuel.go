package engine

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// fuelCounter meters guest compute cost. wazero's pure-Go runtime has no
// built-in instruction-level fuel like wasmtime, so fuel is charged at two
// points: every guest-exported-function call boundary (via a
// experimental.FunctionListener, one unit per call) and every host call
// (hostCallFuelCost, §4.2). Exhausting the budget closes the module, which
// aborts the in-flight guest call with a sys.ExitError the engine recognizes
// as OutOfFuel.
type fuelCounter struct {
	remaining int64
}

func newFuelCounter(limit uint64) *fuelCounter {
	if limit == 0 {
		limit = 1
	}
	return &fuelCounter{remaining: int64(limit)}
}

// spend deducts cost and reports whether fuel remains. Once exhausted it
// stays exhausted; callers charge first, then check the result.
func (f *fuelCounter) spend(cost int64) bool {
	if f == nil {
		return true
	}
	return atomic.AddInt64(&f.remaining, -cost) >= 0
}

func (f *fuelCounter) exhausted() bool {
	if f == nil {
		return false
	}
	return atomic.LoadInt64(&f.remaining) < 0
}

const perCallFuelCost = 1

// fuelListenerFactory charges one fuel unit per guest function call and
// force-closes the module when the budget runs out, giving the engine a
// cooperative yield point approximately every fuel epoch without requiring
// per-instruction hooks.
type fuelListenerFactory struct {
	fuel *fuelCounter
}

var _ experimental.FunctionListenerFactory = (*fuelListenerFactory)(nil)

func (f *fuelListenerFactory) NewListener(def api.FunctionDefinition) experimental.FunctionListener {
	return &fuelListener{fuel: f.fuel}
}

type fuelListener struct {
	fuel *fuelCounter
}

func (l *fuelListener) Before(ctx context.Context, mod api.Module, def api.FunctionDefinition, params []uint64, stack experimental.StackIterator) {
	if l.fuel == nil {
		return
	}
	if !l.fuel.spend(perCallFuelCost) {
		// Out of fuel: abort the guest immediately. CloseWithExitCode is
		// safe to call from within a listener callback.
		_ = mod.CloseWithExitCode(ctx, exitCodeOutOfFuel)
	}
}

func (l *fuelListener) After(ctx context.Context, mod api.Module, def api.FunctionDefinition, err error, results []uint64) {
}

// Distinct exit codes let Invoke tell fuel exhaustion apart from a timeout
// closing the same module.
const (
	exitCodeOutOfFuel uint32 = 0xF0E1
	exitCodeOutOfTime uint32 = 0xF0E2
)
