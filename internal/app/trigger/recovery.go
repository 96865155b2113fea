package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// RecoveryState tracks one chain's stream health per §4.4's recovery manager.
type RecoveryState struct {
	LastProcessedBlock uint64
	LastErrorTime       time.Time
	InRecovery          bool
	RecoveryBlock       uint64
}

// LogFetcher pulls historical logs for backfill; EVM and Cosmos controllers
// each supply an implementation grounded on their own RPC client.
type LogFetcher interface {
	// GetLogs returns logs in [from, to] inclusive; the recovery manager
	// calls this in ~2000-block chunks.
	GetLogs(ctx context.Context, from, to uint64) ([]wavs.TriggerData, error)
	// LatestBlock returns the chain's current height, the backfill target.
	LatestBlock(ctx context.Context) (uint64, error)
}

const backfillChunkBlocks = 2000

// RecoveryManager tracks stream health per ChainKey and drives backfill once
// a chain has been erroring for longer than maxRecoveryDelay.
type RecoveryManager struct {
	mu               sync.Mutex
	states           map[wavs.ChainKey]*RecoveryState
	maxRecoveryDelay time.Duration
}

// NewRecoveryManager constructs a manager with the given error-to-recovery
// threshold.
func NewRecoveryManager(maxRecoveryDelay time.Duration) *RecoveryManager {
	return &RecoveryManager{
		states:           make(map[wavs.ChainKey]*RecoveryState),
		maxRecoveryDelay: maxRecoveryDelay,
	}
}

func (r *RecoveryManager) stateFor(chain wavs.ChainKey) *RecoveryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[chain]
	if !ok {
		st = &RecoveryState{}
		r.states[chain] = st
	}
	return st
}

// RecordProcessed advances the chain's high-water mark, clearing recovery if
// the live stream has caught up to or past the recovery target.
func (r *RecoveryManager) RecordProcessed(chain wavs.ChainKey, block uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.statesLocked(chain)
	if block > st.LastProcessedBlock {
		st.LastProcessedBlock = block
	}
	if st.InRecovery && block >= st.RecoveryBlock {
		st.InRecovery = false
	}
}

func (r *RecoveryManager) statesLocked(chain wavs.ChainKey) *RecoveryState {
	st, ok := r.states[chain]
	if !ok {
		st = &RecoveryState{}
		r.states[chain] = st
	}
	return st
}

// RecordStreamError notes a stream failure and, if the chain has been
// erroring longer than maxRecoveryDelay, flips it into recovery with
// recovery_block = last_processed + 1.
func (r *RecoveryManager) RecordStreamError(chain wavs.ChainKey, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.statesLocked(chain)
	if st.LastErrorTime.IsZero() {
		st.LastErrorTime = at
		return false
	}
	if st.InRecovery {
		return true
	}
	if at.Sub(st.LastErrorTime) >= r.maxRecoveryDelay {
		st.InRecovery = true
		st.RecoveryBlock = st.LastProcessedBlock + 1
		return true
	}
	return false
}

// ClearError resets the error timer after a successful stream read, without
// leaving recovery mode (only a live stream catching up, or an explicit
// ExitRecovery, leaves recovery).
func (r *RecoveryManager) ClearError(chain wavs.ChainKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.statesLocked(chain)
	st.LastErrorTime = time.Time{}
}

// ExitRecovery explicitly leaves recovery mode, e.g. once a backfill stream
// reports it has reached the chain's current height.
func (r *RecoveryManager) ExitRecovery(chain wavs.ChainKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.statesLocked(chain)
	st.InRecovery = false
}

// Snapshot returns a copy of the chain's recovery state for health reporting
// (the /info dev endpoint, §C.3).
func (r *RecoveryManager) Snapshot(chain wavs.ChainKey) RecoveryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.statesLocked(chain)
	return *st
}

// Backfill pulls logs from fetcher in recoveryBlock..latest in
// backfillChunkBlocks-sized chunks, advancing last_processed_block after each
// yielded log and calling emit for every TriggerData produced. It returns
// once it reaches the chain's snapshot height at call time.
func (r *RecoveryManager) Backfill(ctx context.Context, chain wavs.ChainKey, fetcher LogFetcher, emit func(wavs.TriggerData)) error {
	st := r.stateFor(chain)
	r.mu.Lock()
	from := st.RecoveryBlock
	r.mu.Unlock()

	latest, err := fetcher.LatestBlock(ctx)
	if err != nil {
		return &BackfillError{Chain: string(chain), Err: err}
	}

	for from <= latest {
		to := from + backfillChunkBlocks - 1
		if to > latest {
			to = latest
		}
		logs, err := fetcher.GetLogs(ctx, from, to)
		if err != nil {
			return &BackfillError{Chain: string(chain), Err: err}
		}
		for _, l := range logs {
			emit(l)
			r.RecordProcessed(chain, l.BlockNumber)
		}
		r.RecordProcessed(chain, to)
		from = to + 1
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	r.ExitRecovery(chain)
	return nil
}
