package trigger

import (
	"context"
	"sync"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

func lessUint64(a, b uint64) bool { return a < b }

// firstBlockFiring implements §4.4's formula: kickoff is start if the
// workflow declared one, else the height observed at registration time; the
// first firing is start + ceil((now-start)/n)*n so a trigger added mid-phase
// immediately aligns to the next on-phase height instead of drifting.
func firstBlockFiring(start, n, now uint64) uint64 {
	if now <= start {
		return start
	}
	diff := now - start
	steps := (diff + n - 1) / n
	return start + steps*n
}

// BlockIntervalScheduler maintains one IntervalScheduler[uint64] per chain,
// firing TriggerActions as block heights tick in from the chain's stream
// controller.
type BlockIntervalScheduler struct {
	mu  sync.Mutex
	out chan<- wavs.TriggerAction

	perChain map[wavs.ChainKey]*IntervalScheduler[uint64]
	configs  map[string]wavs.TriggerConfig // lookupID -> config, for TriggerAction construction
	keys     map[string]wavs.SubscriptionKey
}

// NewBlockIntervalScheduler constructs a scheduler emitting onto out.
func NewBlockIntervalScheduler(out chan<- wavs.TriggerAction) *BlockIntervalScheduler {
	return &BlockIntervalScheduler{
		out:      out,
		perChain: make(map[wavs.ChainKey]*IntervalScheduler[uint64]),
		configs:  make(map[string]wavs.TriggerConfig),
		keys:     make(map[string]wavs.SubscriptionKey),
	}
}

func lookupID(key wavs.SubscriptionKey) string {
	return key.ServiceId.String() + "/" + string(key.WorkflowId)
}

// AddTrigger registers a BlockInterval trigger. currentHeight is the chain's
// height observed right now, used to compute the first aligned firing.
// Returns false without effect for a duplicate (service_id, workflow_id).
func (s *BlockIntervalScheduler) AddTrigger(key wavs.SubscriptionKey, cfg wavs.TriggerConfig, currentHeight uint64) bool {
	s.mu.Lock()
	sched, ok := s.perChain[cfg.Chain]
	if !ok {
		sched = NewIntervalScheduler[uint64](lessUint64)
		s.perChain[cfg.Chain] = sched
	}
	id := lookupID(key)
	s.configs[id] = cfg
	s.keys[id] = key
	s.mu.Unlock()

	kickoff := currentHeight
	if cfg.StartBlock != nil {
		kickoff = *cfg.StartBlock
	}
	n := cfg.NBlocks
	if n == 0 {
		n = 1
	}
	first := firstBlockFiring(kickoff, n, currentHeight)

	hit := func(now uint64) (HitResult, uint64) {
		next := now + n
		if cfg.EndBlock != nil && now > *cfg.EndBlock {
			return HitNotYet, now // defensive; OnBlock below filters end_block too
		}
		if cfg.EndBlock != nil && next > *cfg.EndBlock {
			return HitFireTerminate, 0
		}
		return HitFireReschedule, next
	}

	added := sched.Add(id, first, hit)
	if !added {
		s.mu.Lock()
		delete(s.configs, id)
		delete(s.keys, id)
		s.mu.Unlock()
	}
	return added
}

// RemoveTrigger tears down key's subscription across every chain scheduler
// (idempotent).
func (s *BlockIntervalScheduler) RemoveTrigger(key wavs.SubscriptionKey) {
	id := lookupID(key)
	s.mu.Lock()
	cfg, ok := s.configs[id]
	delete(s.configs, id)
	delete(s.keys, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	if sched, ok := s.perChain[cfg.Chain]; ok {
		sched.Remove(id)
	}
}

// OnBlock is called by the chain controller for chain as each new height is
// observed; it ticks that chain's scheduler and emits a TriggerAction for
// every entry that fires.
func (s *BlockIntervalScheduler) OnBlock(ctx context.Context, chain wavs.ChainKey, height uint64) {
	s.mu.Lock()
	sched, ok := s.perChain[chain]
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, id := range sched.Tick(height) {
		s.mu.Lock()
		cfg, okCfg := s.configs[id]
		key, okKey := s.keys[id]
		s.mu.Unlock()
		if !okCfg || !okKey {
			continue
		}
		if cfg.EndBlock != nil && height > *cfg.EndBlock {
			continue
		}
		action := wavs.TriggerAction{
			ServiceId:  key.ServiceId,
			WorkflowId: key.WorkflowId,
			Config:     cfg,
			Data: wavs.TriggerData{
				Kind:   wavs.DataBlockInterval,
				Height: height,
			},
		}
		select {
		case s.out <- action:
		case <-ctx.Done():
			return
		}
	}
}
