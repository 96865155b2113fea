package trigger

import (
	"context"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// CronScheduler fires TriggerActions on a cron schedule per §4.4, using
// robfig/cron/v3's standard parser for schedule syntax and Schedule.Next for
// the firing-time iterator.
type CronScheduler struct {
	mu      sync.Mutex
	sched   *IntervalScheduler[time.Time]
	out     chan<- wavs.TriggerAction
	configs map[string]wavs.TriggerConfig
	keys    map[string]wavs.SubscriptionKey

	ticker *time.Ticker
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCronScheduler constructs a scheduler emitting onto out.
func NewCronScheduler(out chan<- wavs.TriggerAction) *CronScheduler {
	return &CronScheduler{
		sched:   NewIntervalScheduler[time.Time](time.Time.Before),
		out:     out,
		configs: make(map[string]wavs.TriggerConfig),
		keys:    make(map[string]wavs.SubscriptionKey),
	}
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// AddTrigger parses cfg.Schedule and registers a cron trigger rooted at
// max(now, cfg.StartTime). Returns a *CronError for an invalid expression,
// or false (no error) for a duplicate subscription.
func (s *CronScheduler) AddTrigger(key wavs.SubscriptionKey, cfg wavs.TriggerConfig, now time.Time) (bool, error) {
	schedule, err := cronlib.ParseStandard(cfg.Schedule)
	if err != nil {
		return false, &CronError{Expression: cfg.Schedule, Reason: err.Error()}
	}

	root := now
	if cfg.StartTime != nil {
		root = maxTime(now, *cfg.StartTime)
	}
	first := schedule.Next(root)
	if cfg.EndTime != nil && first.After(*cfg.EndTime) {
		// The first computed firing time is already past end_time: keep the
		// subscription bookkeeping (so ListTriggers/Remove still see it) but
		// never hand it to the interval scheduler, since promoting it to
		// active would fire it once at the next tick.
		return s.registerInert(key, cfg), nil
	}
	return s.register(key, cfg, first, schedule), nil
}

// registerInert records key/cfg for lookup and removal without ever
// activating a firing schedule.
func (s *CronScheduler) registerInert(key wavs.SubscriptionKey, cfg wavs.TriggerConfig) bool {
	id := lookupID(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[id]; ok {
		return false
	}
	s.configs[id] = cfg
	s.keys[id] = key
	return true
}

func (s *CronScheduler) register(key wavs.SubscriptionKey, cfg wavs.TriggerConfig, first time.Time, schedule cronlib.Schedule) bool {
	id := lookupID(key)
	hit := func(now time.Time) (HitResult, time.Time) {
		next := schedule.Next(now)
		if cfg.EndTime != nil && next.After(*cfg.EndTime) {
			return HitFireTerminate, time.Time{}
		}
		return HitFireReschedule, next
	}
	added := s.sched.Add(id, first, hit)
	if !added {
		return false
	}
	s.mu.Lock()
	s.configs[id] = cfg
	s.keys[id] = key
	s.mu.Unlock()
	return true
}

// RemoveTrigger tears down key's subscription (idempotent).
func (s *CronScheduler) RemoveTrigger(key wavs.SubscriptionKey) {
	id := lookupID(key)
	s.sched.Remove(id)
	s.mu.Lock()
	delete(s.configs, id)
	delete(s.keys, id)
	s.mu.Unlock()
}

// Start launches the polling loop (once per second) that ticks the scheduler
// and emits firing TriggerActions.
func (s *CronScheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.ticker = time.NewTicker(time.Second)
	s.wg.Add(1)
	go s.loop(runCtx)
	return nil
}

func (s *CronScheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.wg.Wait()
	return nil
}

func (s *CronScheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-s.ticker.C:
			s.emit(ctx, now)
		}
	}
}

func (s *CronScheduler) emit(ctx context.Context, now time.Time) {
	for _, id := range s.sched.Tick(now) {
		s.mu.Lock()
		cfg, okCfg := s.configs[id]
		key, okKey := s.keys[id]
		s.mu.Unlock()
		if !okCfg || !okKey {
			continue
		}
		action := wavs.TriggerAction{
			ServiceId:  key.ServiceId,
			WorkflowId: key.WorkflowId,
			Config:     cfg,
			Data: wavs.TriggerData{
				Kind:        wavs.DataCron,
				TriggerTime: now,
			},
		}
		select {
		case s.out <- action:
		case <-ctx.Done():
			return
		}
	}
}
