package engine

import (
	"context"
	"sync"

	core "github.com/wavs-labs/wavs/internal/app/core/service"
	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/internal/app/kvstore"
	"github.com/wavs-labs/wavs/pkg/logger"
)

// Job is one unit of work queued onto the pool: a trigger firing against the
// service and workflow it belongs to.
type Job struct {
	Service      wavs.Service
	WorkflowId   wavs.WorkflowId
	Action       wavs.TriggerAction
	ComponentBuf []byte
	DataDir      string
}

// Result is delivered to Pool's result sink once a Job finishes.
type Result struct {
	Job        Job
	Responses  []wavs.WasmResponse
	Err        error
}

// ResultSink receives completed invocations; the dispatcher wires this to the
// submission manager.
type ResultSink func(context.Context, Result)

// Pool drains a bounded channel of Jobs across N worker goroutines, each
// calling into a shared Engine. Order is preserved per (service_id,
// workflow_id) only insofar as a single worker happens to process a source's
// jobs serially (§5); across workers it is not guaranteed.
type Pool struct {
	engine  *Engine
	workers int
	fuelCap uint64
	timeCap uint32
	kv      kvstore.Store
	chains  map[string]ChainConfig
	log     *logger.Logger
	sink    ResultSink

	jobs   chan Job
	wg     sync.WaitGroup
	cancel context.CancelFunc
	hooks  core.ObservationHooks

	waitMu  sync.Mutex
	waiters []completionWaiter
}

// SetHooks installs observation hooks invoked around every Job's Invoke
// call, labeled by workflow_id.
func (p *Pool) SetHooks(hooks core.ObservationHooks) { p.hooks = hooks }

// completionWaiter is a one-shot subscription for the next Result matching a
// (service, workflow) pair, used by the dev simulated-trigger endpoint's
// wait_for_completion option.
type completionWaiter struct {
	serviceID  wavs.ServiceId
	workflowID wavs.WorkflowId
	ch         chan Result
}

// NewPool constructs a Pool with the given number of worker goroutines and a
// bounded input channel (queueDepth), matching the teacher's bounded-channel
// worker idiom.
func NewPool(eng *Engine, workers, queueDepth int, fuelCap uint64, timeCap uint32, kv kvstore.Store, chains map[string]ChainConfig, log *logger.Logger, sink ResultSink) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Pool{
		engine:  eng,
		workers: workers,
		fuelCap: fuelCap,
		timeCap: timeCap,
		kv:      kv,
		chains:  chains,
		log:     log,
		sink:    sink,
		jobs:    make(chan Job, queueDepth),
	}
}

func (p *Pool) Name() string { return "engine-pool" }

func (p *Pool) Descriptor() core.Descriptor {
	return core.Descriptor{Name: p.Name(), Domain: "wavs", Layer: core.LayerEngine, Capabilities: []string{"wasm-execution"}}
}

// Start launches the worker goroutines. It returns immediately; workers run
// until ctx is canceled or Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx, i)
	}
	return nil
}

// Stop stops accepting new work and waits for in-flight jobs to drain.
func (p *Pool) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	close(p.jobs)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues a job, blocking until there is room or ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitNext registers a one-shot subscription for the next Result produced
// for (serviceID, workflowID) and returns the channel it will be delivered
// on. Used by the dev simulated-trigger endpoint's wait_for_completion
// option. The waiter stays registered until a Result for its pair is
// delivered into the channel's single buffered slot, so delivery never
// blocks even when the caller has stopped reading.
func (p *Pool) AwaitNext(serviceID wavs.ServiceId, workflowID wavs.WorkflowId) <-chan Result {
	ch := make(chan Result, 1)
	p.waitMu.Lock()
	p.waiters = append(p.waiters, completionWaiter{serviceID: serviceID, workflowID: workflowID, ch: ch})
	p.waitMu.Unlock()
	return ch
}

// notifyWaiters delivers res to the oldest still-pending waiter for its
// (service, workflow) pair, if any.
func (p *Pool) notifyWaiters(res Result) {
	svcID := res.Job.Service.Id()
	p.waitMu.Lock()
	for i, w := range p.waiters {
		if w.serviceID == svcID && w.workflowID == res.Job.WorkflowId {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			w.ch <- res
			p.waitMu.Unlock()
			return
		}
	}
	p.waitMu.Unlock()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) run(ctx context.Context, job Job) {
	svcID := job.Service.Id()
	inv := Invocation{
		Service:      job.Service,
		ServiceId:    svcID,
		WorkflowId:   job.WorkflowId,
		Action:       job.Action,
		ComponentBuf: job.ComponentBuf,
		Entry:        EntryRun,
		DataDir:      job.DataDir,
		KV:           p.kv,
		ChainConfigs: p.chains,
		Log:          p.log,
		FuelCap:      p.fuelCap,
		TimeCap:      p.timeCap,
	}
	done := core.StartObservation(ctx, p.hooks, map[string]string{"operation": string(job.WorkflowId)})
	responses, err := p.engine.Invoke(ctx, inv)
	done(err)
	res := Result{Job: job, Responses: responses, Err: err}
	if p.sink != nil {
		p.sink(ctx, res)
	}
	p.notifyWaiters(res)
}
