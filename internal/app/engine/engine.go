// Package engine implements the single-invocation component host (§4.2):
// compiling and instantiating WASM components in a fresh sandbox per call,
// enforcing fuel and wall-clock limits, and binding the host ABI described in
// hostabi.go. It is the engine half of "Engine / Component Host" (§1.2).
package engine

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"
	wazeroapi "github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/internal/app/kvstore"
	"github.com/wavs-labs/wavs/pkg/logger"
)

// EntryPoint names the guest world entry point invoked for this call,
// modeling §9's "Multiple engine worlds" redesign note as a string selector
// over a shared sandbox rather than two parallel implementations.
type EntryPoint string

const (
	// EntryRun is the worker component world: process a TriggerAction.
	EntryRun EntryPoint = "run"
	// EntryProcessPacket is the aggregator component world: transform an
	// incoming Packet into AggregatorActions (§C.5).
	EntryProcessPacket EntryPoint = "process_packet"
)

// Invocation is one call into a component.
type Invocation struct {
	Service      wavs.Service
	ServiceId    wavs.ServiceId
	WorkflowId   wavs.WorkflowId
	Workflow     wavs.Workflow
	Action       wavs.TriggerAction
	ComponentBuf []byte // bytes resolved from the content-addressed store
	Entry        EntryPoint
	InputPayload []byte // overrides Action encoding for non-"run" entries (e.g. a Packet)

	DataDir      string // pre-opened only if Workflow.Component.Permissions.FileSystem
	KV           kvstore.Store
	ChainConfigs map[string]ChainConfig
	Log          *logger.Logger

	// FuelCap/TimeCap are operator-wide caps; the effective limit is always
	// the stricter of these and the workflow's own declared limit.
	FuelCap uint64
	TimeCap uint32
}

// Engine compiles and instantiates components, enforcing resource limits and
// binding host capabilities. One Engine is shared by every worker in a Pool;
// wazero's compiled-module cache lets workers reuse compilation work across
// invocations of the same digest.
type Engine struct {
	runtime wazero.Runtime

	mu       sync.Mutex
	cache    map[wavs.ComponentDigest]*list.Element // digest -> lru node
	lru      *list.List                              // front = most recently used
	lruLimit int
}

type cacheEntry struct {
	digest   wavs.ComponentDigest
	compiled wazero.CompiledModule
}

// New constructs an Engine. lruSize bounds the number of distinct compiled
// components kept warm (the operator's --wasm-lru-size flag, §6); 0 means
// unbounded.
func New(ctx context.Context, lruSize int) (*Engine, error) {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	if _, err := wazeroapi.Instantiate(ctx, rt); err != nil {
		return nil, fmt.Errorf("engine: instantiate wasi snapshot preview1: %w", err)
	}
	if err := registerHostModule(ctx, rt); err != nil {
		return nil, fmt.Errorf("engine: register host module: %w", err)
	}
	return &Engine{
		runtime:  rt,
		cache:    make(map[wavs.ComponentDigest]*list.Element),
		lru:      list.New(),
		lruLimit: lruSize,
	}, nil
}

// Close releases the underlying wazero runtime and every cached compilation.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

func (e *Engine) compiled(ctx context.Context, digest wavs.ComponentDigest, bytecode []byte) (wazero.CompiledModule, error) {
	e.mu.Lock()
	if el, ok := e.cache[digest]; ok {
		e.lru.MoveToFront(el)
		entry := el.Value.(*cacheEntry)
		e.mu.Unlock()
		return entry.compiled, nil
	}
	e.mu.Unlock()

	compiled, err := e.runtime.CompileModule(ctx, bytecode)
	if err != nil {
		return nil, &ComponentCompileError{Digest: digest.String(), Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if el, ok := e.cache[digest]; ok {
		// Lost a race with a concurrent compile of the same digest; keep the
		// winner and drop ours.
		e.lru.MoveToFront(el)
		entry := el.Value.(*cacheEntry)
		e.mu.Unlock()
		_ = compiled.Close(ctx)
		e.mu.Lock()
		return entry.compiled, nil
	}
	el := e.lru.PushFront(&cacheEntry{digest: digest, compiled: compiled})
	e.cache[digest] = el
	e.evictLocked(ctx)
	return compiled, nil
}

func (e *Engine) evictLocked(ctx context.Context) {
	if e.lruLimit <= 0 {
		return
	}
	for e.lru.Len() > e.lruLimit {
		back := e.lru.Back()
		if back == nil {
			return
		}
		entry := back.Value.(*cacheEntry)
		e.lru.Remove(back)
		delete(e.cache, entry.digest)
		_ = entry.compiled.Close(ctx)
	}
}

// Invoke runs one component invocation to completion per §4.2's contract.
func (e *Engine) Invoke(ctx context.Context, inv Invocation) ([]wavs.WasmResponse, error) {
	wf, ok := inv.Service.Workflows[inv.WorkflowId]
	if !ok {
		return nil, &WorkflowNotFoundError{ServiceId: inv.ServiceId.String(), WorkflowId: string(inv.WorkflowId)}
	}
	inv.Workflow = wf

	compiled, err := e.compiled(ctx, wf.Component.Source.Digest, inv.ComponentBuf)
	if err != nil {
		return nil, err
	}

	fuelLimit := wf.Component.EffectiveFuelLimit(inv.FuelCap)
	timeLimit := wf.Component.EffectiveTimeLimit(inv.TimeCap)
	fuel := newFuelCounter(fuelLimit)

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeLimit)*time.Second)
	defer cancel()
	callCtx = experimental.WithFunctionListenerFactory(callCtx, &fuelListenerFactory{fuel: fuel})

	modCfg := wazero.NewModuleConfig().WithName(wf.Component.Source.Digest.String() + ":" + string(inv.WorkflowId))
	if wf.Component.Permissions.FileSystem && inv.DataDir != "" {
		fsCfg := wazero.NewFSConfig().WithDirMount(inv.DataDir, "/data")
		modCfg = modCfg.WithFSConfig(fsCfg)
	}
	for _, key := range wf.Component.EnvKeys {
		if v, ok := lookupEnv("WAVS_ENV_" + key); ok {
			modCfg = modCfg.WithEnv("WAVS_ENV_"+key, v)
		}
	}
	for k, v := range wf.Component.Config {
		modCfg = modCfg.WithEnv(k, v)
	}

	env := newHostEnv(callCtx, inv.Log, inv.Service, inv.ServiceId, inv.WorkflowId, wf, inv.Action, inv.KV, inv.ChainConfigs, fuel)

	mod, err := e.runtime.InstantiateModule(callCtx, compiled, modCfg)
	if err != nil {
		return nil, classifyInstantiateErr(inv, err)
	}
	bindHostEnv(mod, env)
	defer func() {
		unbindHostEnv(mod)
		_ = mod.Close(context.Background())
	}()

	entryFn := string(inv.Entry)
	if entryFn == "" {
		entryFn = string(EntryRun)
	}
	fn := mod.ExportedFunction(entryFn)
	if fn == nil {
		return nil, &InputError{Reason: fmt.Sprintf("component does not export %q", entryFn)}
	}

	input := inv.InputPayload
	if input == nil {
		input, err = json.Marshal(inv.Action)
		if err != nil {
			return nil, &InputError{Reason: err.Error()}
		}
	}

	ptr, free, err := writeGuestBuffer(callCtx, mod, input)
	if err != nil {
		return nil, &InputError{Reason: err.Error()}
	}
	defer free()

	results, callErr := fn.Call(callCtx, uint64(ptr), uint64(len(input)))
	if callErr != nil {
		return nil, classifyCallErr(inv, mod, callErr)
	}
	if env.err != nil {
		return nil, env.err
	}

	responses, err := decodeResponses(mod, results)
	if err != nil {
		return nil, err
	}
	if err := validateSalts(inv, responses); err != nil {
		return nil, err
	}
	return responses, nil
}
