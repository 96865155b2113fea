package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/internal/app/kvstore"
	"github.com/wavs-labs/wavs/pkg/logger"
)

// ChainConfig is the subset of a chain's runtime configuration surfaced to
// components through host.get_{evm|cosmos}_chain_config.
type ChainConfig struct {
	Chain        wavs.ChainKey
	RPCEndpoints []string
	Extra        map[string]string
}

// hostEnv is the per-invocation state bound into the "wavs_host" module.
// Every exported function follows the same calling convention: results that
// return variable-length bytes write into a guest-supplied buffer
// (ptr, cap) and return the actual length, or -1 for "not found", or -2 for
// "buffer too small" — the guest is expected to retry with a larger buffer.
type hostEnv struct {
	ctx        context.Context
	log        *logger.Logger
	service    wavs.Service
	serviceID  wavs.ServiceId
	workflowID wavs.WorkflowId
	workflow   wavs.Workflow
	action     wavs.TriggerAction
	kv         kvstore.Store
	chains     map[string]ChainConfig
	httpClient *http.Client
	fuel       *fuelCounter
	handles    map[uint32]kvstore.Handle
	nextHandle uint32
	err        error // sticky: first host-side error wins, surfaced after invocation
}

const hostCallFuelCost = 1000

func newHostEnv(ctx context.Context, log *logger.Logger, svc wavs.Service, svcID wavs.ServiceId, wfID wavs.WorkflowId, wf wavs.Workflow, action wavs.TriggerAction, kv kvstore.Store, chains map[string]ChainConfig, fuel *fuelCounter) *hostEnv {
	return &hostEnv{
		ctx: ctx, log: log, service: svc, serviceID: svcID, workflowID: wfID, workflow: wf,
		action: action, kv: kv, chains: chains, httpClient: http.DefaultClient, fuel: fuel,
		handles: make(map[uint32]kvstore.Handle), nextHandle: 1,
	}
}

func (h *hostEnv) charge() bool {
	if h.fuel == nil {
		return true
	}
	return h.fuel.spend(hostCallFuelCost)
}

func (h *hostEnv) setErr(err error) {
	if h.err == nil {
		h.err = err
	}
}

// writeResult copies b into guest memory at (ptr,capacity) and returns the
// length written, or -2 if the buffer is too small.
func writeResult(mod api.Module, ptr, capacity uint32, b []byte) int32 {
	if uint32(len(b)) > capacity {
		return -2
	}
	if len(b) == 0 {
		return 0
	}
	if !mod.Memory().Write(ptr, b) {
		return -2
	}
	return int32(len(b))
}

func readString(mod api.Module, ptr, length uint32) (string, bool) {
	b, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return "", false
	}
	return string(b), true
}

// registerHostModule binds the ABI described in §4.2 as wazero host
// functions. Resource ids (kv handles) are opaque uint32s mapped server-side
// in hostEnv.handles so a guest can never forge another service's handle.
func registerHostModule(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder("wavs_host").
		NewFunctionBuilder().WithFunc(hostLog).Export("log").
		NewFunctionBuilder().WithFunc(hostGetChainConfig).Export("get_chain_config").
		NewFunctionBuilder().WithFunc(hostGetService).Export("get_service").
		NewFunctionBuilder().WithFunc(hostGetWorkflow).Export("get_workflow").
		NewFunctionBuilder().WithFunc(hostConfigVar).Export("config_var").
		NewFunctionBuilder().WithFunc(hostKVOpen).Export("kv_open").
		NewFunctionBuilder().WithFunc(hostKVGet).Export("kv_get").
		NewFunctionBuilder().WithFunc(hostKVSet).Export("kv_set").
		NewFunctionBuilder().WithFunc(hostKVDelete).Export("kv_delete").
		NewFunctionBuilder().WithFunc(hostKVIncrement).Export("kv_increment").
		NewFunctionBuilder().WithFunc(hostHTTPFetch).Export("http_fetch").
		Instantiate(ctx)
	return err
}

// hostLog: log(level i32, ptr i32, len i32).
func hostLog(ctx context.Context, mod api.Module, level uint32, ptr, length uint32) {
	env := moduleHostEnv(mod)
	if !env.charge() {
		return
	}
	msg, ok := readString(mod, ptr, length)
	if !ok {
		return
	}
	fields := map[string]any{
		"service_id":        env.serviceID.String(),
		"workflow_id":       string(env.workflowID),
		"component_digest":  env.workflow.Component.Source.Digest.String(),
	}
	entry := env.log.WithFields(logFieldsOf(fields))
	switch level {
	case 0:
		entry.Debug(msg)
	case 2:
		entry.Warn(msg)
	case 3:
		entry.Error(msg)
	default:
		entry.Info(msg)
	}
}

// hostGetChainConfig: get_chain_config(name_ptr, name_len, out_ptr, out_cap) -> i32.
func hostGetChainConfig(ctx context.Context, mod api.Module, namePtr, nameLen, outPtr, outCap uint32) int32 {
	env := moduleHostEnv(mod)
	if !env.charge() {
		return -1
	}
	name, ok := readString(mod, namePtr, nameLen)
	if !ok {
		return -1
	}
	cfg, ok := env.chains[name]
	if !ok {
		return -1
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		env.setErr(err)
		return -1
	}
	return writeResult(mod, outPtr, outCap, b)
}

// hostGetService: get_service(out_ptr, out_cap) -> i32.
func hostGetService(ctx context.Context, mod api.Module, outPtr, outCap uint32) int32 {
	env := moduleHostEnv(mod)
	if !env.charge() {
		return -1
	}
	doc := struct {
		ServiceId  string `json:"service_id"`
		WorkflowId string `json:"workflow_id"`
		Name       string `json:"name"`
	}{env.serviceID.String(), string(env.workflowID), env.service.Name}
	b, err := json.Marshal(doc)
	if err != nil {
		env.setErr(err)
		return -1
	}
	return writeResult(mod, outPtr, outCap, b)
}

// hostGetWorkflow: get_workflow(out_ptr, out_cap) -> i32.
func hostGetWorkflow(ctx context.Context, mod api.Module, outPtr, outCap uint32) int32 {
	env := moduleHostEnv(mod)
	if !env.charge() {
		return -1
	}
	b, err := json.Marshal(env.workflow)
	if err != nil {
		env.setErr(err)
		return -1
	}
	return writeResult(mod, outPtr, outCap, b)
}

// hostConfigVar: config_var(key_ptr, key_len, out_ptr, out_cap) -> i32.
func hostConfigVar(ctx context.Context, mod api.Module, keyPtr, keyLen, outPtr, outCap uint32) int32 {
	env := moduleHostEnv(mod)
	if !env.charge() {
		return -1
	}
	key, ok := readString(mod, keyPtr, keyLen)
	if !ok {
		return -1
	}
	value, ok := env.workflow.Component.Config[key]
	if !ok {
		return -1
	}
	return writeResult(mod, outPtr, outCap, []byte(value))
}

// hostKVOpen: kv_open(bucket_ptr, bucket_len) -> handle i32 (0 on error).
func hostKVOpen(ctx context.Context, mod api.Module, bucketPtr, bucketLen uint32) uint32 {
	env := moduleHostEnv(mod)
	if !env.charge() {
		return 0
	}
	bucket, ok := readString(mod, bucketPtr, bucketLen)
	if !ok {
		bucket = "default"
	}
	handle, err := env.kv.Open(env.ctx, env.serviceID, bucket)
	if err != nil {
		env.setErr(&KeyValueError{Err: err})
		return 0
	}
	id := env.nextHandle
	env.nextHandle++
	env.handles[id] = handle
	return id
}

// hostKVGet: kv_get(handle, key_ptr, key_len, out_ptr, out_cap) -> i32.
func hostKVGet(ctx context.Context, mod api.Module, handle, keyPtr, keyLen, outPtr, outCap uint32) int32 {
	env := moduleHostEnv(mod)
	if !env.charge() {
		return -1
	}
	h, ok := env.handles[handle]
	if !ok {
		return -1
	}
	key, ok := readString(mod, keyPtr, keyLen)
	if !ok {
		return -1
	}
	value, found, err := env.kv.Get(env.ctx, h, key)
	if err != nil {
		env.setErr(&KeyValueError{Err: err})
		return -1
	}
	if !found {
		return -1
	}
	return writeResult(mod, outPtr, outCap, value)
}

// hostKVSet: kv_set(handle, key_ptr, key_len, val_ptr, val_len) -> i32 (0 ok, -1 error).
func hostKVSet(ctx context.Context, mod api.Module, handle, keyPtr, keyLen, valPtr, valLen uint32) int32 {
	env := moduleHostEnv(mod)
	if !env.charge() {
		return -1
	}
	h, ok := env.handles[handle]
	if !ok {
		return -1
	}
	key, ok := readString(mod, keyPtr, keyLen)
	if !ok {
		return -1
	}
	value, ok := mod.Memory().Read(valPtr, valLen)
	if !ok {
		return -1
	}
	if err := env.kv.Set(env.ctx, h, key, value); err != nil {
		env.setErr(&KeyValueError{Err: err})
		return -1
	}
	return 0
}

// hostKVDelete: kv_delete(handle, key_ptr, key_len) -> i32.
func hostKVDelete(ctx context.Context, mod api.Module, handle, keyPtr, keyLen uint32) int32 {
	env := moduleHostEnv(mod)
	if !env.charge() {
		return -1
	}
	h, ok := env.handles[handle]
	if !ok {
		return -1
	}
	key, ok := readString(mod, keyPtr, keyLen)
	if !ok {
		return -1
	}
	if err := env.kv.Delete(env.ctx, h, key); err != nil {
		env.setErr(&KeyValueError{Err: err})
		return -1
	}
	return 0
}

// hostKVIncrement: kv_increment(handle, key_ptr, key_len, delta i64) -> i64.
func hostKVIncrement(ctx context.Context, mod api.Module, handle, keyPtr, keyLen uint32, delta int64) int64 {
	env := moduleHostEnv(mod)
	if !env.charge() {
		return 0
	}
	h, ok := env.handles[handle]
	if !ok {
		return 0
	}
	key, ok := readString(mod, keyPtr, keyLen)
	if !ok {
		return 0
	}
	v, err := env.kv.Increment(env.ctx, h, key, delta)
	if err != nil {
		env.setErr(&KeyValueError{Err: err})
		return 0
	}
	return v
}

// hostHTTPFetch: http_fetch(url_ptr, url_len, out_ptr, out_cap) -> i32.
// Subject to workflow.component.permissions.allowed_http_hosts.
func hostHTTPFetch(ctx context.Context, mod api.Module, urlPtr, urlLen, outPtr, outCap uint32) int32 {
	env := moduleHostEnv(mod)
	if !env.charge() {
		return -1
	}
	url, ok := readString(mod, urlPtr, urlLen)
	if !ok {
		return -1
	}
	host := hostnameOf(url)
	if !env.workflow.Component.Permissions.HTTPAllowed(host) {
		env.setErr(fmt.Errorf("http host %q not permitted", host))
		return -1
	}
	req, err := http.NewRequestWithContext(env.ctx, http.MethodGet, url, nil)
	if err != nil {
		env.setErr(err)
		return -1
	}
	resp, err := env.httpClient.Do(req)
	if err != nil {
		env.setErr(err)
		return -1
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(outCap)+1))
	if err != nil {
		env.setErr(err)
		return -1
	}
	return writeResult(mod, outPtr, outCap, body)
}

func hostnameOf(rawURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if i := strings.IndexAny(trimmed, "/:"); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}

func logFieldsOf(m map[string]any) map[string]any { return m }
