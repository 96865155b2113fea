package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

func lookupEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

// writeGuestBuffer asks the guest to allocate size bytes (via its exported
// "alloc" function, the convention this ABI uses in place of a generated
// canonical-ABI realloc), writes b into that region, and returns a free
// closure the caller must run once the guest is done reading it.
func writeGuestBuffer(ctx context.Context, mod api.Module, b []byte) (uint32, func(), error) {
	noop := func() {}
	if len(b) == 0 {
		return 0, noop, nil
	}
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		return 0, noop, fmt.Errorf("component does not export alloc")
	}
	res, err := alloc.Call(ctx, uint64(len(b)))
	if err != nil || len(res) == 0 {
		return 0, noop, fmt.Errorf("alloc call failed: %w", err)
	}
	ptr := uint32(res[0])
	if !mod.Memory().Write(ptr, b) {
		return 0, noop, fmt.Errorf("write guest memory out of bounds")
	}
	free := func() {
		if dealloc := mod.ExportedFunction("dealloc"); dealloc != nil {
			_, _ = dealloc.Call(ctx, uint64(ptr), uint64(len(b)))
		}
	}
	return ptr, free, nil
}

// wasmResponseWire is the on-wire JSON shape a guest's "run"/"process_packet"
// export writes into its result buffer: a JSON array of responses.
type wasmResponseWire struct {
	Payload     []byte `json:"payload"`
	EventIdSalt []byte `json:"event_id_salt,omitempty"`
	Ordering    []byte `json:"ordering,omitempty"`
}

func decodeResponses(mod api.Module, results []uint64) ([]wavs.WasmResponse, error) {
	if len(results) < 2 {
		return nil, &InputError{Reason: "component export must return (ptr, len)"}
	}
	ptr, length := uint32(results[0]), uint32(results[1])
	if length == 0 {
		return nil, nil
	}
	buf, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, &InputError{Reason: "result pointer out of bounds"}
	}
	var wire []wasmResponseWire
	if err := json.Unmarshal(buf, &wire); err != nil {
		return nil, &ExecResultError{Msg: fmt.Sprintf("decode result: %v", err)}
	}
	out := make([]wavs.WasmResponse, 0, len(wire))
	for _, w := range wire {
		resp := wavs.WasmResponse{Payload: w.Payload, EventIdSalt: w.EventIdSalt}
		if len(w.Ordering) == wavs.EventOrderSize {
			var order wavs.EventOrder
			copy(order[:], w.Ordering)
			resp.Ordering = &order
		}
		out = append(out, resp)
	}
	return out, nil
}

// validateSalts enforces the multi-response invariant (§4.2): in a batch of
// more than one response, every response must carry an event_id_salt.
// Duplicate salts within the batch are logged, not rejected.
func validateSalts(inv Invocation, responses []wavs.WasmResponse) error {
	if len(responses) <= 1 {
		return nil
	}
	seen := make(map[string]bool, len(responses))
	for _, r := range responses {
		if len(r.EventIdSalt) == 0 {
			return &MissingEventIdSaltError{ServiceId: inv.ServiceId.String(), WorkflowId: string(inv.WorkflowId)}
		}
		key := string(r.EventIdSalt)
		if seen[key] && inv.Log != nil {
			inv.Log.WithField("service_id", inv.ServiceId.String()).
				WithField("workflow_id", string(inv.WorkflowId)).
				Warn("duplicate event_id_salt within one invocation batch")
		}
		seen[key] = true
	}
	return nil
}

func classifyInstantiateErr(inv Invocation, err error) error {
	return &InstantiateError{Digest: inv.Workflow.Component.Source.Digest.String(), Err: err}
}

func classifyCallErr(inv Invocation, mod api.Module, err error) error {
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case exitCodeOutOfFuel:
			return &OutOfFuelError{ServiceId: inv.ServiceId.String(), WorkflowId: string(inv.WorkflowId)}
		case sys.ExitCodeDeadlineExceeded, sys.ExitCodeContextCanceled:
			return &OutOfTimeError{ServiceId: inv.ServiceId.String(), WorkflowId: string(inv.WorkflowId)}
		}
	}
	return &ExecResultError{Msg: err.Error()}
}
