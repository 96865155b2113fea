package engine

import "fmt"

// Error kinds named per §4.2/§7, not sentinel strings: each carries the
// identifying context a caller needs to decide what to do next.
type (
	// WorkflowNotFoundError is returned when the requested workflow id is
	// absent from the service definition.
	WorkflowNotFoundError struct {
		ServiceId  string
		WorkflowId string
	}

	// ComponentCompileError wraps a wazero compilation failure; the workflow
	// is marked unrunnable until the component is replaced.
	ComponentCompileError struct {
		Digest string
		Err    error
	}

	// InstantiateError wraps a module instantiation failure.
	InstantiateError struct {
		Digest string
		Err    error
	}

	// OutOfFuelError reports fuel exhaustion for one invocation.
	OutOfFuelError struct {
		ServiceId  string
		WorkflowId string
	}

	// OutOfTimeError reports the wall-clock timeout firing, including for
	// CPU-bound guests that never yield voluntarily.
	OutOfTimeError struct {
		ServiceId  string
		WorkflowId string
	}

	// FilesystemError wraps a pre-opened directory failure.
	FilesystemError struct{ Err error }

	// KeyValueError wraps a host key-value capability failure.
	KeyValueError struct{ Err error }

	// InputError reports malformed invocation input.
	InputError struct{ Reason string }

	// ExecResultError carries a guest-reported failure message.
	ExecResultError struct{ Msg string }

	// MissingEventIdSaltError fires when a batch of more than one
	// WasmResponse contains a response with no event_id_salt.
	MissingEventIdSaltError struct {
		ServiceId  string
		WorkflowId string
	}
)

func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("engine: workflow %s/%s not found", e.ServiceId, e.WorkflowId)
}
func (e *ComponentCompileError) Error() string {
	return fmt.Sprintf("engine: compile component %s: %v", e.Digest, e.Err)
}
func (e *ComponentCompileError) Unwrap() error { return e.Err }
func (e *InstantiateError) Error() string {
	return fmt.Sprintf("engine: instantiate component %s: %v", e.Digest, e.Err)
}
func (e *InstantiateError) Unwrap() error { return e.Err }
func (e *OutOfFuelError) Error() string {
	return fmt.Sprintf("engine: out of fuel %s/%s", e.ServiceId, e.WorkflowId)
}
func (e *OutOfTimeError) Error() string {
	return fmt.Sprintf("engine: out of time %s/%s", e.ServiceId, e.WorkflowId)
}
func (e *FilesystemError) Error() string { return fmt.Sprintf("engine: filesystem: %v", e.Err) }
func (e *FilesystemError) Unwrap() error { return e.Err }
func (e *KeyValueError) Error() string   { return fmt.Sprintf("engine: keyvalue: %v", e.Err) }
func (e *KeyValueError) Unwrap() error   { return e.Err }
func (e *InputError) Error() string      { return fmt.Sprintf("engine: input: %s", e.Reason) }
func (e *ExecResultError) Error() string { return fmt.Sprintf("engine: exec result: %s", e.Msg) }
func (e *MissingEventIdSaltError) Error() string {
	return fmt.Sprintf("engine: missing event_id_salt %s/%s", e.ServiceId, e.WorkflowId)
}
