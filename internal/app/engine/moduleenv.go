package engine

import (
	"sync"

	"github.com/tetratelabs/wazero/api"
)

// moduleEnvs maps a live wazero module instance to the hostEnv bound to it
// for the duration of one invocation. Host functions receive only the
// api.Module wazero passes them, so this is the join point that lets
// exported functions reach back into per-invocation state (service,
// workflow, key-value handles) without a global singleton.
var moduleEnvs sync.Map // api.Module -> *hostEnv

func bindHostEnv(mod api.Module, env *hostEnv) {
	moduleEnvs.Store(mod, env)
}

func unbindHostEnv(mod api.Module) {
	moduleEnvs.Delete(mod)
}

func moduleHostEnv(mod api.Module) *hostEnv {
	v, ok := moduleEnvs.Load(mod)
	if !ok {
		return nil
	}
	return v.(*hostEnv)
}
