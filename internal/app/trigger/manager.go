package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	core "github.com/wavs-labs/wavs/internal/app/core/service"
	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/pkg/logger"
)

// ChainSubscriber is implemented by EvmController and CosmosController; the
// manager dispatches TriggerConfig.Kind to the right chain-family controller
// without hiding the tag behind a lowest-common-denominator interface (§9),
// but the two controller types do share this narrow add/remove surface.
type ChainSubscriber interface {
	Subscribe(key wavs.SubscriptionKey, cfg wavs.TriggerConfig, currentHeight uint64) bool
	Unsubscribe(key wavs.SubscriptionKey)
}

// Config configures the Manager's output channel depth and per-chain
// endpoints.
type Config struct {
	OutputBufferSize int
	MaxRecoveryDelay time.Duration
	EvmChains        map[wavs.ChainKey]EvmControllerConfig
	CosmosChains     map[wavs.ChainKey]CosmosControllerConfig
}

// Manager owns per-chain stream controllers and the interval/cron
// schedulers, and is the single point through which workflows register and
// tear down triggers (§4.4).
type Manager struct {
	log *logger.Logger
	out chan wavs.TriggerAction

	recovery *RecoveryManager
	blocks   *BlockIntervalScheduler
	cron     *CronScheduler

	mu       sync.Mutex
	chains   map[wavs.ChainKey]ChainSubscriber
	evm      map[wavs.ChainKey]*EvmController
	cosmos   map[wavs.ChainKey]*CosmosController
	manual   map[string]wavs.SubscriptionKey
	seen     map[string]wavs.TriggerKind // lookupID -> kind, for remove routing

	cancel context.CancelFunc
	wg     sync.WaitGroup
	hooks  core.ObservationHooks
}

// SetHooks installs observation hooks invoked around AddTrigger, labeled by
// trigger kind.
func (m *Manager) SetHooks(hooks core.ObservationHooks) { m.hooks = hooks }

// New constructs a Manager from cfg. Controllers are created but not started
// until Start is called.
func New(cfg Config, log *logger.Logger) *Manager {
	bufSize := cfg.OutputBufferSize
	if bufSize <= 0 {
		bufSize = 1024
	}
	m := &Manager{
		log:    log,
		out:    make(chan wavs.TriggerAction, bufSize),
		chains: make(map[wavs.ChainKey]ChainSubscriber),
		evm:    make(map[wavs.ChainKey]*EvmController),
		cosmos: make(map[wavs.ChainKey]*CosmosController),
		manual: make(map[string]wavs.SubscriptionKey),
		seen:   make(map[string]wavs.TriggerKind),
	}
	m.recovery = NewRecoveryManager(cfg.MaxRecoveryDelay)
	m.blocks = NewBlockIntervalScheduler(m.out)
	m.cron = NewCronScheduler(m.out)

	for chain, ecfg := range cfg.EvmChains {
		ecfg.Chain = chain
		ctrl := NewEvmController(ecfg, log, m.recovery, m.blocks, m.out)
		m.evm[chain] = ctrl
		m.chains[chain] = ctrl
	}
	for chain, ccfg := range cfg.CosmosChains {
		ccfg.Chain = chain
		ctrl := NewCosmosController(ccfg, log, m.recovery, m.blocks, m.out)
		m.cosmos[chain] = ctrl
		m.chains[chain] = ctrl
	}
	return m
}

func (m *Manager) Name() string { return "trigger-manager" }

func (m *Manager) Descriptor() core.Descriptor {
	return core.Descriptor{Name: m.Name(), Domain: "wavs", Layer: core.LayerIngress, Capabilities: []string{"evm-streams", "cosmos-streams", "schedulers"}}
}

// Output returns the channel every fired TriggerAction is delivered on.
func (m *Manager) Output() <-chan wavs.TriggerAction { return m.out }

// Start launches every chain controller and the cron scheduler's poll loop.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	for _, ctrl := range m.evm {
		ctrl := ctrl
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			_ = ctrl.Run(runCtx)
		}()
	}
	for _, ctrl := range m.cosmos {
		ctrl := ctrl
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			_ = ctrl.Run(runCtx)
		}()
	}
	return m.cron.Start(runCtx)
}

// Stop cancels every controller and waits for them to exit.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	_ = m.cron.Stop(ctx)
	done := make(chan struct{})
	go func() { m.wg.Wait(); close(done) }()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddTrigger registers cfg for (serviceID, workflowID), routing to the
// correct subsystem by TriggerConfig.Kind. Duplicates by (service_id,
// workflow_id) are rejected with ErrDuplicateSubscription. currentHeight
// supplies the "now" used to compute an aligned first firing for
// BlockInterval triggers registered against an EVM/Cosmos chain.
func (m *Manager) AddTrigger(serviceID wavs.ServiceId, workflowID wavs.WorkflowId, cfg wavs.TriggerConfig, currentHeight uint64) (err error) {
	done := core.StartObservation(context.Background(), m.hooks, map[string]string{"operation": cfg.Kind.String()})
	defer func() { done(err) }()

	key := wavs.SubscriptionKey{ServiceId: serviceID, WorkflowId: workflowID}
	id := lookupID(key)

	m.mu.Lock()
	if _, ok := m.seen[id]; ok {
		m.mu.Unlock()
		return ErrDuplicateSubscription
	}
	m.mu.Unlock()

	var ok bool
	switch cfg.Kind {
	case wavs.TriggerManual:
		m.mu.Lock()
		if _, exists := m.manual[id]; exists {
			m.mu.Unlock()
			return ErrDuplicateSubscription
		}
		m.manual[id] = key
		m.mu.Unlock()
		ok = true
	case wavs.TriggerCron:
		added, err := m.cron.AddTrigger(key, cfg, time.Now())
		if err != nil {
			return err
		}
		ok = added
	case wavs.TriggerEvmContractEvent, wavs.TriggerBlockInterval:
		sub, exists := m.chains[cfg.Chain]
		if !exists {
			return &SubscriptionFailedError{Chain: string(cfg.Chain), Reason: "chain not configured"}
		}
		ok = sub.Subscribe(key, cfg, currentHeight)
	case wavs.TriggerCosmosContractEvent:
		sub, exists := m.chains[cfg.Chain]
		if !exists {
			return &SubscriptionFailedError{Chain: string(cfg.Chain), Reason: "chain not configured"}
		}
		ok = sub.Subscribe(key, cfg, currentHeight)
	default:
		return fmt.Errorf("trigger: unknown trigger kind %d", cfg.Kind)
	}
	if !ok {
		return ErrDuplicateSubscription
	}

	m.mu.Lock()
	m.seen[id] = cfg.Kind
	m.mu.Unlock()
	return nil
}

// RemoveTrigger tears down (serviceID, workflowID)'s subscription. Idempotent.
func (m *Manager) RemoveTrigger(serviceID wavs.ServiceId, workflowID wavs.WorkflowId) {
	key := wavs.SubscriptionKey{ServiceId: serviceID, WorkflowId: workflowID}
	id := lookupID(key)

	m.mu.Lock()
	kind, ok := m.seen[id]
	delete(m.seen, id)
	delete(m.manual, id)
	m.mu.Unlock()
	if !ok {
		return
	}

	switch kind {
	case wavs.TriggerCron:
		m.cron.RemoveTrigger(key)
	case wavs.TriggerEvmContractEvent, wavs.TriggerBlockInterval, wavs.TriggerCosmosContractEvent:
		// The trigger's own Chain isn't retained on removal path; both
		// controller types route BlockInterval through the shared
		// scheduler regardless of which chain map they live in, and
		// contract-event subscriptions are removed from whichever
		// controller still holds them.
		for _, ctrl := range m.evm {
			ctrl.Unsubscribe(key)
		}
		for _, ctrl := range m.cosmos {
			ctrl.Unsubscribe(key)
		}
	}
}

// Fire manually emits a TriggerAction for a Manual-trigger workflow, used by
// the operator HTTP API's simulated-trigger dev endpoint and by direct
// invocation requests.
func (m *Manager) Fire(ctx context.Context, serviceID wavs.ServiceId, workflowID wavs.WorkflowId, data wavs.TriggerData) error {
	return m.FireWithConfig(ctx, serviceID, workflowID, nil, data)
}

// FireWithConfig behaves like Fire but additionally attaches cfg to the
// emitted TriggerAction when non-nil, letting the dev simulated-trigger
// endpoint's optional "trigger" field populate the config a component sees
// as if the real subscription had produced it.
func (m *Manager) FireWithConfig(ctx context.Context, serviceID wavs.ServiceId, workflowID wavs.WorkflowId, cfg *wavs.TriggerConfig, data wavs.TriggerData) error {
	id := lookupID(wavs.SubscriptionKey{ServiceId: serviceID, WorkflowId: workflowID})
	m.mu.Lock()
	_, ok := m.manual[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("trigger: no manual subscription for %s/%s", serviceID, workflowID)
	}
	action := wavs.TriggerAction{ServiceId: serviceID, WorkflowId: workflowID, Data: data}
	if cfg != nil {
		action.Config = *cfg
	}
	select {
	case m.out <- action:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ChainHealth reports per-chain subscription health for the /info dev
// endpoint (§C.3).
func (m *Manager) ChainHealth() map[wavs.ChainKey]RecoveryState {
	out := make(map[wavs.ChainKey]RecoveryState)
	for chain := range m.chains {
		out[chain] = m.recovery.Snapshot(chain)
	}
	return out
}
