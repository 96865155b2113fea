package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	core "github.com/wavs-labs/wavs/internal/app/core/service"
	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/internal/app/submission"
	"github.com/wavs-labs/wavs/pkg/logger"
)

// KnownService is the subset of a Service's definition the aggregator needs
// to validate and route a Packet, registered via POST /services.
type KnownService struct {
	ServiceId       wavs.ServiceId
	Manager         wavs.ServiceManager
	QuorumThreshold int
	Component       *ComponentBinding // optional aggregation component
}

// ComponentBinding names the workflow an optional aggregation component
// lives on, so Manager can fetch its bytecode from the content-addressed
// store when a Packet arrives.
type ComponentBinding struct {
	WorkflowId wavs.WorkflowId
	Digest     wavs.ComponentDigest
}

// ComponentFetcher resolves component bytecode by digest; castore.Store
// satisfies this directly via its Get method.
type ComponentFetcher interface {
	Get(ctx context.Context, digest wavs.ComponentDigest) ([]byte, error)
}

// AddResult reports what happened to an admitted Packet, matching the three
// outcomes of POST /packets (§6).
type AddResult struct {
	Aggregated bool
	Count      int
	Sent       bool
	TxHash     string
}

// Manager is the aggregator service: known-service registry, quorum queues,
// and the chain-submission path triggered on threshold crossing (§4.6).
type Manager struct {
	log       *logger.Logger
	queues    *QueueStore
	submitter *ChainSubmitter
	fetcher   ComponentFetcher
	runner    *ComponentRunner

	mu       sync.RWMutex
	services map[wavs.ServiceId]KnownService

	defaultQuorumThreshold int
	cleanupInterval        time.Duration
	cancel                 context.CancelFunc
	runCtx                 context.Context
	hooks                  core.ObservationHooks
}

// SetHooks installs observation hooks invoked around AddPacket, labeled by
// the packet route's chain:address.
func (m *Manager) SetHooks(hooks core.ObservationHooks) { m.hooks = hooks }

// NewManager constructs an aggregator Manager. defaultQuorumThreshold backs
// §9's Open Question ("source has a placeholder count >= 3"); a real
// deployment should instead read the threshold from each service manager
// contract, which RegisterService can override per service.
func NewManager(log *logger.Logger, burnedTTL time.Duration, submitter *ChainSubmitter, fetcher ComponentFetcher, runner *ComponentRunner, defaultQuorumThreshold int) *Manager {
	if defaultQuorumThreshold <= 0 {
		defaultQuorumThreshold = 3
	}
	return &Manager{
		log: log, queues: NewQueueStore(burnedTTL), submitter: submitter,
		fetcher: fetcher, runner: runner,
		services:               make(map[wavs.ServiceId]KnownService),
		defaultQuorumThreshold: defaultQuorumThreshold,
		cleanupInterval:        burnedTTL / 4,
	}
}

func (m *Manager) Name() string { return "aggregator" }

func (m *Manager) Descriptor() core.Descriptor {
	return core.Descriptor{Name: m.Name(), Domain: "wavs", Layer: core.LayerAdapter, Capabilities: []string{"quorum-queue", "chain-submit"}}
}

// Start launches the periodic burned-queue cleanup sweep.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.runCtx = runCtx
	interval := m.cleanupInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if n := m.queues.Cleanup(time.Now()); n > 0 {
					m.log.WithField("removed", n).Debug("aggregator: cleaned up burned queues")
				}
			}
		}
	}()
	return nil
}

func (m *Manager) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

// RegisterService records svc as known to this aggregator (POST /services).
// Re-registering the same ServiceId with a differing Manager is rejected as
// RepeatServiceError.
func (m *Manager) RegisterService(svc KnownService) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.services[svc.ServiceId]; ok {
		if existing.Manager != svc.Manager {
			return &RepeatServiceError{ServiceId: svc.ServiceId.String()}
		}
		return nil
	}
	if svc.QuorumThreshold <= 0 {
		svc.QuorumThreshold = m.defaultQuorumThreshold
	}
	m.services[svc.ServiceId] = svc
	return nil
}

func (m *Manager) knownServiceFor(chain wavs.ChainKey, address string) (KnownService, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, svc := range m.services {
		if svc.Manager.Chain == chain && svc.Manager.Address == address {
			return svc, true
		}
	}
	return KnownService{}, false
}

// AddPacket implements POST /packets: validate the packet's signature,
// admit it into the EventId's quorum queue, and submit on-chain if this
// admission crosses the threshold (§4.6).
func (m *Manager) AddPacket(ctx context.Context, packet wavs.Packet) (result AddResult, err error) {
	done := core.StartObservation(ctx, m.hooks, map[string]string{"operation": fmt.Sprintf("%s:%s", packet.Route.Chain, packet.Route.Address)})
	defer func() { done(err) }()

	known, ok := m.knownServiceFor(packet.Route.Chain, packet.Route.Address)
	if !ok {
		return AddResult{}, &MissingServiceError{ServiceId: fmt.Sprintf("%s:%s", packet.Route.Chain, packet.Route.Address)}
	}

	signer, err := submission.RecoverAddress(packet.Envelope, known.signatureKindOrDefault(packet.Route), packet.Signature)
	if err != nil {
		return AddResult{}, err
	}
	if signer.Hex() != packet.SignerAddress {
		return AddResult{}, &submission.RecoverSignerAddressError{Reason: "recovered address does not match claimed signer"}
	}

	id := packet.Envelope.EventId
	queue := m.queues.getOrCreate(id, packet.Envelope, uint32(packet.BlockHeight))
	admitted, err := queue.admit(packet.Envelope, signer, packet.Signature, known.QuorumThreshold)
	if err != nil {
		return AddResult{}, err
	}
	if admitted.alreadyBurned {
		return AddResult{}, &AlreadyBurnedError{QueueId: id.String()}
	}

	if !admitted.crossed {
		return AddResult{Aggregated: true, Count: admitted.count}, nil
	}

	sigData := queue.signatureData()

	if known.Component != nil {
		result, err := m.runAggregationComponent(ctx, known, packet)
		if err != nil {
			m.log.WithField("service_id", known.ServiceId.String()).WithField("error", err).
				Error("aggregator: aggregation component failed, falling back to direct submit")
		} else if result != nil {
			queue.burn(time.Now())
			return *result, nil
		}
	}

	receipt, err := m.submitter.Submit(ctx, wavs.SubmitConfig{Chain: known.Manager.Chain, Address: known.Manager.Address}, packet.Envelope, sigData)
	if err != nil {
		return AddResult{}, err
	}
	queue.burn(time.Now())

	res := AddResult{Sent: true, Count: admitted.count}
	if receipt != nil {
		res.TxHash = receipt.TxHash.Hex()
	}
	return res, nil
}

// runAggregationComponent invokes the optional aggregation component and
// executes the first "submit" action it returns, if any.
func (m *Manager) runAggregationComponent(ctx context.Context, known KnownService, packet wavs.Packet) (*AddResult, error) {
	buf, err := m.fetcher.Get(ctx, known.Component.Digest)
	if err != nil {
		return nil, fmt.Errorf("aggregator: fetch aggregation component: %w", err)
	}
	svc := wavs.Service{Manager: known.Manager}
	actions, err := m.runner.Run(ctx, svc, known.Component.WorkflowId, buf, packet)
	if err != nil {
		return nil, err
	}
	for _, action := range actions {
		switch action.Kind {
		case ActionSubmit:
			receipt, err := m.submitter.Submit(ctx, wavs.SubmitConfig{Chain: action.Chain, Address: action.Address, MaxGas: action.MaxGas}, action.Envelope, action.Signatures)
			if err != nil {
				return nil, err
			}
			res := AddResult{Sent: true}
			if receipt != nil {
				res.TxHash = receipt.TxHash.Hex()
			}
			return &res, nil
		case ActionTimer:
			m.scheduleTimer(known, action)
		}
	}
	return nil, nil
}

// scheduleTimer re-delivers action.Packet to the aggregation component's
// process_packet entry after action.Delay, the reschedule half of §4.6's
// submit-now-or-reschedule contract. Tied to the Manager's run context so a
// pending timer is abandoned on Stop rather than outliving it.
func (m *Manager) scheduleTimer(known KnownService, action AggregatorAction) {
	ctx := m.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(action.Delay)
	go func() {
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if _, err := m.runAggregationComponent(ctx, known, action.Packet); err != nil {
			m.log.WithField("service_id", known.ServiceId.String()).WithField("error", err).
				Error("aggregator: timer re-invocation of aggregation component failed")
		}
	}()
}

func (s KnownService) signatureKindOrDefault(route wavs.SubmitConfig) wavs.SignatureKind {
	if route.SignatureKind != (wavs.SignatureKind{}) {
		return route.SignatureKind
	}
	return wavs.DefaultSignatureKind
}

// QueueCount exposes the current number of tracked quorum queues for /info.
func (m *Manager) QueueCount() int { return m.queues.Len() }
