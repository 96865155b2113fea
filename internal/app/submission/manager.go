package submission

import (
	"context"
	"crypto/rand"
	"fmt"

	core "github.com/wavs-labs/wavs/internal/app/core/service"
	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/internal/app/engine"
	"github.com/wavs-labs/wavs/internal/app/registry"
	"github.com/wavs-labs/wavs/pkg/logger"
)

// ChainMessageResolver returns the ChainMessage sender configured for chain,
// or false if no sender is wired for it.
type ChainMessageResolver func(chain wavs.ChainKey) (ChainMessage, bool)

// DebugFlags mirrors a service's debug switches that affect submission.
type DebugFlags struct {
	DoNotSubmitAggregator bool
}

// DebugResolver looks up a service's debug flags by id.
type DebugResolver func(serviceID wavs.ServiceId) DebugFlags

// Manager turns engine output (one or more wavs.WasmResponse per invocation)
// into signed, routed submissions (§4.5).
type Manager struct {
	log        *logger.Logger
	registry   registry.Store
	signer     *Signer
	allocator  *HDIndexAllocator
	chains     ChainMessageResolver
	aggregator *AggregatorClient
	debug      DebugResolver
	hooks      core.ObservationHooks
}

// SetHooks installs observation hooks invoked around Submit, labeled by
// service_id.
func (m *Manager) SetHooks(hooks core.ObservationHooks) { m.hooks = hooks }

// NewManager constructs a submission Manager.
func NewManager(log *logger.Logger, reg registry.Store, signer *Signer, allocator *HDIndexAllocator, chains ChainMessageResolver, aggregator *AggregatorClient, debug DebugResolver) *Manager {
	if debug == nil {
		debug = func(wavs.ServiceId) DebugFlags { return DebugFlags{} }
	}
	return &Manager{
		log: log, registry: reg, signer: signer, allocator: allocator,
		chains: chains, aggregator: aggregator, debug: debug,
	}
}

func (m *Manager) Name() string { return "submission-manager" }

func (m *Manager) Descriptor() core.Descriptor {
	return core.Descriptor{Name: m.Name(), Domain: "wavs", Layer: core.LayerAdapter, Capabilities: []string{"sign", "submit-ethereum", "submit-aggregator"}}
}

// Sink is an engine.ResultSink that feeds every successful invocation's
// responses into Submit. Invocation errors are logged, not submitted.
func (m *Manager) Sink() engine.ResultSink {
	return func(ctx context.Context, res engine.Result) {
		if res.Err != nil {
			m.log.WithField("service_id", res.Job.Service.Id().String()).
				WithField("workflow_id", string(res.Job.WorkflowId)).
				WithField("error", res.Err).
				Warn("submission: invocation failed, nothing to submit")
			return
		}
		if err := m.Submit(ctx, res.Job.Service, res.Job.WorkflowId, res.Job.Action, res.Responses); err != nil {
			m.log.WithField("service_id", res.Job.Service.Id().String()).
				WithField("workflow_id", string(res.Job.WorkflowId)).
				WithField("error", err).
				Error("submission: submit failed")
		}
	}
}

// Submit implements the core submit() operation of §4.5: derive each
// response's EventId, build and sign its Envelope, and route it per the
// workflow's SubmitConfig.
func (m *Manager) Submit(ctx context.Context, svc wavs.Service, workflowID wavs.WorkflowId, action wavs.TriggerAction, responses []wavs.WasmResponse) error {
	wf, ok := svc.Workflows[workflowID]
	if !ok {
		return fmt.Errorf("submission: unknown workflow %s/%s", svc.Id(), workflowID)
	}
	if wf.Submit.Kind == wavs.SubmitNone {
		return nil
	}

	done := core.StartObservation(ctx, m.hooks, map[string]string{"operation": svc.Id().String()})
	var submitErr error
	defer func() { done(submitErr) }()

	for _, resp := range responses {
		envelope, err := m.buildEnvelope(action, resp)
		if err != nil {
			submitErr = err
			return err
		}
		if err := m.submitOne(ctx, svc, wf, action, envelope); err != nil {
			submitErr = err
			return err
		}
	}
	return nil
}

func (m *Manager) buildEnvelope(action wavs.TriggerAction, resp wavs.WasmResponse) (wavs.Envelope, error) {
	salt := resp.EventIdSalt
	if len(salt) == 0 {
		salt = make([]byte, 32)
		if _, err := rand.Read(salt); err != nil {
			return wavs.Envelope{}, fmt.Errorf("submission: generate salt: %w", err)
		}
	}
	ordering := wavs.EventOrder{}
	if resp.Ordering != nil {
		ordering = *resp.Ordering
	}
	return wavs.Envelope{
		Payload:  resp.Payload,
		EventId:  DeriveEventId(action, salt),
		Ordering: ordering,
	}, nil
}

func (m *Manager) submitOne(ctx context.Context, svc wavs.Service, wf wavs.Workflow, action wavs.TriggerAction, envelope wavs.Envelope) error {
	route := wf.Submit
	kind := wavs.DefaultSignatureKind
	if route.Kind == wavs.SubmitAggregator {
		kind = route.SignatureKind
	}

	hdIndex, err := m.allocator.Allocate(svc.Id().String())
	if err != nil {
		return err
	}
	signature, signerAddr, err := m.signer.Sign(envelope, kind, hdIndex)
	if err != nil {
		return err
	}

	switch route.Kind {
	case wavs.SubmitEthereumContract:
		sender, ok := m.chains(route.Chain)
		if !ok {
			return &NoRouteConfiguredError{ServiceId: svc.Id().String(), WorkflowId: "ethereum_contract"}
		}
		return sender.Send(ctx, route, envelope, signature, signerAddr)

	case wavs.SubmitAggregator:
		packet := wavs.Packet{
			Envelope:      envelope,
			SignerAddress: signerAddr.Hex(),
			Signature:     signature,
			Route:         route,
		}
		flags := m.debug(svc.Id())
		return m.aggregator.Post(ctx, route, packet, flags.DoNotSubmitAggregator)

	default:
		return fmt.Errorf("submission: unknown submit kind %d", route.Kind)
	}
}
