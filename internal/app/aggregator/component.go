package aggregator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/internal/app/engine"
)

// ActionKind tags one AggregatorAction variant (§4.6).
type ActionKind int

const (
	ActionSubmit ActionKind = iota
	ActionTimer
)

// AggregatorAction is one instruction an aggregation component returns from
// process_packet: either submit now, or reschedule itself after a delay.
type AggregatorAction struct {
	Kind ActionKind

	// Submit fields.
	Chain      wavs.ChainKey
	Address    string
	Envelope   wavs.Envelope
	Signatures wavs.SignatureData
	MaxGas     *uint64

	// Timer fields: re-deliver Packet to process_packet after Delay.
	Delay  time.Duration
	Packet wavs.Packet
}

type aggregatorActionWire struct {
	Kind       string             `json:"kind"`
	Chain      string             `json:"chain,omitempty"`
	Address    string             `json:"address,omitempty"`
	Envelope   *envelopeWire      `json:"envelope,omitempty"`
	Signatures *signatureDataWire `json:"signatures,omitempty"`
	MaxGas     *uint64            `json:"max_gas,omitempty"`
	DelayMs    int64              `json:"delay_ms,omitempty"`
	Packet     *packetWireDTO     `json:"packet,omitempty"`
}

type envelopeWire struct {
	Payload  []byte `json:"payload"`
	EventId  string `json:"event_id"`
	Ordering string `json:"ordering"`
}

type signatureDataWire struct {
	Signers        []string `json:"signers"`
	Signatures     [][]byte `json:"signatures"`
	ReferenceBlock uint32   `json:"reference_block"`
}

type packetWireDTO struct {
	Envelope      envelopeWire `json:"envelope"`
	SignerAddress string       `json:"signer_address"`
	Signature     []byte       `json:"signature"`
	BlockHeight   uint64       `json:"block_height"`
}

// ComponentRunner invokes an optional aggregation component (workflow.submit
// = Aggregator{component: Some(c)}) against a Packet, sharing the same
// engine.Engine used by worker components (§C.5).
type ComponentRunner struct {
	eng *engine.Engine
}

// NewComponentRunner constructs a runner bound to a shared Engine.
func NewComponentRunner(eng *engine.Engine) *ComponentRunner {
	return &ComponentRunner{eng: eng}
}

// Run invokes component's process_packet entry with packet as input and
// decodes the resulting AggregatorActions.
func (r *ComponentRunner) Run(ctx context.Context, svc wavs.Service, workflowID wavs.WorkflowId, componentBuf []byte, packet wavs.Packet) ([]AggregatorAction, error) {
	payload, err := json.Marshal(packetWireDTO{
		Envelope: envelopeWire{
			Payload:  packet.Envelope.Payload,
			EventId:  packet.Envelope.EventId.String(),
			Ordering: fmt.Sprintf("%x", packet.Envelope.Ordering),
		},
		SignerAddress: packet.SignerAddress,
		Signature:     packet.Signature,
		BlockHeight:   packet.BlockHeight,
	})
	if err != nil {
		return nil, fmt.Errorf("aggregator: marshal packet input: %w", err)
	}

	inv := engine.Invocation{
		Service:      svc,
		ServiceId:    svc.Id(),
		WorkflowId:   workflowID,
		ComponentBuf: componentBuf,
		Entry:        engine.EntryProcessPacket,
		InputPayload: payload,
	}
	responses, err := r.eng.Invoke(ctx, inv)
	if err != nil {
		return nil, err
	}

	var actions []AggregatorAction
	for _, resp := range responses {
		var wire aggregatorActionWire
		if err := json.Unmarshal(resp.Payload, &wire); err != nil {
			return nil, fmt.Errorf("aggregator: decode action: %w", err)
		}
		action, err := wire.toAction()
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func (w aggregatorActionWire) toAction() (AggregatorAction, error) {
	switch w.Kind {
	case "submit":
		if w.Envelope == nil || w.Signatures == nil {
			return AggregatorAction{}, fmt.Errorf("aggregator: submit action missing envelope/signatures")
		}
		var eventID wavs.EventId
		if b, err := hex.DecodeString(w.Envelope.EventId); err == nil && len(b) == wavs.EventIDSize {
			copy(eventID[:], b)
		}
		var ordering wavs.EventOrder
		if b, err := hex.DecodeString(w.Envelope.Ordering); err == nil && len(b) == wavs.EventOrderSize {
			copy(ordering[:], b)
		}
		return AggregatorAction{
			Kind:    ActionSubmit,
			Chain:   wavs.ChainKey(w.Chain),
			Address: w.Address,
			Envelope: wavs.Envelope{
				Payload:  w.Envelope.Payload,
				EventId:  eventID,
				Ordering: ordering,
			},
			Signatures: wavs.SignatureData{
				Signers:        w.Signatures.Signers,
				Signatures:     w.Signatures.Signatures,
				ReferenceBlock: w.Signatures.ReferenceBlock,
			},
			MaxGas: w.MaxGas,
		}, nil
	case "timer":
		if w.Packet == nil {
			return AggregatorAction{}, fmt.Errorf("aggregator: timer action missing packet")
		}
		return AggregatorAction{
			Kind:  ActionTimer,
			Delay: time.Duration(w.DelayMs) * time.Millisecond,
			Packet: wavs.Packet{
				Envelope:      wavs.Envelope{Payload: w.Packet.Envelope.Payload},
				SignerAddress: w.Packet.SignerAddress,
				Signature:     w.Packet.Signature,
				BlockHeight:   w.Packet.BlockHeight,
			},
		}, nil
	default:
		return AggregatorAction{}, fmt.Errorf("aggregator: unknown action kind %q", w.Kind)
	}
}
