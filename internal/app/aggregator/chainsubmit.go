package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/internal/app/submission"
)

// maxGasCeiling is the hard ceiling applied regardless of what a route or
// gas estimate requests (§4.6).
const maxGasCeiling = 30_000_000

// defaultGasSafetyFactorNumerator/Denominator scale an estimate when the
// caller hasn't pinned an explicit gas limit.
const (
	defaultGasSafetyFactorNumerator   = 13
	defaultGasSafetyFactorDenominator = 10
)

// ChainSubmitter sends the aggregated SignatureData for a burned queue to
// its destination chain's service-manager contract.
type ChainSubmitter struct {
	client submission.EvmSender
	signer chainSigner
}

// chainSigner abstracts the gas-paying key that signs the aggregator's own
// submit transaction (distinct from any operator signing key).
type chainSigner interface {
	SignAndSend(ctx context.Context, client submission.EvmSender, to common.Address, data []byte, gasLimit uint64) (*types.Receipt, error)
}

// NewChainSubmitter constructs a submitter bound to client and signer.
func NewChainSubmitter(client submission.EvmSender, signer chainSigner) *ChainSubmitter {
	return &ChainSubmitter{client: client, signer: signer}
}

// Submit calls handleSignedEnvelope(envelope, sigData) on address, applying
// the gas-safety-factor/ceiling rules from §4.6, and classifies any revert.
func (s *ChainSubmitter) Submit(ctx context.Context, route wavs.SubmitConfig, envelope wavs.Envelope, sigData wavs.SignatureData) (*types.Receipt, error) {
	data, err := packHandleSignedEnvelope(envelope, sigData)
	if err != nil {
		return nil, &ServiceManagerValidateError{Kind: ServiceManagerValidateWavs, Detail: err.Error()}
	}
	to := common.HexToAddress(route.Address)

	estimate, err := s.client.EstimateGas(ctx, ethereum.CallMsg{To: &to, Data: data})
	if err != nil {
		return nil, classifyRevert(err)
	}
	gasLimit := estimate * defaultGasSafetyFactorNumerator / defaultGasSafetyFactorDenominator
	if route.MaxGas != nil {
		gasLimit = *route.MaxGas
	}
	if gasLimit > maxGasCeiling {
		gasLimit = maxGasCeiling
	}

	receipt, err := s.signer.SignAndSend(ctx, s.client, to, data, gasLimit)
	if err != nil {
		return nil, classifyRevert(err)
	}
	if receipt != nil && receipt.Status == types.ReceiptStatusFailed {
		return receipt, &ServiceManagerValidateError{Kind: ServiceManagerValidateAnyRevert, Detail: fmt.Sprintf("tx %s reverted", receipt.TxHash.Hex())}
	}
	return receipt, nil
}

func packHandleSignedEnvelope(envelope wavs.Envelope, sigData wavs.SignatureData) ([]byte, error) {
	signers := make([]common.Address, len(sigData.Signers))
	for i, hexAddr := range sigData.Signers {
		signers[i] = common.HexToAddress(hexAddr)
	}
	return handleSignedEnvelopeABI.Pack("handleSignedEnvelope",
		struct {
			Payload  []byte
			EventId  [20]byte
			Ordering [12]byte
		}{envelope.Payload, envelope.EventId, envelope.Ordering},
		struct {
			Signers        []common.Address
			Signatures     [][]byte
			ReferenceBlock uint32
		}{signers, sigData.Signatures, sigData.ReferenceBlock},
	)
}

// handleSignedEnvelopeABI mirrors submission.handleSignedEnvelopeABI; kept
// as a separate literal so this package doesn't reach into submission's
// unexported state.
var handleSignedEnvelopeABI = mustParseHandleSignedEnvelopeABI()

func mustParseHandleSignedEnvelopeABI() gethabi.ABI {
	const def = `[{
		"type":"function",
		"name":"handleSignedEnvelope",
		"inputs":[
			{"name":"envelope","type":"tuple","components":[
				{"name":"payload","type":"bytes"},
				{"name":"eventId","type":"bytes20"},
				{"name":"ordering","type":"bytes12"}
			]},
			{"name":"signatureData","type":"tuple","components":[
				{"name":"signers","type":"address[]"},
				{"name":"signatures","type":"bytes[]"},
				{"name":"referenceBlock","type":"uint32"}
			]}
		],
		"outputs":[]
	}]`
	parsed, err := gethabi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("aggregator: parse embedded ABI: %v", err))
	}
	return parsed
}

// classifyRevert distinguishes an RPC-level JSON-RPC error carrying revert
// data from any other transport/estimation failure.
func classifyRevert(err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &ServiceManagerValidateError{Kind: ServiceManagerValidateAnyRevert, Detail: rpcErr.Error()}
	}
	return &ServiceManagerValidateError{Kind: ServiceManagerValidateUnknownEvm, Detail: err.Error()}
}
