package submission

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/pkg/logger"
)

// handleSignedEnvelopeABI is the single method this package ever calls on a
// destination service-manager contract: submit one signed envelope directly
// (operator-direct submission, no aggregator quorum).
var handleSignedEnvelopeABI = mustParseABI(`[{
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
}]`)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("submission: parse embedded ABI: %v", err))
	}
	return parsed
}

// EvmSender is the subset of ethclient.Client a ChainMessage submitter needs.
type EvmSender interface {
	ethereum.TransactionReader
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ChainMessage submits one envelope directly to an on-chain service manager,
// without going through an aggregator (§4.5's "ethereum_contract" submit
// target).
type ChainMessage interface {
	Send(ctx context.Context, route wavs.SubmitConfig, envelope wavs.Envelope, signature []byte, signer common.Address) error
}

// gasSafetyFactorNumerator/Denominator apply a margin over the estimated gas
// so a slightly-stale estimate doesn't cause an out-of-gas revert.
const (
	gasSafetyFactorNumerator   = 12
	gasSafetyFactorDenominator = 10
)

// EthereumChainMessage sends handleSignedEnvelope transactions via an
// ethclient-compatible sender, signed by key.
type EthereumChainMessage struct {
	client EvmSender
	key    *ecdsa.PrivateKey
	log    *logger.Logger
}

var _ ChainMessage = (*EthereumChainMessage)(nil)

// NewEthereumChainMessage constructs a direct-submission sender. key signs
// the transaction itself (the node's gas-paying account), which may differ
// from the operator signing key used to sign the envelope.
func NewEthereumChainMessage(client EvmSender, key *ecdsa.PrivateKey, log *logger.Logger) *EthereumChainMessage {
	return &EthereumChainMessage{client: client, key: key, log: log}
}

func (m *EthereumChainMessage) Send(ctx context.Context, route wavs.SubmitConfig, envelope wavs.Envelope, signature []byte, signer common.Address) error {
	data, err := handleSignedEnvelopeABI.Pack("handleSignedEnvelope",
		struct {
			Payload  []byte
			EventId  [20]byte
			Ordering [12]byte
		}{envelope.Payload, envelope.EventId, envelope.Ordering},
		struct {
			Signers        []common.Address
			Signatures     [][]byte
			ReferenceBlock uint32
		}{[]common.Address{signer}, [][]byte{signature}, 0},
	)
	if err != nil {
		return &ChainSendFailedError{Chain: string(route.Chain), Err: fmt.Errorf("abi pack: %w", err)}
	}

	to := common.HexToAddress(route.Address)
	from := crypto.PubkeyToAddress(m.key.PublicKey)

	nonce, err := m.client.PendingNonceAt(ctx, from)
	if err != nil {
		return &ChainSendFailedError{Chain: string(route.Chain), Err: fmt.Errorf("nonce: %w", err)}
	}
	gasPrice, err := m.client.SuggestGasPrice(ctx)
	if err != nil {
		return &ChainSendFailedError{Chain: string(route.Chain), Err: fmt.Errorf("gas price: %w", err)}
	}
	chainID, err := m.client.ChainID(ctx)
	if err != nil {
		return &ChainSendFailedError{Chain: string(route.Chain), Err: fmt.Errorf("chain id: %w", err)}
	}

	estimate, err := m.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return &ChainSendFailedError{Chain: string(route.Chain), Err: fmt.Errorf("estimate gas: %w", err)}
	}
	gasLimit := estimate * gasSafetyFactorNumerator / gasSafetyFactorDenominator
	if route.MaxGas != nil && gasLimit > *route.MaxGas {
		gasLimit = *route.MaxGas
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), m.key)
	if err != nil {
		return &ChainSendFailedError{Chain: string(route.Chain), Err: fmt.Errorf("sign tx: %w", err)}
	}
	if err := m.client.SendTransaction(ctx, signed); err != nil {
		return &ChainSendFailedError{Chain: string(route.Chain), TxHash: signed.Hash().Hex(), Err: err}
	}

	m.log.WithField("chain", string(route.Chain)).WithField("tx", signed.Hash().Hex()).Info("submission: handleSignedEnvelope sent")
	return nil
}
