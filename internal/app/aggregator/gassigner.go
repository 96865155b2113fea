package aggregator

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/wavs-labs/wavs/internal/app/submission"
)

// receiptPollInterval/receiptPollTimeout bound how long SignAndSend waits
// for its own submit transaction to be mined before giving up and returning
// a nil receipt with a nil error (the caller treats a nil receipt as
// "sent, confirmation pending").
const (
	receiptPollInterval = 500 * time.Millisecond
	receiptPollTimeout  = 30 * time.Second
)

// EcdsaGasSigner signs and sends the aggregator's own on-chain transactions
// (the handleSignedEnvelope call), distinct from any operator signing key
// used to sign envelopes.
type EcdsaGasSigner struct {
	key *ecdsa.PrivateKey
}

// NewEcdsaGasSigner constructs a gas-paying signer from a raw private key.
func NewEcdsaGasSigner(key *ecdsa.PrivateKey) *EcdsaGasSigner {
	return &EcdsaGasSigner{key: key}
}

func (s *EcdsaGasSigner) SignAndSend(ctx context.Context, client submission.EvmSender, to common.Address, data []byte, gasLimit uint64) (*types.Receipt, error) {
	from := crypto.PubkeyToAddress(s.key.PublicKey)
	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("aggregator: nonce: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregator: gas price: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregator: chain id: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("aggregator: sign tx: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("aggregator: send tx: %w", err)
	}
	return waitForReceipt(ctx, client, signed.Hash())
}

func waitForReceipt(ctx context.Context, client submission.EvmSender, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(receiptPollTimeout)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
