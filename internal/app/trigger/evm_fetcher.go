package trigger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// evmLogFetcher adapts an EvmClient to the trigger.LogFetcher contract used
// by the recovery manager's backfill (§4.4).
type evmLogFetcher struct {
	client EvmClient
}

var _ LogFetcher = (*evmLogFetcher)(nil)

func (f *evmLogFetcher) GetLogs(ctx context.Context, from, to uint64) ([]wavs.TriggerData, error) {
	logs, err := f.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
	})
	if err != nil {
		return nil, err
	}
	out := make([]wavs.TriggerData, 0, len(logs))
	for _, l := range logs {
		topics := make([]string, len(l.Topics))
		for i, t := range l.Topics {
			topics[i] = t.Hex()
		}
		out = append(out, wavs.TriggerData{
			Kind:            wavs.DataEvmContractEvent,
			BlockNumber:     l.BlockNumber,
			TxHash:          l.TxHash.Hex(),
			LogIndex:        uint32(l.Index),
			ContractAddress: l.Address.Hex(),
			Topics:          topics,
			Raw:             l.Data,
		})
	}
	return out, nil
}

func (f *evmLogFetcher) LatestBlock(ctx context.Context) (uint64, error) {
	return f.client.BlockNumber(ctx)
}
