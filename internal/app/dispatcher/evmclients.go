package dispatcher

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

// dialEvmClients eagerly dials one *ethclient.Client per configured chain.
// submission.ChainMessageResolver is synchronous and takes no context, so
// every chain this node submits to must already have a live client by the
// time triggers start firing (§4.5, §9 init order).
func dialEvmClients(ctx context.Context, chains map[string]string) (map[wavs.ChainKey]*ethclient.Client, error) {
	clients := make(map[wavs.ChainKey]*ethclient.Client, len(chains))
	for chain, endpoint := range chains {
		client, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			closeEvmClients(clients)
			return nil, fmt.Errorf("dispatcher: dial %s (%s): %w", chain, endpoint, err)
		}
		clients[wavs.ChainKey(chain)] = client
	}
	return clients, nil
}

func closeEvmClients(clients map[wavs.ChainKey]*ethclient.Client) {
	for _, c := range clients {
		c.Close()
	}
}
