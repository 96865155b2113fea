package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/pkg/logger"
)

// EvmClient is the subset of ethclient.Client the controller needs, kept as
// an interface so tests can substitute a fake.
type EvmClient interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

var _ EvmClient = (*ethclient.Client)(nil)

// EvmControllerConfig configures one chain's controller.
type EvmControllerConfig struct {
	Chain            wavs.ChainKey
	Endpoints        []string // cycled through on reconnect
	MaxRecoveryDelay time.Duration
	Dial             func(ctx context.Context, endpoint string) (EvmClient, error)
}

type evmSubscription struct {
	key       wavs.SubscriptionKey
	address   common.Address
	eventHash common.Hash
}

// EvmController maintains a live connection to one EVM chain, cycling
// through configured endpoints on disconnect, subscribing to filtered logs
// for every registered workflow, and consulting the recovery manager on
// stream errors (§4.4).
type EvmController struct {
	cfg      EvmControllerConfig
	log      *logger.Logger
	recovery *RecoveryManager
	blocks   *BlockIntervalScheduler
	out      chan<- wavs.TriggerAction

	mu   sync.Mutex
	subs map[string]evmSubscription

	endpointIdx int
	cancel      context.CancelFunc
	backfilling bool
}

// NewEvmController constructs a controller for one ChainKey.
func NewEvmController(cfg EvmControllerConfig, log *logger.Logger, recovery *RecoveryManager, blocks *BlockIntervalScheduler, out chan<- wavs.TriggerAction) *EvmController {
	return &EvmController{
		cfg: cfg, log: log, recovery: recovery, blocks: blocks, out: out,
		subs: make(map[string]evmSubscription),
	}
}

// Subscribe registers a workflow's EvmContractEvent (or BlockInterval, routed
// to the shared BlockIntervalScheduler) trigger.
func (c *EvmController) Subscribe(key wavs.SubscriptionKey, cfg wavs.TriggerConfig, currentHeight uint64) bool {
	if cfg.Kind == wavs.TriggerBlockInterval {
		return c.blocks.AddTrigger(key, cfg, currentHeight)
	}
	id := lookupID(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[id]; ok {
		return false
	}
	c.subs[id] = evmSubscription{
		key:       key,
		address:   common.HexToAddress(cfg.Address),
		eventHash: common.HexToHash(cfg.EventHash),
	}
	return true
}

// Unsubscribe tears down key's subscription (idempotent).
func (c *EvmController) Unsubscribe(key wavs.SubscriptionKey) {
	c.blocks.RemoveTrigger(key)
	id := lookupID(key)
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// Run drives the connect/subscribe/reconnect loop until ctx is canceled.
func (c *EvmController) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	for {
		select {
		case <-runCtx.Done():
			return nil
		default:
		}
		client, err := c.dial(runCtx)
		if err != nil {
			c.log.WithField("chain", string(c.cfg.Chain)).WithField("error", err).
				Error("evm controller: dial failed, retrying")
			if c.recovery.RecordStreamError(c.cfg.Chain, time.Now()) {
				c.startBackfill(runCtx)
			}
			if !sleepOrDone(runCtx, 2*time.Second) {
				return nil
			}
			continue
		}
		if err := c.runSession(runCtx, client); err != nil && runCtx.Err() == nil {
			c.log.WithField("chain", string(c.cfg.Chain)).WithField("error", err).
				Warn("evm controller: session ended, reconnecting")
			if c.recovery.RecordStreamError(c.cfg.Chain, time.Now()) {
				c.startBackfill(runCtx)
			}
		}
		client.Close()
		if !sleepOrDone(runCtx, 2*time.Second) {
			return nil
		}
	}
}

func (c *EvmController) dial(ctx context.Context) (EvmClient, error) {
	if len(c.cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("evm controller: no endpoints configured for %s", c.cfg.Chain)
	}
	c.endpointIdx = (c.endpointIdx + 1) % len(c.cfg.Endpoints)
	endpoint := c.cfg.Endpoints[c.endpointIdx]
	dial := c.cfg.Dial
	if dial == nil {
		dial = defaultEvmDial
	}
	return dial(ctx, endpoint)
}

func defaultEvmDial(ctx context.Context, endpoint string) (EvmClient, error) {
	cl, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return cl, nil
}

func (c *EvmController) runSession(ctx context.Context, client EvmClient) error {
	heads := make(chan *types.Header, 16)
	headSub, err := client.SubscribeNewHead(ctx, heads)
	if err != nil {
		return &SubscriptionFailedError{Chain: string(c.cfg.Chain), Reason: err.Error()}
	}
	defer headSub.Unsubscribe()

	logs := make(chan types.Log, 64)
	logSub, err := client.SubscribeFilterLogs(ctx, ethereum.FilterQuery{}, logs)
	if err != nil {
		return &SubscriptionFailedError{Chain: string(c.cfg.Chain), Reason: err.Error()}
	}
	defer logSub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-headSub.Err():
			return &StreamError{Chain: string(c.cfg.Chain), Err: err}
		case err := <-logSub.Err():
			return &StreamError{Chain: string(c.cfg.Chain), Err: err}
		case h := <-heads:
			height := h.Number.Uint64()
			c.recovery.RecordProcessed(c.cfg.Chain, height)
			c.recovery.ClearError(c.cfg.Chain)
			c.blocks.OnBlock(ctx, c.cfg.Chain, height)
		case l := <-logs:
			c.dispatchLog(ctx, l)
			c.recovery.RecordProcessed(c.cfg.Chain, l.BlockNumber)
		}
	}
}

func (c *EvmController) dispatchLog(ctx context.Context, l types.Log) {
	topics := make([]string, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = t.Hex()
	}
	c.dispatch(ctx, wavs.TriggerData{
		Kind:            wavs.DataEvmContractEvent,
		BlockNumber:     l.BlockNumber,
		TxHash:          l.TxHash.Hex(),
		LogIndex:        uint32(l.Index),
		ContractAddress: l.Address.Hex(),
		Topics:          topics,
		Raw:             l.Data,
	})
}

// dispatch matches data against every registered subscription and emits one
// TriggerAction per match. Shared by the live log stream and backfill, so a
// gap-filling log is routed identically to a live one.
func (c *EvmController) dispatch(ctx context.Context, data wavs.TriggerData) {
	addr := common.HexToAddress(data.ContractAddress)
	var hash common.Hash
	if len(data.Topics) > 0 {
		hash = common.HexToHash(data.Topics[0])
	}

	c.mu.Lock()
	var matches []evmSubscription
	for _, s := range c.subs {
		if s.address == addr && (s.eventHash == (common.Hash{}) || hash == s.eventHash) {
			matches = append(matches, s)
		}
	}
	c.mu.Unlock()

	for _, s := range matches {
		action := wavs.TriggerAction{
			ServiceId:  s.key.ServiceId,
			WorkflowId: s.key.WorkflowId,
			Data:       data,
		}
		select {
		case c.out <- action:
		case <-ctx.Done():
			return
		}
	}
}

// startBackfill kicks off RecoveryManager.Backfill on its own connection so
// the reconnect loop keeps retrying the live stream independently. A chain
// already backfilling is left alone rather than starting a second sweep.
func (c *EvmController) startBackfill(ctx context.Context) {
	c.mu.Lock()
	if c.backfilling {
		c.mu.Unlock()
		return
	}
	c.backfilling = true
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			c.backfilling = false
			c.mu.Unlock()
		}()

		client, err := c.dial(ctx)
		if err != nil {
			c.log.WithField("chain", string(c.cfg.Chain)).WithField("error", err).
				Error("evm controller: backfill dial failed")
			return
		}
		defer client.Close()

		fetcher := &evmLogFetcher{client: client}
		if err := c.recovery.Backfill(ctx, c.cfg.Chain, fetcher, func(data wavs.TriggerData) {
			c.dispatch(ctx, data)
		}); err != nil {
			c.log.WithField("chain", string(c.cfg.Chain)).WithField("error", err).
				Error("evm controller: backfill failed")
		}
	}()
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
