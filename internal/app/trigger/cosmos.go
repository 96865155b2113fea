package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/pkg/logger"
)

// CosmosControllerConfig configures one Cosmos chain's poller.
type CosmosControllerConfig struct {
	Chain        wavs.ChainKey
	RESTEndpoint string // a Cosmos SDK REST/LCD endpoint, e.g. "https://rpc.example:1317"
	PollInterval time.Duration
}

type cosmosSubscription struct {
	key       wavs.SubscriptionKey
	address   string
	eventType string
}

// blockEventsResponse is the subset of a Cosmos SDK
// `/cosmos/base/tendermint/v1beta1/blocks/{height}` (or `.../blocks/latest`)
// response this poller reads: the block height and a list of ABCI events,
// each a type + attribute list.
type blockEventsResponse struct {
	BlockHeight string            `json:"height"`
	Events      []cosmosABCIEvent `json:"events"`
}

type cosmosABCIEvent struct {
	Type       string                `json:"type"`
	Attributes []cosmosEventAttribute `json:"attributes"`
}

type cosmosEventAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (e cosmosABCIEvent) attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// cosmosLogFetcher adapts CosmosController's REST client to the
// trigger.LogFetcher contract used by the recovery manager's backfill
// (§4.4), fetching one block's wasm events at a time.
type cosmosLogFetcher struct {
	controller *CosmosController
}

var _ LogFetcher = (*cosmosLogFetcher)(nil)

func (f *cosmosLogFetcher) GetLogs(ctx context.Context, from, to uint64) ([]wavs.TriggerData, error) {
	var out []wavs.TriggerData
	for h := from; h <= to; h++ {
		events, err := f.controller.fetchBlockEvents(ctx, h)
		if err != nil {
			return nil, err
		}
		for _, ev := range events {
			if !strings.HasPrefix(ev.Type, "wasm") {
				continue
			}
			address, _ := ev.attr("_contract_address")
			attrs := make(map[string]string, len(ev.Attributes))
			for _, a := range ev.Attributes {
				attrs[a.Key] = a.Value
			}
			out = append(out, wavs.TriggerData{
				Kind:            wavs.DataCosmosContractEvent,
				BlockNumber:     h,
				ContractAddress: address,
				EventAttrs:      attrs,
			})
		}
	}
	return out, nil
}

func (f *cosmosLogFetcher) LatestBlock(ctx context.Context) (uint64, error) {
	latest, _, err := f.controller.fetchLatestBlockEvents(ctx)
	return latest, err
}

// CosmosController polls a REST/LCD endpoint for new blocks, filters
// "wasm-*" events, and recovers the contract address from event attributes
// (§4.4). No Cosmos SDK client dependency is added (see DESIGN.md) — this is
// deliberately a minimal JSON poller, not a gRPC/CometBFT event subscriber.
type CosmosController struct {
	cfg      CosmosControllerConfig
	log      *logger.Logger
	recovery *RecoveryManager
	blocks   *BlockIntervalScheduler
	out      chan<- wavs.TriggerAction
	http     *http.Client

	mu           sync.Mutex
	subs         map[string]cosmosSubscription
	lastQueried  uint64
	backfilling  bool
}

// NewCosmosController constructs a controller for one Cosmos ChainKey.
func NewCosmosController(cfg CosmosControllerConfig, log *logger.Logger, recovery *RecoveryManager, blocks *BlockIntervalScheduler, out chan<- wavs.TriggerAction) *CosmosController {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	cfg.PollInterval = interval
	return &CosmosController{
		cfg: cfg, log: log, recovery: recovery, blocks: blocks, out: out,
		http: &http.Client{Timeout: 10 * time.Second},
		subs: make(map[string]cosmosSubscription),
	}
}

// Subscribe registers a workflow's CosmosContractEvent (or BlockInterval)
// trigger.
func (c *CosmosController) Subscribe(key wavs.SubscriptionKey, cfg wavs.TriggerConfig, currentHeight uint64) bool {
	if cfg.Kind == wavs.TriggerBlockInterval {
		return c.blocks.AddTrigger(key, cfg, currentHeight)
	}
	id := lookupID(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[id]; ok {
		return false
	}
	c.subs[id] = cosmosSubscription{key: key, address: cfg.Address, eventType: cfg.EventType}
	return true
}

// Unsubscribe tears down key's subscription (idempotent).
func (c *CosmosController) Unsubscribe(key wavs.SubscriptionKey) {
	c.blocks.RemoveTrigger(key)
	id := lookupID(key)
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// Run polls the configured endpoint until ctx is canceled, entering recovery
// and falling back to RecoveryManager-driven backfill on persistent error.
func (c *CosmosController) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.pollOnce(ctx); err != nil {
				c.log.WithField("chain", string(c.cfg.Chain)).WithField("error", err).Warn("cosmos controller: poll failed")
				if c.recovery.RecordStreamError(c.cfg.Chain, time.Now()) {
					c.startBackfill(ctx)
				}
			} else {
				c.recovery.ClearError(c.cfg.Chain)
			}
		}
	}
}

func (c *CosmosController) pollOnce(ctx context.Context) error {
	latest, events, err := c.fetchLatestBlockEvents(ctx)
	if err != nil {
		return &StreamError{Chain: string(c.cfg.Chain), Err: err}
	}
	if latest <= c.lastQueried {
		return nil
	}
	c.lastQueried = latest
	c.recovery.RecordProcessed(c.cfg.Chain, latest)
	c.blocks.OnBlock(ctx, c.cfg.Chain, latest)

	for _, ev := range events {
		if !strings.HasPrefix(ev.Type, "wasm") {
			continue
		}
		address, _ := ev.attr("_contract_address")
		c.dispatch(ctx, latest, ev, address)
	}
	return nil
}

func (c *CosmosController) dispatch(ctx context.Context, height uint64, ev cosmosABCIEvent, address string) {
	c.mu.Lock()
	var matches []cosmosSubscription
	for _, s := range c.subs {
		if s.address == address && (s.eventType == "" || s.eventType == ev.Type) {
			matches = append(matches, s)
		}
	}
	c.mu.Unlock()
	if len(matches) == 0 {
		return
	}
	attrs := make(map[string]string, len(ev.Attributes))
	for _, a := range ev.Attributes {
		attrs[a.Key] = a.Value
	}
	for _, s := range matches {
		action := wavs.TriggerAction{
			ServiceId:  s.key.ServiceId,
			WorkflowId: s.key.WorkflowId,
			Data: wavs.TriggerData{
				Kind:            wavs.DataCosmosContractEvent,
				BlockNumber:     height,
				ContractAddress: address,
				EventAttrs:      attrs,
			},
		}
		select {
		case c.out <- action:
		case <-ctx.Done():
			return
		}
	}
}

// startBackfill kicks off RecoveryManager.Backfill against the REST endpoint
// so the live poller keeps ticking independently. A chain already
// backfilling is left alone rather than starting a second sweep.
func (c *CosmosController) startBackfill(ctx context.Context) {
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

		fetcher := &cosmosLogFetcher{controller: c}
		if err := c.recovery.Backfill(ctx, c.cfg.Chain, fetcher, func(data wavs.TriggerData) {
			c.dispatchBackfilled(ctx, data)
		}); err != nil {
			c.log.WithField("chain", string(c.cfg.Chain)).WithField("error", err).
				Error("cosmos controller: backfill failed")
		}
	}()
}

// dispatchBackfilled routes a backfilled event by contract address only:
// wavs.TriggerData's shared schema doesn't carry the ABCI event type, so a
// subscriber's optional event-type filter isn't re-applied to backfilled
// events the way it is for the live poll path in dispatch.
func (c *CosmosController) dispatchBackfilled(ctx context.Context, data wavs.TriggerData) {
	c.mu.Lock()
	var matches []cosmosSubscription
	for _, s := range c.subs {
		if s.address == data.ContractAddress {
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

// fetchBlockEvents fetches one historical block's events for backfill,
// reusing pollOnce's simplified blockEventsResponse schema.
func (c *CosmosController) fetchBlockEvents(ctx context.Context, height uint64) ([]cosmosABCIEvent, error) {
	url := fmt.Sprintf("%s/cosmos/base/tendermint/v1beta1/blocks/%d", strings.TrimRight(c.cfg.RESTEndpoint, "/"), height)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cosmos controller: unexpected status %d", resp.StatusCode)
	}
	var doc blockEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}
	return doc.Events, nil
}

func (c *CosmosController) fetchLatestBlockEvents(ctx context.Context) (uint64, []cosmosABCIEvent, error) {
	url := fmt.Sprintf("%s/cosmos/base/tendermint/v1beta1/blocks/latest", strings.TrimRight(c.cfg.RESTEndpoint, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, nil, fmt.Errorf("cosmos controller: unexpected status %d", resp.StatusCode)
	}
	var doc blockEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return 0, nil, err
	}
	height, err := strconv.ParseUint(doc.BlockHeight, 10, 64)
	if err != nil {
		return 0, nil, &EventIndexConversionError{Reason: err.Error()}
	}
	return height, doc.Events, nil
}
