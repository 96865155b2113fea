package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	core "github.com/wavs-labs/wavs/internal/app/core/service"
	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/pkg/logger"
)

// packetWire is the JSON wire form of wavs.Packet POSTed to an aggregator.
type packetWire struct {
	Payload       []byte `json:"payload"`
	EventId       string `json:"event_id"`
	Ordering      string `json:"ordering"`
	SignerAddress string `json:"signer_address"`
	Signature     []byte `json:"signature"`
	Chain         string `json:"chain"`
	Address       string `json:"address"`
	BlockHeight   uint64 `json:"block_height"`
}

// AggregatorClient posts signed packets to a remote aggregator, per the
// "aggregator" submit target of §4.5.
type AggregatorClient struct {
	http  *http.Client
	log   *logger.Logger
	retry core.RetryPolicy
}

// NewAggregatorClient constructs a client with a bounded-retry policy
// matching the rest of this codebase's outbound-call conventions.
func NewAggregatorClient(log *logger.Logger) *AggregatorClient {
	return &AggregatorClient{
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log,
		retry: core.RetryPolicy{
			Attempts:       4,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     3 * time.Second,
			Multiplier:     2,
		},
	}
}

// Post submits a Packet to route.URL. debugDoNotSubmit short-circuits the
// POST (used when debug.do_not_submit_aggregator is set on the triggering
// service) while still returning success, so dry-run operators exercise
// every step up to the network call.
func (c *AggregatorClient) Post(ctx context.Context, route wavs.SubmitConfig, packet wavs.Packet, debugDoNotSubmit bool) error {
	if debugDoNotSubmit {
		c.log.WithField("url", route.URL).Debug("submission: skipping aggregator POST (debug.do_not_submit_aggregator)")
		return nil
	}

	body, err := json.Marshal(packetWire{
		Payload:       packet.Envelope.Payload,
		EventId:       packet.Envelope.EventId.String(),
		Ordering:      fmt.Sprintf("%x", packet.Envelope.Ordering),
		SignerAddress: packet.SignerAddress,
		Signature:     packet.Signature,
		Chain:         string(route.Chain),
		Address:       route.Address,
		BlockHeight:   packet.BlockHeight,
	})
	if err != nil {
		return &AggregatorPostFailedError{URL: route.URL, Err: fmt.Errorf("marshal packet: %w", err)}
	}

	return core.Retry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, route.URL+"/packets", bytes.NewReader(body))
		if err != nil {
			return &AggregatorPostFailedError{URL: route.URL, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return &AggregatorPostFailedError{URL: route.URL, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return &AggregatorPostFailedError{URL: route.URL, Status: resp.StatusCode}
	})
}
