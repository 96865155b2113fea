package httpapi

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wavs-labs/wavs/internal/app/aggregator"
	core "github.com/wavs-labs/wavs/internal/app/core/service"
	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/pkg/httputil"
	"github.com/wavs-labs/wavs/pkg/logger"
)

// AggregatorConfig is the static configuration echoed back by GET /config.
type AggregatorConfig struct {
	Host                   string `json:"host"`
	Port                   int    `json:"port"`
	LogLevel               string `json:"log_level"`
	BurnedQueueTTLSeconds  int    `json:"burned_queue_ttl_seconds"`
	DefaultQuorumThreshold int    `json:"default_quorum_threshold"`
}

// AggregatorServer wires aggregator.Manager behind the aggregator's HTTP
// surface: POST /packets, POST /services, GET /info, GET /config (§6).
type AggregatorServer struct {
	log       *logger.Logger
	router    *mux.Router
	bearer    string
	startedAt time.Time
	version   string

	cfg     AggregatorConfig
	manager *aggregator.Manager
}

// NewAggregatorServer builds the router.
func NewAggregatorServer(log *logger.Logger, version string, cfg AggregatorConfig, manager *aggregator.Manager, bearerToken string) *AggregatorServer {
	s := &AggregatorServer{log: log, router: mux.NewRouter(), bearer: bearerToken, startedAt: time.Now(), version: version, cfg: cfg, manager: manager}
	s.registerRoutes()
	return s
}

func (s *AggregatorServer) Router() *mux.Router { return s.router }

func (s *AggregatorServer) registerRoutes() {
	r := s.router
	r.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.Handle("/packets", BearerAuth(s.bearer, http.HandlerFunc(s.handleAddPacket))).Methods(http.MethodPost)
	r.Handle("/services", BearerAuth(s.bearer, http.HandlerFunc(s.handleRegisterService))).Methods(http.MethodPost)
}

func (s *AggregatorServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.cfg)
}

func (s *AggregatorServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"queue_count":    s.manager.QueueCount(),
	})
}

type packetRequest struct {
	Route         submitRouteWire `json:"route"`
	Envelope      envelopeWireDTO `json:"envelope"`
	Signature     string          `json:"signature"`
	SignerAddress string          `json:"signer_address"`
	BlockHeight   uint64          `json:"block_height"`
}

type submitRouteWire struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

type envelopeWireDTO struct {
	Payload  string `json:"payload"`  // hex
	EventId  string `json:"event_id"` // hex, 20 bytes
	Ordering string `json:"ordering"` // hex, 12 bytes
}

// handleAddPacket implements POST /packets: an operator submits a signed
// envelope for an EventId; the aggregator admits it into the event's quorum
// queue and reports whether this admission triggered on-chain submission.
func (s *AggregatorServer) handleAddPacket(w http.ResponseWriter, r *http.Request) {
	var req packetRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	envelope, err := req.Envelope.toEnvelope()
	if err != nil {
		httputil.BadRequest(w, "invalid envelope: "+err.Error())
		return
	}
	sig, err := hexDecodeSignature(req.Signature)
	if err != nil {
		httputil.BadRequest(w, "invalid signature: "+err.Error())
		return
	}
	packet := wavs.Packet{
		Route:         wavs.SubmitConfig{Chain: wavs.ChainKey(req.Route.Chain), Address: req.Route.Address},
		Envelope:      envelope,
		Signature:     sig,
		SignerAddress: req.SignerAddress,
		BlockHeight:   req.BlockHeight,
	}
	result, err := s.manager.AddPacket(r.Context(), packet)
	if err != nil {
		switch err.(type) {
		case *aggregator.MissingServiceError:
			httputil.NotFound(w, err.Error())
		case *aggregator.AlreadyBurnedError:
			httputil.Conflict(w, err.Error())
		default:
			httputil.BadRequest(w, err.Error())
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type registerServiceRequest struct {
	ServiceId       string `json:"service_id"`
	Chain           string `json:"chain"`
	Address         string `json:"address"`
	QuorumThreshold int    `json:"quorum_threshold,omitempty"`
}

// handleRegisterService implements POST /services on the aggregator: the
// operator tells the aggregator which (chain, address) service manager to
// expect packets for.
func (s *AggregatorServer) handleRegisterService(w http.ResponseWriter, r *http.Request) {
	var req registerServiceRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	digest, err := wavs.ParseServiceDigest(req.ServiceId)
	if err != nil {
		httputil.BadRequest(w, "invalid service_id: "+err.Error())
		return
	}
	known := aggregator.KnownService{
		ServiceId:       wavs.ServiceId(digest),
		Manager:         wavs.ServiceManager{Chain: wavs.ChainKey(req.Chain), Address: req.Address},
		QuorumThreshold: req.QuorumThreshold,
	}
	if err := s.manager.RegisterService(known); err != nil {
		httputil.Conflict(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (d envelopeWireDTO) toEnvelope() (wavs.Envelope, error) {
	payload, err := hex.DecodeString(d.Payload)
	if err != nil {
		return wavs.Envelope{}, fmt.Errorf("payload: %w", err)
	}
	eventIdBytes, err := hex.DecodeString(d.EventId)
	if err != nil {
		return wavs.Envelope{}, fmt.Errorf("event_id: %w", err)
	}
	if len(eventIdBytes) != wavs.EventIDSize {
		return wavs.Envelope{}, fmt.Errorf("event_id: want %d bytes, got %d", wavs.EventIDSize, len(eventIdBytes))
	}
	var eventID wavs.EventId
	copy(eventID[:], eventIdBytes)

	var ordering wavs.EventOrder
	if d.Ordering != "" {
		orderingBytes, err := hex.DecodeString(d.Ordering)
		if err != nil {
			return wavs.Envelope{}, fmt.Errorf("ordering: %w", err)
		}
		if len(orderingBytes) != wavs.EventOrderSize {
			return wavs.Envelope{}, fmt.Errorf("ordering: want %d bytes, got %d", wavs.EventOrderSize, len(orderingBytes))
		}
		copy(ordering[:], orderingBytes)
	}
	return wavs.Envelope{Payload: payload, EventId: eventID, Ordering: ordering}, nil
}

func hexDecodeSignature(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func (s *AggregatorServer) Name() string { return "aggregator-http-api" }

func (s *AggregatorServer) Descriptor() core.Descriptor {
	return core.Descriptor{Name: s.Name(), Domain: "wavs", Layer: core.LayerIngress, Capabilities: []string{"http"}}
}
