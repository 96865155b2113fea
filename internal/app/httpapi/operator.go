// Package httpapi implements the operator and aggregator HTTP APIs (§6):
// route registration over gorilla/mux, bearer-token auth on mutating routes,
// and the dev-only endpoints gated by --dev-endpoints-enabled.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	core "github.com/wavs-labs/wavs/internal/app/core/service"
	"github.com/wavs-labs/wavs/internal/app/castore"
	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/internal/app/engine"
	"github.com/wavs-labs/wavs/internal/app/registry"
	"github.com/wavs-labs/wavs/internal/app/serviceonboard"
	"github.com/wavs-labs/wavs/internal/app/trigger"
	"github.com/wavs-labs/wavs/pkg/httputil"
	"github.com/wavs-labs/wavs/pkg/logger"
)

// OperatorConfig is the static configuration echoed back by GET /config; it
// deliberately never includes secrets (bearer token, mnemonic).
type OperatorConfig struct {
	Home                string `json:"home"`
	Host                string `json:"host"`
	Port                int    `json:"port"`
	LogLevel            string `json:"log_level"`
	WasmLRUSize         int    `json:"wasm_lru_size"`
	WasmThreads         int    `json:"wasm_threads"`
	MaxWasmFuel         uint64 `json:"max_wasm_fuel"`
	MaxExecutionSeconds uint32 `json:"max_execution_seconds"`
	IPFSGateway         string `json:"ipfs_gateway"`
	DevEndpointsEnabled bool   `json:"dev_endpoints_enabled"`
	CORSAllowedOrigins  []string `json:"cors_allowed_origins"`
}

// OperatorServer wires the registry, trigger manager, content-addressed
// store, and engine pool behind the operator's HTTP surface.
type OperatorServer struct {
	log       *logger.Logger
	router    *mux.Router
	bearer    string
	startedAt time.Time
	version   string
	peerID    string

	cfg        OperatorConfig
	registry   registry.Store
	triggers   *trigger.Manager
	castore    castore.Store
	pool       *engine.Pool
	onboarder  *serviceonboard.Onboarder
	devEnabled bool
}

// NewOperatorServer builds the router; routes requiring a bearer token are
// wrapped individually so read-only routes (GET /info, GET /config) stay
// reachable for health checks even when a token is configured. peerID is the
// operator's stable signing-identity address (submission.Signer.Address),
// surfaced on GET /info (§6).
func NewOperatorServer(log *logger.Logger, version, peerID string, cfg OperatorConfig, reg registry.Store, triggers *trigger.Manager, ca castore.Store, pool *engine.Pool, onboarder *serviceonboard.Onboarder, bearerToken string) *OperatorServer {
	s := &OperatorServer{
		log: log, router: mux.NewRouter(), bearer: bearerToken, startedAt: time.Now(), version: version, peerID: peerID,
		cfg: cfg, registry: reg, triggers: triggers, castore: ca, pool: pool, onboarder: onboarder,
		devEnabled: cfg.DevEndpointsEnabled,
	}
	s.registerRoutes()
	return s
}

func (s *OperatorServer) Router() *mux.Router { return s.router }

func (s *OperatorServer) protect(h http.HandlerFunc) http.Handler {
	return BearerAuth(s.bearer, h)
}

func (s *OperatorServer) registerRoutes() {
	r := s.router
	r.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/services", s.handleListServices).Methods(http.MethodGet)
	r.Handle("/services", s.protect(s.handleAddService)).Methods(http.MethodPost)
	r.Handle("/services", s.protect(s.handleDeleteService)).Methods(http.MethodDelete)

	if s.devEnabled {
		r.Handle("/dev/components", s.protect(s.handleDevAddComponent)).Methods(http.MethodPost)
		r.Handle("/dev/triggers", s.protect(s.handleDevFireTrigger)).Methods(http.MethodPost)
		r.HandleFunc("/dev/trigger-streams-info", s.handleDevTriggerStreamsInfo).Methods(http.MethodGet)
		r.HandleFunc("/dev/trigger-streams-info/ws", s.handleDevTriggerStreamsWS)
	}
}

func (s *OperatorServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.cfg)
}

// resourceUsage reports process/host CPU and memory diagnostics for GET
// /info (§C.3) via gopsutil; a sampling failure is logged and simply omitted
// rather than failing the whole request.
func (s *OperatorServer) resourceUsage() map[string]any {
	usage := map[string]any{}
	if vm, err := mem.VirtualMemory(); err == nil {
		usage["memory_used_bytes"] = vm.Used
		usage["memory_total_bytes"] = vm.Total
		usage["memory_used_percent"] = vm.UsedPercent
	} else {
		s.log.WithField("error", err).Debug("operator http api: sample memory usage")
	}
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		usage["cpu_percent"] = pct[0]
	} else if err != nil {
		s.log.WithField("error", err).Debug("operator http api: sample cpu usage")
	}
	return usage
}

func (s *OperatorServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"version":        s.version,
		"peer_id":        s.peerID,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"resources":      s.resourceUsage(),
		"chains":         s.triggers.ChainHealth(),
	}
	if digests, err := s.registry.AllComponentDigests(r.Context()); err == nil {
		info["component_count"] = len(digests)
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func (s *OperatorServer) handleListServices(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimitParam(r.URL.Query().Get("limit"), 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	offset := httputil.QueryInt(r, "offset", 0)
	services, err := s.registry.ListServices(r.Context(), limit, offset)
	if err != nil {
		httputil.InternalError(w, "list services: "+err.Error())
		return
	}
	serviceIDs := make([]string, 0, len(services))
	seenDigests := make(map[string]struct{})
	digests := make([]string, 0)
	for _, svc := range services {
		serviceIDs = append(serviceIDs, svc.Id().String())
		for _, wf := range svc.Workflows {
			d := wf.Component.Source.ResolvedDigest().String()
			if _, ok := seenDigests[d]; !ok {
				seenDigests[d] = struct{}{}
				digests = append(digests, d)
			}
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"services":          toServiceSummaries(services),
		"service_ids":       serviceIDs,
		"component_digests": digests,
	})
}

type serviceSummary struct {
	ServiceId string `json:"service_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Chain     string `json:"chain"`
	Address   string `json:"address"`
	Workflows int    `json:"workflow_count"`
}

func toServiceSummaries(services []wavs.Service) []serviceSummary {
	out := make([]serviceSummary, 0, len(services))
	for _, svc := range services {
		out = append(out, serviceSummary{
			ServiceId: svc.Id().String(),
			Name:      svc.Name,
			Status:    svc.Status.String(),
			Chain:     string(svc.Manager.Chain),
			Address:   svc.Manager.Address,
			Workflows: len(svc.Workflows),
		})
	}
	return out
}

type serviceManagerRequest struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

func (s *OperatorServer) handleAddService(w http.ResponseWriter, r *http.Request) {
	var req serviceManagerRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Chain == "" || req.Address == "" {
		httputil.BadRequest(w, "chain and address are required")
		return
	}
	id, err := s.onboarder.AddService(r.Context(), wavs.ServiceManager{Chain: wavs.ChainKey(req.Chain), Address: req.Address})
	if err != nil {
		if err == registry.ErrAlreadyExists {
			httputil.Conflict(w, err.Error())
			return
		}
		httputil.InternalError(w, "add service: "+err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (s *OperatorServer) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	var req serviceManagerRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.onboarder.DeleteService(r.Context(), wavs.ServiceManager{Chain: wavs.ChainKey(req.Chain), Address: req.Address}); err != nil {
		if err == wavs.ErrNotFound {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalError(w, "delete service: "+err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleDevAddComponent accepts raw WASM bytes in the request body and
// stores them content-addressed, returning the resulting digest — a
// shortcut around the full service-descriptor upload flow for local
// development (dev-only, §6).
func (s *OperatorServer) handleDevAddComponent(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	buf := make([]byte, 0, 1<<20)
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	if len(buf) == 0 {
		httputil.BadRequest(w, "request body must contain component bytes")
		return
	}
	digest, err := s.castore.Put(r.Context(), buf)
	if err != nil {
		httputil.InternalError(w, "store component: "+err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"digest": digest.String()})
}

// devFireTriggerRequest is SimulatedTriggerRequest (§6): fire count copies of
// a manual trigger, optionally populating the trigger config a component
// sees, and optionally blocking until the engine pool finishes processing
// each one.
type devFireTriggerRequest struct {
	ServiceId         string              `json:"service_id"`
	WorkflowId        string              `json:"workflow_id"`
	Trigger           *wavs.TriggerConfig `json:"trigger,omitempty"`
	Data              wavs.TriggerData    `json:"data"`
	Count             int                 `json:"count"`
	WaitForCompletion bool                `json:"wait_for_completion"`
}

// devFireCompletionTimeout bounds how long handleDevFireTrigger waits for
// each engine invocation when wait_for_completion is set, so a stuck
// component can't hang the HTTP request forever.
const devFireCompletionTimeout = 30 * time.Second

// handleDevFireTrigger manually fires a workflow's trigger without waiting
// for the real chain event or timer (dev-only, §6).
func (s *OperatorServer) handleDevFireTrigger(w http.ResponseWriter, r *http.Request) {
	var req devFireTriggerRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	digest, err := wavs.ParseServiceDigest(req.ServiceId)
	if err != nil {
		httputil.BadRequest(w, "invalid service_id: "+err.Error())
		return
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}
	serviceID := wavs.ServiceId(digest)
	workflowID := wavs.WorkflowId(req.WorkflowId)

	completed := 0
	for i := 0; i < count; i++ {
		var wait <-chan engine.Result
		if req.WaitForCompletion {
			wait = s.pool.AwaitNext(serviceID, workflowID)
		}
		if err := s.triggers.FireWithConfig(r.Context(), serviceID, workflowID, req.Trigger, req.Data); err != nil {
			httputil.InternalError(w, "fire trigger: "+err.Error())
			return
		}
		if wait != nil {
			ctx, cancel := context.WithTimeout(r.Context(), devFireCompletionTimeout)
			select {
			case <-wait:
				completed++
			case <-ctx.Done():
				cancel()
				httputil.InternalError(w, "fire trigger: timed out waiting for completion")
				return
			}
			cancel()
		}
	}
	resp := map[string]any{"status": "fired", "count": count}
	if req.WaitForCompletion {
		resp["completed"] = completed
	}
	httputil.WriteJSON(w, http.StatusAccepted, resp)
}

func (s *OperatorServer) handleDevTriggerStreamsInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"chains": s.triggers.ChainHealth()})
}

// Name and Descriptor satisfy system.Service/core.DescriptorProvider so the
// HTTP API can be started and stopped like any other subsystem.
func (s *OperatorServer) Name() string { return "operator-http-api" }

func (s *OperatorServer) Descriptor() core.Descriptor {
	return core.Descriptor{Name: s.Name(), Domain: "wavs", Layer: core.LayerIngress, Capabilities: []string{"http"}}
}
