// Package dispatcher wires every subsystem package (storage, engine,
// triggers, submission, service onboarding, HTTP) into the two runnable
// applications described by §9's init order: storage -> services -> engine
// -> triggers -> submission -> aggregator -> HTTP.
package dispatcher

import (
	"context"
	"crypto/ecdsa"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wavs-labs/wavs/internal/app/castore"
	core "github.com/wavs-labs/wavs/internal/app/core/service"
	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
	"github.com/wavs-labs/wavs/internal/app/engine"
	"github.com/wavs-labs/wavs/internal/app/httpapi"
	"github.com/wavs-labs/wavs/internal/app/kvstore"
	"github.com/wavs-labs/wavs/internal/app/platform/migrations"
	"github.com/wavs-labs/wavs/internal/app/registry"
	"github.com/wavs-labs/wavs/internal/app/serviceonboard"
	"github.com/wavs-labs/wavs/internal/app/submission"
	"github.com/wavs-labs/wavs/internal/app/system"
	"github.com/wavs-labs/wavs/internal/app/trigger"
	"github.com/wavs-labs/wavs/pkg/config"
	"github.com/wavs-labs/wavs/pkg/database"
	"github.com/wavs-labs/wavs/pkg/logger"
)

// defaultEvmRecoveryDelay bounds the EVM controller's reconnect backoff when
// a chain isn't configured with anything more specific.
const defaultEvmRecoveryDelay = 30 * time.Second

// defaultCosmosPollInterval is used for every configured Cosmos chain; the
// spec names no per-chain override for it.
const defaultCosmosPollInterval = 6 * time.Second

// defaultGCInterval bounds how often the operator sweeps the
// content-addressed store for components no longer referenced by any stored
// service (§C.2).
const defaultGCInterval = time.Hour

// Operator wires every subsystem an operator node runs: triggers, the
// component host, submission, service onboarding, and the HTTP API.
type Operator struct {
	log *logger.Logger
	cfg *config.Config

	db         *sql.DB
	evmClients map[wavs.ChainKey]*ethclient.Client

	registry  registry.Store
	castore   castore.Store
	kv        kvstore.Store
	engine    *engine.Engine
	pool      *engine.Pool
	triggers  *trigger.Manager
	submitter *submission.Manager
	onboarder *serviceonboard.Onboarder
	http      *httpapi.OperatorServer

	peerID string

	pumpCancel context.CancelFunc
	pumpDone   chan struct{}

	gcCancel context.CancelFunc
	gcDone   chan struct{}
	gcFreed  prometheus.Counter
}

// NewOperator constructs every subsystem in the order storage -> services ->
// engine -> triggers -> submission -> HTTP, but starts nothing; call Start.
func NewOperator(ctx context.Context, cfg *config.Config, log *logger.Logger, version string) (*Operator, error) {
	o := &Operator{log: log, cfg: cfg}

	if err := o.initStorage(ctx); err != nil {
		return nil, err
	}

	var err error
	o.evmClients, err = dialEvmClients(ctx, cfg.EvmChains)
	if err != nil {
		return nil, err
	}

	o.engine, err = engine.New(ctx, cfg.Engine.WasmLRUSize)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: new engine: %w", err)
	}

	o.triggers = trigger.New(trigger.Config{
		OutputBufferSize: 1024,
		MaxRecoveryDelay: defaultEvmRecoveryDelay,
		EvmChains:        o.evmControllerConfigs(cfg.EvmChains),
		CosmosChains:     cosmosControllerConfigs(cfg.CosmosChains),
	}, log)
	o.triggers.SetHooks(core.NewMetricsHooks(prometheus.DefaultRegisterer, "trigger"))

	signer, allocator, err := o.initSigner()
	if err != nil {
		return nil, err
	}
	peerAddr, err := signer.Address()
	if err != nil {
		return nil, fmt.Errorf("dispatcher: operator identity address: %w", err)
	}
	o.peerID = peerAddr.Hex()

	chainMessages, err := o.buildChainMessages()
	if err != nil {
		return nil, err
	}
	resolver := submission.ChainMessageResolver(func(chain wavs.ChainKey) (submission.ChainMessage, bool) {
		cm, ok := chainMessages[chain]
		return cm, ok
	})
	aggClient := submission.NewAggregatorClient(log)
	o.submitter = submission.NewManager(log, o.registry, signer, allocator, resolver, aggClient, nil)

	o.pool = engine.NewPool(o.engine, cfg.Engine.WasmThreads, 256, cfg.Engine.MaxWasmFuel, cfg.Engine.MaxExecutionSeconds,
		o.kv, engineChainConfigs(cfg.EvmChains), log, o.submitter.Sink())
	o.pool.SetHooks(core.NewMetricsHooks(prometheus.DefaultRegisterer, "engine"))
	o.submitter.SetHooks(core.NewMetricsHooks(prometheus.DefaultRegisterer, "submission"))

	o.gcFreed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wavs",
		Subsystem: "castore",
		Name:      "gc_freed_total",
		Help:      "Components removed by the castore GC sweep.",
	})
	prometheus.MustRegister(o.gcFreed)

	o.onboarder = serviceonboard.NewOnboarder(log, o.registry, o.castore, o.chainCaller(), cfg.IPFSGateway, o.triggers)

	o.http = httpapi.NewOperatorServer(log, version, o.peerID, operatorHTTPConfig(cfg), o.registry, o.triggers, o.castore, o.pool, o.onboarder, cfg.Server.BearerToken)

	return o, nil
}

func (o *Operator) initStorage(ctx context.Context) error {
	dsn := strings.TrimSpace(o.cfg.Database.DSN)
	if dsn == "" {
		o.registry = registry.NewMemory()
		o.castore = castore.NewMemory(castore.HTTPFetcher{})
		o.kv = kvstore.NewMemory()
		return nil
	}

	db, err := database.Open(dsn)
	if err != nil {
		return err
	}
	if o.cfg.Database.MigrateOnStart {
		if err := migrations.Apply(db); err != nil {
			db.Close()
			return fmt.Errorf("dispatcher: apply migrations: %w", err)
		}
	}
	o.db = db
	o.registry = registry.NewPostgres(db)
	o.castore = castore.NewPostgres(db, castore.HTTPFetcher{})
	o.kv = kvstore.NewPostgres(db)
	return nil
}

// initSigner builds the operator's envelope-signing identity. When a
// database is configured, the HD index allocator persists every handed-out
// index to hd_signer_index and is seeded from that table at startup;
// otherwise it holds its state only in memory, so every role's indices start
// again from 0 after a restart.
func (o *Operator) initSigner() (*submission.Signer, *submission.HDIndexAllocator, error) {
	persist := func(role string, index uint32) error { return nil }
	if o.db != nil {
		db := o.db
		persist = func(role string, index uint32) error {
			_, err := db.Exec(`
				INSERT INTO hd_signer_index (role, index) VALUES ($1, $2)
				ON CONFLICT (role) DO UPDATE SET index = EXCLUDED.index
			`, role, index)
			return err
		}
	}
	allocator := submission.NewHDIndexAllocator(persist)
	if o.db != nil {
		rows, err := o.db.Query(`SELECT role, index FROM hd_signer_index`)
		if err != nil {
			return nil, nil, fmt.Errorf("dispatcher: load hd_signer_index: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var role string
			var index uint32
			if err := rows.Scan(&role, &index); err != nil {
				return nil, nil, fmt.Errorf("dispatcher: scan hd_signer_index: %w", err)
			}
			allocator.Restore(role, index)
		}
	}

	signer, err := submission.NewSigner(submission.KeySource{
		Mnemonic:   o.cfg.Submission.Mnemonic,
		RawPrivKey: o.cfg.Submission.RawPrivKey,
	}, allocator)
	if err != nil {
		return nil, nil, fmt.Errorf("dispatcher: new signer: %w", err)
	}
	return signer, allocator, nil
}

// buildChainMessages pairs each eagerly-dialed EVM client with the node's
// gas-paying key, so direct ethereum_contract submission never dials on the
// hot path.
func (o *Operator) buildChainMessages() (map[wavs.ChainKey]submission.ChainMessage, error) {
	gasKey, err := parseOptionalPrivateKey(o.cfg.Submission.GasSignerPrivKey)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: gas signer key: %w", err)
	}
	out := make(map[wavs.ChainKey]submission.ChainMessage, len(o.evmClients))
	if gasKey == nil {
		return out, nil
	}
	for chain, client := range o.evmClients {
		out[chain] = submission.NewEthereumChainMessage(client, gasKey, o.log)
	}
	return out, nil
}

func (o *Operator) chainCaller() serviceonboard.ChainCaller {
	return func(ctx context.Context, chain wavs.ChainKey, to common.Address, data []byte) ([]byte, error) {
		client, ok := o.evmClients[chain]
		if !ok {
			return nil, fmt.Errorf("dispatcher: no evm client configured for chain %s", chain)
		}
		return client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	}
}

func (o *Operator) evmControllerConfigs(chains map[string]string) map[wavs.ChainKey]trigger.EvmControllerConfig {
	out := make(map[wavs.ChainKey]trigger.EvmControllerConfig, len(chains))
	for chain, endpoint := range chains {
		out[wavs.ChainKey(chain)] = trigger.EvmControllerConfig{
			Chain:            wavs.ChainKey(chain),
			Endpoints:        []string{endpoint},
			MaxRecoveryDelay: defaultEvmRecoveryDelay,
			Dial: func(ctx context.Context, endpoint string) (trigger.EvmClient, error) {
				return ethclient.DialContext(ctx, endpoint)
			},
		}
	}
	return out
}

func cosmosControllerConfigs(chains map[string]string) map[wavs.ChainKey]trigger.CosmosControllerConfig {
	out := make(map[wavs.ChainKey]trigger.CosmosControllerConfig, len(chains))
	for chain, endpoint := range chains {
		out[wavs.ChainKey(chain)] = trigger.CosmosControllerConfig{
			Chain:        wavs.ChainKey(chain),
			RESTEndpoint: endpoint,
			PollInterval: defaultCosmosPollInterval,
		}
	}
	return out
}

func engineChainConfigs(chains map[string]string) map[string]engine.ChainConfig {
	out := make(map[string]engine.ChainConfig, len(chains))
	for chain, endpoint := range chains {
		out[chain] = engine.ChainConfig{Chain: wavs.ChainKey(chain), RPCEndpoints: []string{endpoint}}
	}
	return out
}

func operatorHTTPConfig(cfg *config.Config) httpapi.OperatorConfig {
	return httpapi.OperatorConfig{
		Home:                cfg.Home,
		Host:                cfg.Server.Host,
		Port:                cfg.Server.Port,
		LogLevel:            cfg.Logging.Level,
		WasmLRUSize:         cfg.Engine.WasmLRUSize,
		WasmThreads:         cfg.Engine.WasmThreads,
		MaxWasmFuel:         cfg.Engine.MaxWasmFuel,
		MaxExecutionSeconds: cfg.Engine.MaxExecutionSeconds,
		IPFSGateway:         cfg.IPFSGateway,
		DevEndpointsEnabled: cfg.DevEndpointsEnabled,
		CORSAllowedOrigins:  cfg.Server.CORSAllowedOrigins,
	}
}

func parseOptionalPrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if raw == "" {
		return nil, nil
	}
	return crypto.HexToECDSA(raw)
}

// HTTPServer returns the wired operator HTTP API.
func (o *Operator) HTTPServer() *httpapi.OperatorServer { return o.http }

func (o *Operator) Name() string { return "operator" }

// Start launches triggers, the engine pool, the trigger-to-submission pump,
// and re-subscribes every already-registered service's triggers.
func (o *Operator) Start(ctx context.Context) error {
	if err := o.triggers.Start(ctx); err != nil {
		return fmt.Errorf("dispatcher: start triggers: %w", err)
	}
	if err := o.pool.Start(ctx); err != nil {
		return fmt.Errorf("dispatcher: start pool: %w", err)
	}
	if err := o.resubscribeExistingServices(ctx); err != nil {
		o.log.WithField("error", err).Error("dispatcher: resubscribe existing services")
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	o.pumpCancel = cancel
	o.pumpDone = make(chan struct{})
	go o.pump(pumpCtx)

	gcCtx, gcCancel := context.WithCancel(context.Background())
	o.gcCancel = gcCancel
	o.gcDone = make(chan struct{})
	go o.gcLoop(gcCtx)
	return nil
}

// gcLoop periodically sweeps the content-addressed store for components no
// longer referenced by any stored service (§C.2), mirroring the aggregator
// manager's own burned-queue cleanup ticker.
func (o *Operator) gcLoop(ctx context.Context) {
	defer close(o.gcDone)
	ticker := time.NewTicker(defaultGCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			referenced, err := o.registry.AllComponentDigests(ctx)
			if err != nil {
				o.log.WithField("error", err).Warn("dispatcher: gc: list referenced digests")
				continue
			}
			removed, err := o.castore.GC(ctx, referenced)
			if err != nil {
				o.log.WithField("error", err).Warn("dispatcher: gc: sweep castore")
				continue
			}
			if len(removed) > 0 {
				o.gcFreed.Add(float64(len(removed)))
				o.log.WithField("removed", len(removed)).Info("dispatcher: gc: removed unreferenced components")
			}
		}
	}
}

// Stop tears down every subsystem in reverse init order.
func (o *Operator) Stop(ctx context.Context) error {
	if o.pumpCancel != nil {
		o.pumpCancel()
		<-o.pumpDone
	}
	if o.gcCancel != nil {
		o.gcCancel()
		<-o.gcDone
	}
	if err := o.pool.Stop(ctx); err != nil {
		o.log.WithField("error", err).Error("dispatcher: stop pool")
	}
	if err := o.triggers.Stop(ctx); err != nil {
		o.log.WithField("error", err).Error("dispatcher: stop triggers")
	}
	if err := o.engine.Close(ctx); err != nil {
		o.log.WithField("error", err).Error("dispatcher: close engine")
	}
	closeEvmClients(o.evmClients)
	if o.db != nil {
		o.db.Close()
	}
	return nil
}

func (o *Operator) resubscribeExistingServices(ctx context.Context) error {
	services, err := o.registry.ListServices(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	height := latestKnownHeight(o.triggers)
	for _, svc := range services {
		for workflowID, wf := range svc.Workflows {
			if err := o.triggers.AddTrigger(svc.Id(), workflowID, wf.Trigger, height); err != nil {
				o.log.WithField("service_id", svc.Id().String()).WithField("workflow_id", string(workflowID)).
					WithField("error", err).Warn("dispatcher: resubscribe trigger failed")
			}
		}
	}
	return nil
}

// latestKnownHeight has no chain-specific meaning at process start; trigger
// recovery (§4.4) catches up block-range gaps from zero rather than guessing.
func latestKnownHeight(*trigger.Manager) uint64 { return 0 }

// pump drains trigger.Manager.Output() and hands each firing to the engine
// pool, resolving the service, workflow, and component bytes it needs.
func (o *Operator) pump(ctx context.Context) {
	defer close(o.pumpDone)
	for {
		select {
		case <-ctx.Done():
			return
		case action, ok := <-o.triggers.Output():
			if !ok {
				return
			}
			o.handleTrigger(ctx, action)
		}
	}
}

func (o *Operator) handleTrigger(ctx context.Context, action wavs.TriggerAction) {
	svc, err := o.registry.GetService(ctx, action.ServiceId)
	if err != nil {
		o.log.WithField("service_id", action.ServiceId.String()).WithField("error", err).Warn("dispatcher: trigger for unknown service")
		return
	}
	wf, ok := svc.Workflows[action.WorkflowId]
	if !ok {
		o.log.WithField("service_id", action.ServiceId.String()).WithField("workflow_id", string(action.WorkflowId)).
			Warn("dispatcher: trigger for unknown workflow")
		return
	}
	componentBuf, err := o.castore.Get(ctx, wf.Component.Source.ResolvedDigest())
	if err != nil {
		o.log.WithField("service_id", action.ServiceId.String()).WithField("error", err).Error("dispatcher: load component bytes")
		return
	}
	job := engine.Job{
		Service:      svc,
		WorkflowId:   action.WorkflowId,
		Action:       action,
		ComponentBuf: componentBuf,
		DataDir:      filepath.Join(o.cfg.Data, action.ServiceId.String()),
	}
	if err := o.pool.Submit(ctx, job); err != nil {
		o.log.WithField("service_id", action.ServiceId.String()).WithField("error", err).Error("dispatcher: submit job")
	}
}

// Descriptors reports every wired subsystem's descriptor for diagnostics.
func (o *Operator) Descriptors() []core.Descriptor {
	return system.CollectDescriptors([]system.DescriptorProvider{o.triggers, o.pool, o.submitter, o.http})
}
