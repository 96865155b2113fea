package dispatcher

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wavs-labs/wavs/internal/app/aggregator"
	"github.com/wavs-labs/wavs/internal/app/castore"
	core "github.com/wavs-labs/wavs/internal/app/core/service"
	"github.com/wavs-labs/wavs/internal/app/engine"
	"github.com/wavs-labs/wavs/internal/app/httpapi"
	"github.com/wavs-labs/wavs/internal/app/platform/migrations"
	"github.com/wavs-labs/wavs/internal/app/system"
	"github.com/wavs-labs/wavs/pkg/config"
	"github.com/wavs-labs/wavs/pkg/database"
	"github.com/wavs-labs/wavs/pkg/logger"
)

// Aggregator wires the aggregator's quorum manager, its on-chain submitter,
// and its HTTP API.
type Aggregator struct {
	log *logger.Logger
	cfg *config.Config

	db      *sql.DB
	client  *ethclient.Client
	castore castore.Store
	engine  *engine.Engine

	manager *aggregator.Manager
	http    *httpapi.AggregatorServer
}

// NewAggregator constructs the aggregator's subsystems: storage -> engine (for
// the optional aggregation component) -> chain submitter -> manager -> HTTP.
func NewAggregator(ctx context.Context, cfg *config.Config, log *logger.Logger, version string) (*Aggregator, error) {
	a := &Aggregator{log: log, cfg: cfg}

	dsn := strings.TrimSpace(cfg.Database.DSN)
	if dsn != "" {
		db, err := database.Open(dsn)
		if err != nil {
			return nil, err
		}
		if cfg.Database.MigrateOnStart {
			if err := migrations.Apply(db); err != nil {
				db.Close()
				return nil, fmt.Errorf("dispatcher: apply migrations: %w", err)
			}
		}
		a.db = db
		a.castore = castore.NewPostgres(db, castore.HTTPFetcher{})
	} else {
		a.castore = castore.NewMemory(castore.HTTPFetcher{})
	}

	eng, err := engine.New(ctx, cfg.Engine.WasmLRUSize)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: new engine: %w", err)
	}
	a.engine = eng

	endpoint := strings.TrimSpace(cfg.Aggregator.RPCEndpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("dispatcher: aggregator.rpc_endpoint is required")
	}
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: dial aggregator chain %s: %w", cfg.Aggregator.Chain, err)
	}
	a.client = client

	gasKey, err := parseOptionalPrivateKey(cfg.Aggregator.GasSignerPrivKey)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: aggregator gas signer key: %w", err)
	}
	if gasKey == nil {
		return nil, fmt.Errorf("dispatcher: aggregator.gas_signer_priv_key is required")
	}
	submitter := aggregator.NewChainSubmitter(client, aggregator.NewEcdsaGasSigner(gasKey))
	runner := aggregator.NewComponentRunner(eng)

	burnedTTL := time.Duration(cfg.Aggregator.BurnedQueueTTLSeconds) * time.Second
	a.manager = aggregator.NewManager(log, burnedTTL, submitter, a.castore, runner, cfg.Aggregator.DefaultQuorumThreshold)
	a.manager.SetHooks(core.NewMetricsHooks(prometheus.DefaultRegisterer, "aggregator"))

	a.http = httpapi.NewAggregatorServer(log, version, httpapi.AggregatorConfig{
		Host:                   cfg.Server.Host,
		Port:                   cfg.Server.Port,
		LogLevel:               cfg.Logging.Level,
		BurnedQueueTTLSeconds:  cfg.Aggregator.BurnedQueueTTLSeconds,
		DefaultQuorumThreshold: cfg.Aggregator.DefaultQuorumThreshold,
	}, a.manager, cfg.Server.BearerToken)

	return a, nil
}

func (a *Aggregator) Name() string { return "aggregator" }

// HTTPServer returns the wired aggregator HTTP API.
func (a *Aggregator) HTTPServer() *httpapi.AggregatorServer { return a.http }

func (a *Aggregator) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

func (a *Aggregator) Stop(ctx context.Context) error {
	if err := a.manager.Stop(ctx); err != nil {
		a.log.WithField("error", err).Error("dispatcher: stop aggregator manager")
	}
	if err := a.engine.Close(ctx); err != nil {
		a.log.WithField("error", err).Error("dispatcher: close engine")
	}
	a.client.Close()
	if a.db != nil {
		a.db.Close()
	}
	return nil
}

// Descriptors reports every wired subsystem's descriptor for diagnostics.
func (a *Aggregator) Descriptors() []core.Descriptor {
	return system.CollectDescriptors([]system.DescriptorProvider{a.manager, a.http})
}
