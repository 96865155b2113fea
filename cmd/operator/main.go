// Command operator runs a WAVS operator node: trigger manager, WASM
// component host, submission manager, service onboarding, and HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/wavs-labs/wavs/internal/app/dispatcher"
	"github.com/wavs-labs/wavs/pkg/config"
	"github.com/wavs-labs/wavs/pkg/logger"
	"github.com/wavs-labs/wavs/pkg/version"
)

func main() {
	dotenv := flag.String("dotenv", "", "path to a .env file loaded before environment variables")
	configPath := flag.String("config", "", "path to config.yaml (defaults to $home/config.yaml)")
	home := flag.String("home", "", "operator home directory (overrides config/env)")
	dataDir := flag.String("data", "", "component data directory (overrides config/env)")
	listenAddr := flag.String("listen", "", "host:port for the HTTP API (overrides config/env)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	evmRPC := flag.String("evm-rpc", "", "comma-separated chain=url pairs for EVM trigger/submission chains")
	cosmosREST := flag.String("cosmos-rest", "", "comma-separated chain=url pairs for Cosmos trigger chains")
	ipfsGateway := flag.String("ipfs-gateway", "", "IPFS gateway used to resolve ipfs:// service URIs")
	devEndpoints := flag.Bool("dev-endpoints-enabled", false, "enable the dev-only component/trigger HTTP endpoints")
	bearerToken := flag.String("bearer-token", "", "bearer token required on mutating HTTP routes (overrides config/env)")
	flag.Parse()

	cfg, err := config.Load(*dotenv, *configPath)
	if err != nil {
		log.Fatalf("operator: load config: %v", err)
	}
	applyOperatorFlagOverrides(cfg, *home, *dataDir, *listenAddr, *dsn, *evmRPC, *cosmosREST, *ipfsGateway, *devEndpoints, *bearerToken)

	log_ := logger.New(logger.LoggingConfig{Level: cfg.Logging.Level, Format: "text", Output: "stdout"})

	rootCtx := context.Background()
	op, err := dispatcher.NewOperator(rootCtx, cfg, log_, version.FullVersion())
	if err != nil {
		log.Fatalf("operator: initialize: %v", err)
	}

	if err := op.Start(rootCtx); err != nil {
		log.Fatalf("operator: start: %v", err)
	}

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: op.HTTPServer().Router()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("operator: http server: %v", err)
		}
	}()
	log.Printf("operator listening on %s", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("operator: http shutdown: %v", err)
	}
	if err := op.Stop(shutdownCtx); err != nil {
		log.Fatalf("operator: shutdown: %v", err)
	}
}

func applyOperatorFlagOverrides(cfg *config.Config, home, dataDir, listenAddr, dsn, evmRPC, cosmosREST, ipfsGateway string, devEndpoints bool, bearerToken string) {
	if trimmed := strings.TrimSpace(home); trimmed != "" {
		cfg.Home = trimmed
	}
	if trimmed := strings.TrimSpace(dataDir); trimmed != "" {
		cfg.Data = trimmed
	}
	if trimmed := strings.TrimSpace(listenAddr); trimmed != "" {
		host, portStr, err := net.SplitHostPort(trimmed)
		if err != nil {
			log.Fatalf("operator: --listen %q: %v", trimmed, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Fatalf("operator: --listen %q: invalid port: %v", trimmed, err)
		}
		cfg.Server.Host = host
		cfg.Server.Port = port
	}
	if trimmed := strings.TrimSpace(dsn); trimmed != "" {
		cfg.Database.DSN = trimmed
	}
	if trimmed := strings.TrimSpace(evmRPC); trimmed != "" {
		if chains, err := config.ParseEvmChains(trimmed); err == nil {
			cfg.EvmChains = chains
		} else {
			log.Fatalf("operator: --evm-rpc: %v", err)
		}
	}
	if trimmed := strings.TrimSpace(cosmosREST); trimmed != "" {
		if chains, err := config.ParseCosmosChains(trimmed); err == nil {
			cfg.CosmosChains = chains
		} else {
			log.Fatalf("operator: --cosmos-rest: %v", err)
		}
	}
	if trimmed := strings.TrimSpace(ipfsGateway); trimmed != "" {
		cfg.IPFSGateway = trimmed
	}
	if devEndpoints {
		cfg.DevEndpointsEnabled = true
	}
	if trimmed := strings.TrimSpace(bearerToken); trimmed != "" {
		cfg.Server.BearerToken = trimmed
	}
}
