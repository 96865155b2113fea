// Command aggregator runs a WAVS aggregator node: quorum tracking, optional
// aggregation components, and on-chain submission to one destination chain.
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
	listenAddr := flag.String("listen", "", "host:port for the HTTP API (overrides config/env)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory component store when empty)")
	chain := flag.String("chain", "", "destination chain key this aggregator submits to (overrides config/env)")
	rpcEndpoint := flag.String("rpc-endpoint", "", "EVM RPC endpoint for the destination chain (overrides config/env)")
	quorum := flag.Int("default-quorum-threshold", 0, "default quorum threshold for services that don't specify one")
	bearerToken := flag.String("bearer-token", "", "bearer token required on mutating HTTP routes (overrides config/env)")
	flag.Parse()

	cfg, err := config.Load(*dotenv, *configPath)
	if err != nil {
		log.Fatalf("aggregator: load config: %v", err)
	}
	applyAggregatorFlagOverrides(cfg, *listenAddr, *dsn, *chain, *rpcEndpoint, *quorum, *bearerToken)

	log_ := logger.New(logger.LoggingConfig{Level: cfg.Logging.Level, Format: "text", Output: "stdout"})

	rootCtx := context.Background()
	agg, err := dispatcher.NewAggregator(rootCtx, cfg, log_, version.FullVersion())
	if err != nil {
		log.Fatalf("aggregator: initialize: %v", err)
	}

	if err := agg.Start(rootCtx); err != nil {
		log.Fatalf("aggregator: start: %v", err)
	}

	addr := cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: agg.HTTPServer().Router()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("aggregator: http server: %v", err)
		}
	}()
	log.Printf("aggregator listening on %s", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("aggregator: http shutdown: %v", err)
	}
	if err := agg.Stop(shutdownCtx); err != nil {
		log.Fatalf("aggregator: shutdown: %v", err)
	}
}

func applyAggregatorFlagOverrides(cfg *config.Config, listenAddr, dsn, chain, rpcEndpoint string, quorum int, bearerToken string) {
	if trimmed := strings.TrimSpace(listenAddr); trimmed != "" {
		host, portStr, err := net.SplitHostPort(trimmed)
		if err != nil {
			log.Fatalf("aggregator: --listen %q: %v", trimmed, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Fatalf("aggregator: --listen %q: invalid port: %v", trimmed, err)
		}
		cfg.Server.Host = host
		cfg.Server.Port = port
	}
	if trimmed := strings.TrimSpace(dsn); trimmed != "" {
		cfg.Database.DSN = trimmed
	}
	if trimmed := strings.TrimSpace(chain); trimmed != "" {
		cfg.Aggregator.Chain = trimmed
	}
	if trimmed := strings.TrimSpace(rpcEndpoint); trimmed != "" {
		cfg.Aggregator.RPCEndpoint = trimmed
	}
	if quorum > 0 {
		cfg.Aggregator.DefaultQuorumThreshold = quorum
	}
	if trimmed := strings.TrimSpace(bearerToken); trimmed != "" {
		cfg.Server.BearerToken = trimmed
	}
}
