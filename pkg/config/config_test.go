package config

import "testing"

func TestNewDefaults(t *testing.T) {
	cfg := New()
	if cfg.Server.Port != 8000 {
		t.Fatalf("expected default port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default log level info, got %s", cfg.Logging.Level)
	}
	if !cfg.Database.MigrateOnStart {
		t.Fatal("expected migrate_on_start to default true")
	}
	if cfg.Aggregator.DefaultQuorumThreshold != 3 {
		t.Fatalf("expected default quorum threshold 3, got %d", cfg.Aggregator.DefaultQuorumThreshold)
	}
}

func TestParseEvmChains(t *testing.T) {
	chains, err := ParseEvmChains("eth=https://eth.rpc,base=https://base.rpc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chains["eth"] != "https://eth.rpc" || chains["base"] != "https://base.rpc" {
		t.Fatalf("unexpected chains: %#v", chains)
	}
}

func TestParseCosmosChains(t *testing.T) {
	chains, err := ParseCosmosChains("cosmoshub=https://rest.cosmos")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chains["cosmoshub"] != "https://rest.cosmos" {
		t.Fatalf("unexpected chains: %#v", chains)
	}
}

func TestParseChainPairsRejectsMalformedEntry(t *testing.T) {
	if _, err := ParseEvmChains("eth=https://eth.rpc,garbage"); err == nil {
		t.Fatal("expected error for malformed entry")
	}
	if _, err := ParseEvmChains("=https://eth.rpc"); err == nil {
		t.Fatal("expected error for missing chain key")
	}
	if _, err := ParseEvmChains("eth="); err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestParseChainPairsIgnoresBlankSegments(t *testing.T) {
	chains, err := ParseEvmChains(" eth=https://eth.rpc , ,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chains) != 1 || chains["eth"] != "https://eth.rpc" {
		t.Fatalf("unexpected chains: %#v", chains)
	}
}

func TestNormalizeSplitsSingleCORSEntry(t *testing.T) {
	cfg := &Config{Server: ServerConfig{CORSAllowedOrigins: []string{"https://a.example,https://b.example"}}}
	cfg.normalize()
	if len(cfg.Server.CORSAllowedOrigins) != 2 {
		t.Fatalf("expected 2 origins after split, got %#v", cfg.Server.CORSAllowedOrigins)
	}
}
