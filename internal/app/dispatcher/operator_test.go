package dispatcher

import (
	"strings"
	"testing"

	"github.com/wavs-labs/wavs/internal/app/domain/wavs"
)

func TestParseOptionalPrivateKeyEmpty(t *testing.T) {
	key, err := parseOptionalPrivateKey("")
	if err != nil || key != nil {
		t.Fatalf("expected nil key and no error for empty input, got key=%v err=%v", key, err)
	}
}

func TestParseOptionalPrivateKeyTrimsHexPrefix(t *testing.T) {
	raw := strings.Repeat("46", 32)
	key, err := parseOptionalPrivateKey("0x" + raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key == nil {
		t.Fatal("expected a parsed key")
	}
}

func TestParseOptionalPrivateKeyRejectsGarbage(t *testing.T) {
	if _, err := parseOptionalPrivateKey("not-hex"); err == nil {
		t.Fatal("expected error for invalid hex key")
	}
}

func TestEvmControllerConfigsOneEntryPerChain(t *testing.T) {
	cfgs := (&Operator{}).evmControllerConfigs(map[string]string{
		"eth":  "https://eth.rpc",
		"base": "https://base.rpc",
	})
	if len(cfgs) != 2 {
		t.Fatalf("expected 2 configs, got %d", len(cfgs))
	}
	eth, ok := cfgs[wavs.ChainKey("eth")]
	if !ok {
		t.Fatal("missing eth config")
	}
	if len(eth.Endpoints) != 1 || eth.Endpoints[0] != "https://eth.rpc" {
		t.Fatalf("unexpected endpoints: %#v", eth.Endpoints)
	}
	if eth.Dial == nil {
		t.Fatal("expected a non-nil Dial func")
	}
}

func TestCosmosControllerConfigs(t *testing.T) {
	cfgs := cosmosControllerConfigs(map[string]string{"cosmoshub": "https://rest.cosmos"})
	cfg, ok := cfgs[wavs.ChainKey("cosmoshub")]
	if !ok {
		t.Fatal("missing cosmoshub config")
	}
	if cfg.RESTEndpoint != "https://rest.cosmos" {
		t.Fatalf("unexpected rest endpoint: %s", cfg.RESTEndpoint)
	}
	if cfg.PollInterval != defaultCosmosPollInterval {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval)
	}
}

func TestEngineChainConfigs(t *testing.T) {
	cfgs := engineChainConfigs(map[string]string{"eth": "https://eth.rpc"})
	cfg, ok := cfgs["eth"]
	if !ok {
		t.Fatal("missing eth chain config")
	}
	if cfg.Chain != wavs.ChainKey("eth") || len(cfg.RPCEndpoints) != 1 || cfg.RPCEndpoints[0] != "https://eth.rpc" {
		t.Fatalf("unexpected chain config: %#v", cfg)
	}
}

func TestLatestKnownHeightStartsAtZero(t *testing.T) {
	if h := latestKnownHeight(nil); h != 0 {
		t.Fatalf("expected 0, got %d", h)
	}
}
