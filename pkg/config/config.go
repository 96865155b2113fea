// Package config loads operator/aggregator configuration the way the rest
// of this codebase's ambient stack does: a YAML file, overridden by
// environment variables (themselves optionally loaded from a --dotenv
// file), finally overridden by explicit CLI flags in cmd/.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP listener shared by both the operator and
// aggregator binaries.
type ServerConfig struct {
	Host               string   `json:"host" yaml:"host" env:"WAVS_HOST"`
	Port               int      `json:"port" yaml:"port" env:"WAVS_PORT"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins"`
	BearerToken        string   `json:"-" yaml:"-" env:"WAVS_BEARER_TOKEN"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" env:"WAVS_LOG_LEVEL"`
}

// DatabaseConfig controls the services registry / content-addressed store /
// key-value store backing. An empty DSN selects the in-memory backends,
// which is what a --dev-endpoints-enabled local run typically wants.
type DatabaseConfig struct {
	DSN            string `json:"dsn" yaml:"dsn" env:"WAVS_DATABASE_DSN"`
	MigrateOnStart bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"WAVS_DATABASE_MIGRATE_ON_START"`
}

// EngineConfig controls the WASM component host (§4.2).
type EngineConfig struct {
	WasmLRUSize         int    `json:"wasm_lru_size" yaml:"wasm_lru_size" env:"WAVS_WASM_LRU_SIZE"`
	WasmThreads         int    `json:"wasm_threads" yaml:"wasm_threads" env:"WAVS_WASM_THREADS"`
	MaxWasmFuel         uint64 `json:"max_wasm_fuel" yaml:"max_wasm_fuel" env:"WAVS_MAX_WASM_FUEL"`
	MaxExecutionSeconds uint32 `json:"max_execution_seconds" yaml:"max_execution_seconds" env:"WAVS_MAX_EXECUTION_SECONDS"`
}

// SubmissionConfig controls the operator's signing identity and its
// aggregator-POST client (§4.5). Exactly one of Mnemonic/RawPrivKey should
// be set.
type SubmissionConfig struct {
	Mnemonic   string `json:"-" yaml:"-" env:"WAVS_SUBMISSION_MNEMONIC"`
	RawPrivKey string `json:"-" yaml:"-" env:"WAVS_SUBMISSION_PRIVATE_KEY"`
	// GasSignerPrivKey pays gas for direct (non-aggregator) on-chain
	// submissions; it is deliberately distinct from the envelope-signing
	// identity above (Mnemonic/RawPrivKey), which may be HD-derived and
	// never touches a wallet balance.
	GasSignerPrivKey string `json:"-" yaml:"-" env:"WAVS_SUBMISSION_GAS_SIGNER_KEY"`
}

// AggregatorSelfConfig controls the aggregator binary's own quorum and
// gas-signing parameters.
type AggregatorSelfConfig struct {
	BurnedQueueTTLSeconds  int    `json:"burned_queue_ttl_seconds" yaml:"burned_queue_ttl_seconds" env:"WAVS_AGGREGATOR_BURNED_QUEUE_TTL_SECONDS"`
	DefaultQuorumThreshold int    `json:"default_quorum_threshold" yaml:"default_quorum_threshold" env:"WAVS_AGGREGATOR_DEFAULT_QUORUM_THRESHOLD"`
	GasSignerPrivKey       string `json:"-" yaml:"-" env:"WAVS_AGGREGATOR_GAS_SIGNER_KEY"`
	// Chain/RPCEndpoint name the single destination chain this aggregator
	// submits handleSignedEnvelope transactions to; an aggregator instance
	// serves one chain (operators run one aggregator per destination chain).
	Chain      string `json:"chain" yaml:"chain" env:"WAVS_AGGREGATOR_CHAIN"`
	RPCEndpoint string `json:"-" yaml:"-" env:"WAVS_AGGREGATOR_RPC_ENDPOINT"`
}

// Config is the top-level configuration structure shared by both binaries;
// each main trims it to the fields it needs.
type Config struct {
	Home                string               `json:"home" yaml:"home" env:"WAVS_HOME"`
	Data                string               `json:"data" yaml:"data" env:"WAVS_DATA"`
	IPFSGateway         string               `json:"ipfs_gateway" yaml:"ipfs_gateway" env:"WAVS_IPFS_GATEWAY"`
	DevEndpointsEnabled bool                 `json:"dev_endpoints_enabled" yaml:"dev_endpoints_enabled" env:"WAVS_DEV_ENDPOINTS_ENABLED"`
	EvmChains           map[string]string    `json:"evm_chains" yaml:"evm_chains"`
	CosmosChains        map[string]string    `json:"cosmos_chains" yaml:"cosmos_chains"`
	Server              ServerConfig         `json:"server" yaml:"server"`
	Logging             LoggingConfig        `json:"logging" yaml:"logging"`
	Database            DatabaseConfig       `json:"database" yaml:"database"`
	Engine              EngineConfig         `json:"engine" yaml:"engine"`
	Submission          SubmissionConfig     `json:"-" yaml:"-"`
	Aggregator          AggregatorSelfConfig `json:"aggregator" yaml:"aggregator"`
}

// New returns a configuration populated with WAVS's documented defaults.
func New() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Home:                filepath.Join(home, ".wavs"),
		IPFSGateway:         "https://ipfs.io",
		DevEndpointsEnabled: false,
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Logging: LoggingConfig{Level: "info"},
		Database: DatabaseConfig{
			MigrateOnStart: true,
		},
		Engine: EngineConfig{
			WasmLRUSize:         64,
			WasmThreads:         4,
			MaxWasmFuel:         10_000_000_000,
			MaxExecutionSeconds: 15,
		},
		Aggregator: AggregatorSelfConfig{
			BurnedQueueTTLSeconds:  3600,
			DefaultQuorumThreshold: 3,
		},
	}
}

// Load loads configuration from an optional --dotenv file, a YAML file
// (configPath, or $home/config.yaml when empty), then environment
// variables, in that order of increasing precedence.
func Load(dotenvPath, configPath string) (*Config, error) {
	if trimmed := strings.TrimSpace(dotenvPath); trimmed != "" {
		if err := godotenv.Load(trimmed); err != nil {
			return nil, fmt.Errorf("config: load dotenv %s: %w", trimmed, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := New()

	path := strings.TrimSpace(configPath)
	if path == "" {
		path = filepath.Join(cfg.Home, "config.yaml")
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when no tagged fields are set in the environment;
		// treat that as "no overrides" so local runs work without exporting
		// anything.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("config: decode env: %w", err)
		}
	}
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	if len(c.Server.CORSAllowedOrigins) == 1 {
		c.Server.CORSAllowedOrigins = splitCSV(c.Server.CORSAllowedOrigins[0])
	}
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseEvmChains parses "key=url,key=url" pairs (the --evm-rpc flag shape)
// into the EvmChains map.
func ParseEvmChains(raw string) (map[string]string, error) {
	return parseChainPairs(raw, "evm-rpc")
}

// ParseCosmosChains parses "key=url,key=url" pairs (the --cosmos-rest flag
// shape) into the CosmosChains map.
func ParseCosmosChains(raw string) (map[string]string, error) {
	return parseChainPairs(raw, "cosmos-rest")
}

func parseChainPairs(raw, flagName string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return nil, fmt.Errorf("config: invalid --%s entry %q, want chain=url", flagName, part)
		}
		out[kv[0]] = kv[1]
	}
	return out, nil
}
