// Package config implements Load() (SPEC_FULL.md §2.3): required
// connection strings from the environment, plus an optional config.yaml
// overlay for operational knobs. Env vars win over file values.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config holds everything cmd/engine needs to wire the service together.
type Config struct {
	DatabaseURL    string `yaml:"-"`
	CacheURL       string `yaml:"-"`
	RPCAddr        string `yaml:"-"`
	Env            string `yaml:"-"`
	UpstreamRPCURL string `yaml:"-"` // optional: real Solana RPC node to fall back to for methods this engine doesn't originate

	BlockProductionIntervalMS int    `yaml:"block_production_interval_ms"`
	SerializerQueueDepth      int    `yaml:"serializer_queue_depth"`
	ComputeBudgetDefault      uint64 `yaml:"compute_budget_default"`
	GenesisLamports           uint64 `yaml:"genesis_lamports"`
	LamportsPerSignature      uint64 `yaml:"lamports_per_signature"`
}

func defaults() Config {
	return Config{
		BlockProductionIntervalMS: 500,
		SerializerQueueDepth:      100,
		ComputeBudgetDefault:      200_000,
		GenesisLamports:           1_000_000_000,
		LamportsPerSignature:      5_000,
	}
}

// Load reads DATABASE_URL, CACHE_URL, RPC_URL, UPSTREAM_RPC_URL and ENV
// from the environment, then overlays configPath (if it exists) for the
// non-secret operational knobs. DATABASE_URL and CACHE_URL are required;
// RPC_URL defaults to ":8899", ENV to "development", and UPSTREAM_RPC_URL
// is optional (empty disables the upstream fallback client).
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}
	cfg.CacheURL = os.Getenv("CACHE_URL")
	if cfg.CacheURL == "" {
		return nil, fmt.Errorf("config: CACHE_URL is required")
	}
	cfg.RPCAddr = os.Getenv("RPC_URL")
	if cfg.RPCAddr == "" {
		cfg.RPCAddr = ":8899"
	}
	cfg.Env = os.Getenv("ENV")
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	cfg.UpstreamRPCURL = os.Getenv("UPSTREAM_RPC_URL")

	return &cfg, nil
}
