package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/meridianledger/meridian/state"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `mapstructure:"ca_cert"`
	NodeCert string `mapstructure:"node_cert"`
	NodeKey  string `mapstructure:"node_key"`
}

// SeedPeer identifies a remote node to connect to on startup.
type SeedPeer struct {
	ID   string `mapstructure:"id"`
	Addr string `mapstructure:"addr"`
}

// ParametersConfig mirrors state.Parameters in YAML-friendly units
// (durations as Go duration strings). The node seeds its world state from
// these values at every start, and the transaction acceptor reads them
// directly.
type ParametersConfig struct {
	BlockTime                     time.Duration `mapstructure:"block_time"`
	CommitTime                    time.Duration `mapstructure:"commit_time"`
	MaxTransactionsPerBlock       int           `mapstructure:"max_transactions_per_block"`
	MaxInstructionsPerTransaction int           `mapstructure:"max_instructions_per_transaction"`
	FuelLimit                     uint64        `mapstructure:"fuel_limit"`
	MaxClockDrift                 time.Duration `mapstructure:"max_clock_drift"`
}

// ToState converts the YAML-facing parameters into the runtime type.
func (p ParametersConfig) ToState() state.Parameters {
	return state.Parameters{
		BlockTime:                     p.BlockTime,
		CommitTime:                    p.CommitTime,
		MaxTransactionsPerBlock:       p.MaxTransactionsPerBlock,
		MaxInstructionsPerTransaction: p.MaxInstructionsPerTransaction,
		FuelLimit:                     p.FuelLimit,
		MaxClockDrift:                 p.MaxClockDrift,
	}
}

func defaultParametersConfig() ParametersConfig {
	d := state.DefaultParameters()
	return ParametersConfig{
		BlockTime:                     d.BlockTime,
		CommitTime:                    d.CommitTime,
		MaxTransactionsPerBlock:       d.MaxTransactionsPerBlock,
		MaxInstructionsPerTransaction: d.MaxInstructionsPerTransaction,
		FuelLimit:                     d.FuelLimit,
		MaxClockDrift:                 d.MaxClockDrift,
	}
}

// Config holds all node configuration, loaded from a YAML file with
// MERIDIAN_-prefixed environment variable overrides.
type Config struct {
	NodeID      string `mapstructure:"node_id"`
	DataDir     string `mapstructure:"data_dir"`
	P2PPort     int    `mapstructure:"p2p_port"`
	ChainID     string `mapstructure:"chain_id"`
	GenesisFile string `mapstructure:"genesis_file"` // path to the genesis.Document JSON, empty on non-bootstrap peers
	IsBootstrap bool   `mapstructure:"is_bootstrap"` // this peer builds and broadcasts genesis rather than waiting for it

	RoundTimeout      time.Duration `mapstructure:"round_timeout"`
	ViewChangeTimeout time.Duration `mapstructure:"view_change_timeout"`

	Parameters ParametersConfig `mapstructure:"parameters"`
	SeedPeers  []SeedPeer       `mapstructure:"seed_peers"`
	TLS        *TLSConfig       `mapstructure:"tls"`

	MetricsAddr string `mapstructure:"metrics_addr"` // empty → metrics server disabled
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:            "node0",
		DataDir:           "./data",
		P2PPort:           30303,
		ChainID:           "meridian-dev",
		IsBootstrap:       true,
		RoundTimeout:      2 * time.Second,
		ViewChangeTimeout: 10 * time.Second,
		Parameters:        defaultParametersConfig(),
		MetricsAddr:       ":9090",
	}
}

// Load reads a YAML config file from path, applying MERIDIAN_-prefixed
// environment variable overrides (e.g. MERIDIAN_NODE_ID), and validates
// required fields.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("meridian")
	v.AutomaticEnv()

	cfg := DefaultConfig()
	bindDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// bindDefaults seeds viper with cfg's zero-config defaults so that a
// sparse YAML file only needs to override what differs from them.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("node_id", cfg.NodeID)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("p2p_port", cfg.P2PPort)
	v.SetDefault("chain_id", cfg.ChainID)
	v.SetDefault("is_bootstrap", cfg.IsBootstrap)
	v.SetDefault("round_timeout", cfg.RoundTimeout)
	v.SetDefault("view_change_timeout", cfg.ViewChangeTimeout)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("parameters.block_time", cfg.Parameters.BlockTime)
	v.SetDefault("parameters.commit_time", cfg.Parameters.CommitTime)
	v.SetDefault("parameters.max_transactions_per_block", cfg.Parameters.MaxTransactionsPerBlock)
	v.SetDefault("parameters.max_instructions_per_transaction", cfg.Parameters.MaxInstructionsPerTransaction)
	v.SetDefault("parameters.fuel_limit", cfg.Parameters.FuelLimit)
	v.SetDefault("parameters.max_clock_drift", cfg.Parameters.MaxClockDrift)
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.ChainID == "" {
		return fmt.Errorf("chain_id must not be empty")
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if !c.IsBootstrap && c.GenesisFile != "" {
		return fmt.Errorf("genesis_file is only meaningful when is_bootstrap is true")
	}
	if c.IsBootstrap && c.GenesisFile == "" {
		return fmt.Errorf("is_bootstrap requires genesis_file")
	}
	params := c.Parameters.ToState()
	if params.BlockTime <= 0 {
		return fmt.Errorf("parameters.block_time must be positive")
	}
	if params.CommitTime <= 0 {
		return fmt.Errorf("parameters.commit_time must be positive")
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}
