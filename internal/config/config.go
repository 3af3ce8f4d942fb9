// Package config loads the bot's configuration from a YAML file with
// environment variable overrides on top.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/actor"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/chain"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/events"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/forwarder"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/indexer"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/manager"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/policy/battle"
	"github.com/GenerationSoftware/ready-aim-fire-bot-sub000/internal/policy/ziggurat"
)

// Log holds root logger settings.
type Log struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"LOG_PRETTY"`
}

// Config aggregates every component's configuration.
type Config struct {
	Log        Log              `yaml:"log"`
	Chain      chain.Config     `yaml:"chain"`
	Indexer    indexer.Config   `yaml:"indexer"`
	Forwarder  forwarder.Config `yaml:"forwarder"`
	Aggregator events.Config    `yaml:"aggregator"`
	Actor      actor.Config     `yaml:"actor"`
	Battle     battle.Config    `yaml:"battle"`
	Ziggurat   ziggurat.Config  `yaml:"ziggurat"`
	Manager    manager.Config   `yaml:"manager"`

	// MetricsAddr is the listen address for the /metrics endpoint. Empty
	// disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`
}

func DefaultConfig() Config {
	return Config{
		Log:         Log{Level: "info"},
		Chain:       chain.DefaultConfig(),
		Indexer:     indexer.DefaultConfig(),
		Forwarder:   forwarder.DefaultConfig(),
		Aggregator:  events.DefaultConfig(),
		Actor:       actor.DefaultConfig(),
		Battle:      battle.DefaultConfig(),
		Ziggurat:    ziggurat.DefaultConfig(),
		Manager:     manager.DefaultConfig(),
		MetricsAddr: ":9090",
	}
}

// Load reads the YAML file at path (skipped when path is empty) and applies
// environment overrides. Defaults fill anything left unset.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings every run needs. Component constructors do
// their own finer-grained validation.
func (c Config) Validate() error {
	if c.Chain.RPCEndpoint == "" {
		return fmt.Errorf("chain.rpc_endpoint is required")
	}
	if c.Indexer.URL == "" {
		return fmt.Errorf("indexer.url is required")
	}
	if c.Forwarder.RelayURL == "" {
		return fmt.Errorf("forwarder.relay_url is required")
	}
	if c.Forwarder.ForwarderContract == "" {
		return fmt.Errorf("forwarder.forwarder_contract is required")
	}
	if c.Forwarder.PrivateKeyHex == "" {
		return fmt.Errorf("forwarder.private_key_hex is required")
	}
	if c.Manager.Operator == "" {
		return fmt.Errorf("manager.operator is required")
	}
	return nil
}
