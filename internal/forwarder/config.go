package forwarder

import "time"

// Config holds relay and signing configuration for meta-transactions.
type Config struct {
	// RelayURL is the gas-sponsoring relay HTTP endpoint.
	RelayURL string `yaml:"relay_url" env:"FORWARDER_RELAY_URL"`

	// ForwarderContract is the trusted forwarding contract (hex address) that
	// verifies signatures and tracks replay nonces.
	ForwarderContract string `yaml:"forwarder_contract" env:"FORWARDER_CONTRACT"`

	// EIP-712 domain of the forwarding contract.
	DomainName    string `yaml:"domain_name"    env:"FORWARDER_DOMAIN_NAME"`
	DomainVersion string `yaml:"domain_version" env:"FORWARDER_DOMAIN_VERSION"`

	// Signing key for the bot identity. Hex, with or without 0x prefix.
	PrivateKeyHex string `yaml:"private_key_hex" env:"FORWARDER_PRIVATE_KEY_HEX"`

	// Defaults applied to intents that leave them unset.
	DefaultGas      uint64        `yaml:"default_gas"      env:"FORWARDER_DEFAULT_GAS"`
	DefaultDeadline time.Duration `yaml:"default_deadline" env:"FORWARDER_DEFAULT_DEADLINE"`

	// HTTPTimeout bounds each relay round-trip.
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"FORWARDER_HTTP_TIMEOUT"`
}

func DefaultConfig() Config {
	return Config{
		DomainName:      "GenericForwarder",
		DomainVersion:   "1",
		DefaultGas:      2_000_000,
		DefaultDeadline: 60 * time.Second,
		HTTPTimeout:     30 * time.Second,
	}
}
