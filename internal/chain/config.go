package chain

import "time"

// Config holds chain RPC configuration.
type Config struct {
	// RPC endpoint to an EVM node. Prefer WS for log subscriptions.
	RPCEndpoint string `yaml:"rpc_endpoint" env:"CHAIN_RPC_ENDPOINT"`

	// Optional HTTP basic auth for gated endpoints.
	RPCUser     string `yaml:"rpc_user"     env:"CHAIN_RPC_USER"`
	RPCPassword string `yaml:"rpc_password" env:"CHAIN_RPC_PASSWORD"`

	// ChainID is autodetected from the endpoint when zero.
	ChainID uint64 `yaml:"chain_id" env:"CHAIN_ID"`

	// Deployed Multicall3 address used for batched reads.
	MulticallContract string `yaml:"multicall_contract" env:"CHAIN_MULTICALL_CONTRACT"`

	// Receipt polling used by WaitMined.
	ReceiptPollInterval time.Duration `yaml:"receipt_poll_interval" env:"CHAIN_RECEIPT_POLL_INTERVAL"`
	ReceiptPollAttempts int           `yaml:"receipt_poll_attempts" env:"CHAIN_RECEIPT_POLL_ATTEMPTS"`
}

func DefaultConfig() Config {
	return Config{
		RPCEndpoint:         "ws://localhost:8546",
		MulticallContract:   "0xcA11bde05977b3631167028862bE2a173976CA11",
		ReceiptPollInterval: 2 * time.Second,
		ReceiptPollAttempts: 30,
	}
}
