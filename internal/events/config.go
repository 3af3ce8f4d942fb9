package events

import "time"

// Config holds aggregator subscription tuning.
type Config struct {
	// BufferSize is the per-subscription log channel depth.
	BufferSize int `yaml:"buffer_size" env:"AGGREGATOR_BUFFER_SIZE"`

	// ReconnectDelay is the initial backoff after a dropped subscription;
	// it doubles per attempt up to MaxReconnectDelay, with jitter.
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"     env:"AGGREGATOR_RECONNECT_DELAY"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay" env:"AGGREGATOR_MAX_RECONNECT_DELAY"`
}

func DefaultConfig() Config {
	return Config{
		BufferSize:        128,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: time.Minute,
	}
}
