// Package config loads node settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything cmd/gennode needs to start a node.
type Config struct {
	NodeName      string        `env:"GENRPC_NODE_NAME,required,notEmpty"`
	ListenAddr    string        `env:"GENRPC_LISTEN_ADDR"    envDefault:":4370"`
	AdvertiseAddr string        `env:"GENRPC_ADVERTISE_ADDR"` // Defaults to the bound listen address
	Creation      uint32        `env:"GENRPC_CREATION"`       // Zero means derive from the start time
	Codec         string        `env:"GENRPC_CODEC"          envDefault:"binary"`
	EtcdEndpoints []string      `env:"GENRPC_ETCD_ENDPOINTS" envSeparator:","`
	LeaseTTL      int64         `env:"GENRPC_LEASE_TTL"      envDefault:"10"`
	MailboxSize   int           `env:"GENRPC_MAILBOX_SIZE"   envDefault:"1024"`
	OutboundQueue int           `env:"GENRPC_OUTBOUND_QUEUE" envDefault:"1024"`
	Heartbeat     time.Duration `env:"GENRPC_HEARTBEAT"      envDefault:"15s"`
	RateLimit     float64       `env:"GENRPC_RATE_LIMIT"     envDefault:"1000"`
	RateBurst     int           `env:"GENRPC_RATE_BURST"     envDefault:"100"`
	CallTimeout   time.Duration `env:"GENRPC_CALL_TIMEOUT"   envDefault:"5s"`
	LogLevel      string        `env:"GENRPC_LOG_LEVEL"      envDefault:"info"`
	OtelEndpoint  string        `env:"GENRPC_OTEL_ENDPOINT"`
}

// Load parses Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Codec != "binary" && cfg.Codec != "json" {
		return Config{}, fmt.Errorf("parse env: GENRPC_CODEC must be binary or json, got %q", cfg.Codec)
	}
	return cfg, nil
}
