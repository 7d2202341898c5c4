package config

import (
	"errors"
	"fmt"
	"time"
)

// Broker selects the pub/sub backend used to fan signaling
// traffic across relay instances.
const (
	BrokerRedis  = "redis"
	BrokerMemory = "memory"
)

var (
	// ErrMissingSharedSecret means the TURN shared secret was not configured.
	ErrMissingSharedSecret = errors.New("turn shared secret is required")
	// ErrMissingRedisURL means broker mode is redis but no URL was given.
	ErrMissingRedisURL = errors.New("redis url is required when broker is redis")
)

// TurnConfig holds relay credential issuing parameters.
type TurnConfig struct {
	URLs         []string      `mapstructure:"urls" yaml:"urls"`
	SharedSecret string        `mapstructure:"shared_secret" yaml:"shared_secret"`
	TTL          time.Duration `mapstructure:"ttl" yaml:"ttl"`
	RateLimit    int           `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	Broker            string        `mapstructure:"broker" yaml:"broker"`
	RedisURL          string        `mapstructure:"redis_url" yaml:"redis_url"`
	Turn              TurnConfig    `mapstructure:"turn" yaml:"turn"`
}

// Default returns configuration with reasonable starter defaults.
// The TURN shared secret has no default; Validate rejects its absence.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DatabasePath:      "signalrelay.db",
		Broker:            BrokerRedis,
		RedisURL:          "redis://localhost:6379",
		Turn: TurnConfig{
			URLs: []string{
				"turn:turn.example.com:3478?transport=udp",
				"turn:turn.example.com:3478?transport=tcp",
			},
			TTL:       48 * time.Hour,
			RateLimit: 10,
		},
	}
}

// Validate rejects half-configured states before the server starts serving.
func (c *Config) Validate() error {
	if c.Turn.SharedSecret == "" {
		return ErrMissingSharedSecret
	}
	if len(c.Turn.URLs) == 0 {
		return errors.New("at least one turn url is required")
	}
	if c.Turn.TTL <= 0 {
		return errors.New("turn ttl must be positive")
	}
	switch c.Broker {
	case BrokerRedis:
		if c.RedisURL == "" {
			return ErrMissingRedisURL
		}
	case BrokerMemory:
	default:
		return fmt.Errorf("unknown broker %q", c.Broker)
	}
	return nil
}
