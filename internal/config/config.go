// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"buywatch/internal/solana"
)

// Config errors.
var (
	ErrMissingMint = errors.New("missing MINT")
	ErrInvalidMint = errors.New("invalid MINT")
)

// Config stores all configuration for the service.
// Keys match the environment variable names, case-insensitively.
type Config struct {
	Mint           string `mapstructure:"mint"`
	RPCWS          string `mapstructure:"rpc_ws"`
	RPCHTTP        string `mapstructure:"rpc_http"`
	Port           int    `mapstructure:"port"`
	DexScreenerURL string `mapstructure:"dexscreener_url"`
	PublicDir      string `mapstructure:"public_dir"`
	BuildTag       string `mapstructure:"build_tag"`
	LogLevel       string `mapstructure:"log_level"`

	SeenCapacity        int   `mapstructure:"seen_capacity"`
	ClassifyConcurrency int64 `mapstructure:"classify_concurrency"`

	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	PriceStaleAfter   time.Duration `mapstructure:"price_stale_after"`

	PostgresDSN  string `mapstructure:"postgres_dsn"`
	RedisURL     string `mapstructure:"redis_url"`
	RedisChannel string `mapstructure:"redis_channel"`
}

var defaults = map[string]interface{}{
	"mint":                 "",
	"rpc_ws":               "wss://api.mainnet-beta.solana.com",
	"rpc_http":             "https://api.mainnet-beta.solana.com",
	"port":                 3000,
	"dexscreener_url":      "https://api.dexscreener.com",
	"public_dir":           "public",
	"build_tag":            "RPC-logs v3b",
	"log_level":            "info",
	"seen_capacity":        100_000,
	"classify_concurrency": 16,
	"refresh_interval":     "10s",
	"keepalive_interval":   "30s",
	"reconnect_delay":      "5s",
	"price_stale_after":    "30s",
	"postgres_dsn":         "",
	"redis_url":            "",
	"redis_channel":        "buywatch:events",
}

// Load reads configuration from environment variables, falling back to
// envFile (dotenv format) and then to defaults. A missing envFile is ignored.
func Load(envFile string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read %s: %w", envFile, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("stat %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Validate checks required settings.
func (c Config) Validate() error {
	if c.Mint == "" {
		return ErrMissingMint
	}
	if _, err := solana.DecodePublicKey(c.Mint); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMint, err)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.RPCWS == "" || c.RPCHTTP == "" {
		return errors.New("RPC_WS and RPC_HTTP must not be empty")
	}
	if c.SeenCapacity <= 0 {
		return fmt.Errorf("invalid SEEN_CAPACITY %d", c.SeenCapacity)
	}
	if c.ClassifyConcurrency <= 0 {
		return fmt.Errorf("invalid CLASSIFY_CONCURRENCY %d", c.ClassifyConcurrency)
	}
	return nil
}
