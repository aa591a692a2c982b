// Package config loads and validates server configuration.
//
// Configuration comes from the environment, optionally overlaid on a YAML
// file (config.yaml) for deployments that prefer files over env vars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration.
type Config struct {
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`

	SupabaseURL        string `yaml:"supabase_url"`
	SupabaseServiceKey string `yaml:"supabase_service_key"`

	Networks NetworksConfig `yaml:"networks"`

	GiphyAPIKey  string `yaml:"giphy_api_key"`
	NeynarAPIKey string `yaml:"neynar_api_key"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// NetworkConfig holds per-network chain access settings.
type NetworkConfig struct {
	RPCURL         string `yaml:"rpc_url"`
	ExplorerAPIURL string `yaml:"explorer_api_url"`
	ExplorerAPIKey string `yaml:"explorer_api_key"`
}

// NetworksConfig holds settings for every supported network.
type NetworksConfig struct {
	Base    NetworkConfig `yaml:"base"`
	Polygon NetworkConfig `yaml:"polygon"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// Load builds a Config from the environment, overlaid on the YAML file at
// path when it exists. Pass "" to skip file loading.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:           8080,
		Environment:    "development",
		LogLevel:       "info",
		AllowedOrigins: []string{"*"},
		SessionTTL:     24 * time.Hour,
		Networks: NetworksConfig{
			Base: NetworkConfig{
				RPCURL:         "https://mainnet.base.org",
				ExplorerAPIURL: "https://api.basescan.org/api",
			},
			Polygon: NetworkConfig{
				RPCURL:         "https://polygon-rpc.com",
				ExplorerAPIURL: "https://api.polygonscan.com/api",
			},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             30,
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.SupabaseURL = v
	}
	if v := os.Getenv("SUPABASE_SERVICE_KEY"); v != "" {
		cfg.SupabaseServiceKey = v
	}
	if v := os.Getenv("BASE_RPC_URL"); v != "" {
		cfg.Networks.Base.RPCURL = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.Networks.Polygon.RPCURL = v
	}
	if v := os.Getenv("BASESCAN_API_KEY"); v != "" {
		cfg.Networks.Base.ExplorerAPIKey = v
	}
	if v := os.Getenv("POLYGONSCAN_API_KEY"); v != "" {
		cfg.Networks.Polygon.ExplorerAPIKey = v
	}
	if v := os.Getenv("GIPHY_API_KEY"); v != "" {
		cfg.GiphyAPIKey = v
	}
	if v := os.Getenv("NEYNAR_API_KEY"); v != "" {
		cfg.NeynarAPIKey = v
	}
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	required := map[string]string{
		"SUPABASE_URL":         c.SupabaseURL,
		"SUPABASE_SERVICE_KEY": c.SupabaseServiceKey,
		"JWT_SECRET":           c.JWTSecret,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("missing required configuration: %s", name)
		}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Networks.Base.RPCURL == "" {
		return fmt.Errorf("missing required configuration: BASE_RPC_URL")
	}
	if c.Networks.Polygon.RPCURL == "" {
		return fmt.Errorf("missing required configuration: POLYGON_RPC_URL")
	}
	return nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "testing"
}
