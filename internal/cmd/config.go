package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pietro1412/fantacontratti/internal/market"
)

// Config is the service configuration loaded from yaml. Timeouts are
// duration strings ("5m", "90s").
type Config struct {
	Market struct {
		AuctionTimeout string `yaml:"auction_timeout"`
		TurnTimeout    string `yaml:"turn_timeout"`
	} `yaml:"market"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// marketConfig resolves the market timing configuration, falling back to
// the defaults for anything unset.
func marketConfig(config *Config) (market.Config, error) {
	cfg := market.DefaultConfig()
	if config == nil {
		return cfg, nil
	}

	if config.Market.AuctionTimeout != "" {
		d, err := time.ParseDuration(config.Market.AuctionTimeout)
		if err != nil {
			return cfg, fmt.Errorf("failed to parse auction_timeout: %w", err)
		}
		cfg.AuctionTimeout = d
	}
	if config.Market.TurnTimeout != "" {
		d, err := time.ParseDuration(config.Market.TurnTimeout)
		if err != nil {
			return cfg, fmt.Errorf("failed to parse turn_timeout: %w", err)
		}
		cfg.TurnTimeout = d
	}

	return cfg, nil
}
