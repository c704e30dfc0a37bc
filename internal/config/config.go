package config

import (
	"encoding/json"
	"fmt"
	"os"

	"mt5-grid-bot-go/internal/models"
)

// Defaults applied to fields the config file leaves unset.
const (
	DefaultRetryCount     = 3
	DefaultRetryDelayMs   = 2000
	DefaultLoopIntervalMs = 5000
	DefaultDeviation      = 20
	DefaultLotMultiplier  = 1.5
	DefaultDBPath         = "grid_state_db"
)

// Load reads and parses the JSON config file, applies defaults and
// validates the result.
func Load(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := &models.Config{}
	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = DefaultRetryCount
	}
	if cfg.RetryDelayMs <= 0 {
		cfg.RetryDelayMs = DefaultRetryDelayMs
	}
	if cfg.LoopIntervalMs <= 0 {
		cfg.LoopIntervalMs = DefaultLoopIntervalMs
	}
	if cfg.Deviation <= 0 {
		cfg.Deviation = DefaultDeviation
	}
	if cfg.LotMultiplier <= 0 {
		cfg.LotMultiplier = DefaultLotMultiplier
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath
	}
	if cfg.Broker == "" {
		cfg.Broker = "bridge"
	}
}

// Validate checks the configuration for values the bot cannot run with.
func Validate(cfg *models.Config) error {
	if cfg.Symbol == "" {
		return fmt.Errorf("config: symbol is required")
	}
	if cfg.Magic <= 0 {
		return fmt.Errorf("config: magic must be a positive identifier")
	}
	if cfg.DistancePips <= 0 {
		return fmt.Errorf("config: distance_pips must be positive")
	}
	if cfg.InitialLot < 0 {
		return fmt.Errorf("config: initial_lot must not be negative")
	}
	if cfg.InitialLot == 0 && (cfg.RiskPercent <= 0 || cfg.MarginPerLot <= 0) {
		return fmt.Errorf("config: risk_percent and margin_per_lot are required when initial_lot is 0")
	}
	if cfg.MaxDrawdownPct <= 0 || cfg.MaxDrawdownPct > 100 {
		return fmt.Errorf("config: max_drawdown_pct must be in (0, 100]")
	}
	switch cfg.Broker {
	case "bridge":
		if cfg.BridgeURL == "" {
			return fmt.Errorf("config: bridge_url is required for the bridge broker")
		}
	case "binance", "sim":
	default:
		return fmt.Errorf("config: unknown broker %q", cfg.Broker)
	}
	return nil
}
