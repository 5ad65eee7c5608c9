// Package config loads HighTrade's YAML configuration, overlaying
// environment variables for secrets the way the upstream scanner does.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete orchestrator configuration.
type Config struct {
	Orchestrator OrchestratorConfig    `yaml:"orchestrator"`
	Dedup        DedupConfig           `yaml:"dedup"`
	RateLimits   map[string]RateLimit  `yaml:"rate_limits"`
	Defcon       DefconConfig          `yaml:"defcon"`
	Exit         ExitConfig            `yaml:"exit"`
	Sources      map[string]SourceSpec `yaml:"sources"`
	Alerts       AlertsConfig          `yaml:"alerts"`
	Storage      StorageConfig         `yaml:"storage"`
	Log          LogConfig             `yaml:"log"`
}

// OrchestratorConfig controls the main loop and broker gating.
type OrchestratorConfig struct {
	CycleIntervalSec int      `yaml:"cycle_interval_sec"`
	BrokerMode       string   `yaml:"broker_mode"`
	Symbols          []string `yaml:"symbols"`
	IPCDir           string   `yaml:"ipc_dir"`
}

// DedupConfig controls C2's clustering threshold.
type DedupConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// RateLimit configures one source's pacing, keyed by source name in
// the parent map (`rate_limits.<source>.{rpm,min_ms}`).
type RateLimit struct {
	RPM   int `yaml:"rpm"`
	MinMS int `yaml:"min_ms"`
}

// DefconConfig overrides C5's sub-signal weights.
type DefconConfig struct {
	Weights WeightsConfig `yaml:"weights"`
}

// WeightsConfig mirrors signal.Weights for YAML decoding. Zero value
// means "use the package defaults" — see signal.DefaultWeights.
type WeightsConfig struct {
	News     float64 `yaml:"news_score"`
	VIX      float64 `yaml:"vix_component"`
	Yield    float64 `yaml:"yield_component"`
	Drawdown float64 `yaml:"sp500_drawdown"`
	Breaking float64 `yaml:"breaking_bias"`
}

// ExitConfig overrides C6's exit thresholds.
type ExitConfig struct {
	ProfitTarget   float64 `yaml:"profit_target"`
	StopLoss       float64 `yaml:"stop_loss"`
	TrailingStop   float64 `yaml:"trailing_stop"`
	MaxHoldHours   float64 `yaml:"max_hold_hours"`
	MinHoldMinutes float64 `yaml:"min_hold_minutes"`
}

// SourceSpec describes one configured news or market source
// (`sources.<name>.{enabled,endpoint,api_key}`, §6). APIKey is
// populated from the environment, never from the YAML file directly.
type SourceSpec struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"-"`
}

// AlertsConfig names the two channel destinations and the silent
// channel's event allowlist.
type AlertsConfig struct {
	Urgent ChannelConfig `yaml:"urgent"`
	Silent SilentConfig  `yaml:"silent"`
}

type ChannelConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type SilentConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Events   []string `yaml:"events"`
}

// StorageConfig controls where positions, signals, and state persist.
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// LogConfig controls the structured logger's level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the YAML file at path, overlays a .env in the working
// directory (if present) onto per-source API keys, and fills in defaults for any
// field left unset.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// CycleInterval returns the configured main loop period.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Orchestrator.CycleIntervalSec) * time.Second
}

// applyEnvOverrides reads `HIGHTRADE_SOURCE_<NAME>_API_KEY` and log
// overrides from the environment — secrets never live in the YAML file.
func applyEnvOverrides(cfg *Config) {
	for name, spec := range cfg.Sources {
		envKey := "HIGHTRADE_SOURCE_" + strings.ToUpper(strings.ReplaceAll(name, ":", "_")) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			spec.APIKey = v
			cfg.Sources[name] = spec
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("HIGHTRADE_BROKER_MODE"); v != "" {
		cfg.Orchestrator.BrokerMode = v
	}
}

// setDefaults fills in every value named in §6 that was left unset.
func setDefaults(cfg *Config) {
	if cfg.Orchestrator.CycleIntervalSec <= 0 {
		cfg.Orchestrator.CycleIntervalSec = 900
	}
	if cfg.Orchestrator.BrokerMode == "" {
		cfg.Orchestrator.BrokerMode = "disabled"
	}
	if cfg.Orchestrator.IPCDir == "" {
		cfg.Orchestrator.IPCDir = "./hightrade-ipc"
	}
	if cfg.Dedup.SimilarityThreshold <= 0 {
		cfg.Dedup.SimilarityThreshold = 0.6
	}
	if cfg.Exit.ProfitTarget == 0 {
		cfg.Exit.ProfitTarget = 0.05
	}
	if cfg.Exit.StopLoss == 0 {
		cfg.Exit.StopLoss = -0.03
	}
	if cfg.Exit.TrailingStop == 0 {
		cfg.Exit.TrailingStop = -0.02
	}
	if cfg.Exit.MaxHoldHours == 0 {
		cfg.Exit.MaxHoldHours = 72
	}
	if cfg.Exit.MinHoldMinutes == 0 {
		cfg.Exit.MinHoldMinutes = 60
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "hightrade.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
