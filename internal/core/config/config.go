// Package config loads the watcher configuration tree: a YAML file with
// optional local overrides and SW_* environment variables on top.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/satwatch/satwatch/internal/core/registry"
	"github.com/satwatch/satwatch/internal/indexing/emitter"
	"github.com/satwatch/satwatch/internal/indexing/fees"
	"github.com/satwatch/satwatch/internal/indexing/filter"
	"github.com/satwatch/satwatch/internal/infra/rpc"
)

// AppConfig is the top-level configuration.
type AppConfig struct {
	RPC           RPCConfig                `yaml:"rpc"`
	Polling       PollingConfig            `yaml:"polling"`
	Alerts        AlertsConfig             `yaml:"alerts"`
	Spike         fees.SpikeConfig         `yaml:"spike_detection"`
	Consolidation fees.ConsolidationConfig `yaml:"consolidation"`
	Logging       LoggingConfig            `yaml:"logging"`
	EventWatcher  EventWatcherConfig       `yaml:"event_watcher"`
	Output        OutputConfig             `yaml:"structured_output"`
	Health        HealthConfig             `yaml:"health"`
}

// RPCConfig holds the Bitcoin Core endpoint settings.
type RPCConfig struct {
	URL         string `yaml:"url"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// ClientConfig converts to the RPC client's own config type.
func (c RPCConfig) ClientConfig() rpc.Config {
	return rpc.Config{
		URL:      c.URL,
		User:     c.User,
		Password: c.Password,
		Timeout:  time.Duration(c.TimeoutSecs) * time.Second,
	}
}

// PollingConfig paces the fee stream.
type PollingConfig struct {
	PollSecs          int `yaml:"poll_secs"`
	RollingWindowMins int `yaml:"rolling_window_mins"`
}

func (c PollingConfig) PollInterval() time.Duration {
	return time.Duration(c.PollSecs) * time.Second
}

func (c PollingConfig) RollingWindow() time.Duration {
	return time.Duration(c.RollingWindowMins) * time.Minute
}

// AlertsConfig holds the fee alert webhook settings.
type AlertsConfig struct {
	WebhookURL    string `yaml:"webhook_url"`
	MinChangeSecs int    `yaml:"min_change_secs"`
}

func (c AlertsConfig) MinChange() time.Duration {
	return time.Duration(c.MinChangeSecs) * time.Second
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// EventWatcherConfig holds the block watching stream settings.
type EventWatcherConfig struct {
	Enabled          bool           `yaml:"enabled"`
	PollIntervalSecs int            `yaml:"poll_interval_secs"`
	MaxReorgDepth    int64          `yaml:"max_reorg_depth"`
	Filters          FiltersConfig  `yaml:"filters"`
	Events           emitter.Config `yaml:"events"`
	State            StateConfig    `yaml:"state"`
	Metrics          MetricsConfig  `yaml:"metrics"`
}

func (c EventWatcherConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

// FiltersConfig mirrors the per-detector config sections.
type FiltersConfig struct {
	Treasury  TreasuryFilter  `yaml:"treasury"`
	Ordinals  OrdinalsFilter  `yaml:"ordinals"`
	Covenants CovenantsFilter `yaml:"covenants"`
}

// TreasuryFilter configures the treasury detector. The registry sections
// (addresses, famous_addresses, clusters, address_files) sit inline.
type TreasuryFilter struct {
	Enabled         bool `yaml:"enabled"`
	registry.Config `yaml:",inline"`
	WatchInputs     bool `yaml:"watch_inputs"`
	WatchOutputs    bool `yaml:"watch_outputs"`
}

// OrdinalsFilter configures inscription detection.
type OrdinalsFilter struct {
	Enabled            bool             `yaml:"enabled"`
	DetectInscriptions bool             `yaml:"detect_inscriptions"`
	Hotspots           []filter.Hotspot `yaml:"hotspots"`
}

// CovenantsFilter configures covenant script detection.
type CovenantsFilter struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

// FilterConfig flattens the detector sections into the filter's config.
// A disabled detector contributes nothing regardless of its sub-flags.
func (c FiltersConfig) FilterConfig() filter.Config {
	return filter.Config{
		WatchInputs:      c.Treasury.Enabled && c.Treasury.WatchInputs,
		WatchOutputs:     c.Treasury.Enabled && c.Treasury.WatchOutputs,
		DetectOrdinals:   c.Ordinals.Enabled && c.Ordinals.DetectInscriptions,
		OrdinalHotspots:  c.Ordinals.Hotspots,
		DetectCovenants:  c.Covenants.Enabled,
		CovenantPatterns: c.Covenants.Patterns,
	}
}

// RegistryConfig exposes the treasury address sections.
func (c FiltersConfig) RegistryConfig() registry.Config {
	return c.Treasury.Config
}

// ApplyEventMode narrows the enabled detectors to a single category.
// "all" (or empty) leaves the configured flags alone.
func (c *FiltersConfig) ApplyEventMode(mode string) error {
	switch mode {
	case "", "all":
	case "treasury":
		c.Treasury.Enabled, c.Ordinals.Enabled, c.Covenants.Enabled = true, false, false
	case "ordinals":
		c.Treasury.Enabled, c.Ordinals.Enabled, c.Covenants.Enabled = false, true, false
	case "covenants":
		c.Treasury.Enabled, c.Ordinals.Enabled, c.Covenants.Enabled = false, false, true
	default:
		return fmt.Errorf("unknown event mode %q (want treasury, ordinals, covenants or all)", mode)
	}
	return nil
}

// StateConfig selects and locates the processed-state backend.
type StateConfig struct {
	Backend  string `yaml:"backend"` // sqlite, json
	DBPath   string `yaml:"db_path"`
	JSONPath string `yaml:"json_path"`
}

// MetricsConfig controls the periodic counter log line.
type MetricsConfig struct {
	Enabled         bool `yaml:"enabled"`
	LogIntervalSecs int  `yaml:"log_interval_secs"`
}

func (c MetricsConfig) LogInterval() time.Duration {
	return time.Duration(c.LogIntervalSecs) * time.Second
}

// OutputConfig controls the durable JSONL sink.
type OutputConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseDir string `yaml:"base_dir"`
}

// HealthConfig controls the HTTP health and metrics endpoint.
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// FeeConfig assembles the fee runner's config from the relevant sections.
func (c *AppConfig) FeeConfig() fees.Config {
	return fees.Config{
		PollInterval: c.Polling.PollInterval(),
		Window:       c.Polling.RollingWindow(),
		Spike:        c.Spike,
		PSBTCooldown: time.Duration(c.Consolidation.PSBTCooldownSecs) * time.Second,
	}
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		RPC: RPCConfig{
			URL:         "http://127.0.0.1:8332",
			User:        "bitcoin",
			TimeoutSecs: 10,
		},
		Polling: PollingConfig{PollSecs: 60, RollingWindowMins: 60},
		Alerts:  AlertsConfig{MinChangeSecs: 300},
		Spike: fees.SpikeConfig{
			Enabled:         true,
			SpikePct:        35,
			MinAlertSatVB:   15,
			CooldownMinutes: 20,
			Rules: fees.AdjustmentRules{
				TargetFloorSatVB: 12,
				BumpPct:          20,
				DropPct:          15,
			},
		},
		Consolidation: fees.ConsolidationConfig{
			Label:            "satwatch",
			MinUTXOSats:      546,
			MaxInputs:        50,
			MinTriggerSatVB:  5,
			PSBTCooldownSecs: 3600,
		},
		Logging: LoggingConfig{Level: "info"},
		EventWatcher: EventWatcherConfig{
			PollIntervalSecs: 10,
			MaxReorgDepth:    6,
			Filters: FiltersConfig{
				Treasury: TreasuryFilter{WatchInputs: true, WatchOutputs: true},
				Ordinals: OrdinalsFilter{DetectInscriptions: true},
			},
			Events: emitter.Config{RetryAttempts: 3, RetryBackoffSecs: 5},
			State: StateConfig{
				Backend:  "sqlite",
				DBPath:   "state/satwatch.db",
				JSONPath: "state/satwatch.json",
			},
			Metrics: MetricsConfig{Enabled: true, LogIntervalSecs: 300},
		},
		Output: OutputConfig{BaseDir: "logs/structured"},
		Health: HealthConfig{Port: 8080},
	}
}

// Validate checks the invariants the watcher relies on.
func (c *AppConfig) Validate() error {
	if c.RPC.URL == "" {
		return errors.New("rpc.url is required")
	}
	switch c.EventWatcher.State.Backend {
	case "sqlite", "json":
	default:
		return fmt.Errorf("unknown state backend %q (want sqlite or json)", c.EventWatcher.State.Backend)
	}
	if c.Polling.PollSecs <= 0 {
		return errors.New("polling.poll_secs must be positive")
	}
	if c.Polling.RollingWindowMins <= 0 {
		return errors.New("polling.rolling_window_mins must be positive")
	}
	if c.EventWatcher.PollIntervalSecs <= 0 {
		return errors.New("event_watcher.poll_interval_secs must be positive")
	}
	if c.EventWatcher.MaxReorgDepth <= 0 {
		return errors.New("event_watcher.max_reorg_depth must be positive")
	}
	return nil
}
