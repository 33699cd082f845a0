package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file. Values layer in order:
// built-in defaults, the config file, a config.local.yaml sitting next
// to it, then SW_* environment variables. ${VAR} references inside the
// YAML are expanded before parsing.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Unmarshalling the local overlay into the same struct leaves keys
	// it does not mention untouched.
	local := filepath.Join(filepath.Dir(path), "config.local.yaml")
	if data, err := os.ReadFile(local); err == nil {
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", local, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets SW_* variables override individual settings
// without editing the config file. Unparseable values are skipped with
// a warning rather than failing startup.
func applyEnvOverrides(cfg *AppConfig) {
	setString("SW_RPC_URL", &cfg.RPC.URL)
	setString("SW_RPC_USER", &cfg.RPC.User)
	setString("SW_RPC_PASS", &cfg.RPC.Password)

	setInt("SW_POLL_SECS", &cfg.Polling.PollSecs)
	setInt("SW_ROLLING_WINDOW_MINS", &cfg.Polling.RollingWindowMins)

	setString("SW_ALERT_WEBHOOK", &cfg.Alerts.WebhookURL)
	setInt("SW_ALERT_MIN_CHANGE_SECS", &cfg.Alerts.MinChangeSecs)

	setBool("SW_SPIKE_ENABLED", &cfg.Spike.Enabled)
	setFloat("SW_SPIKE_PCT", &cfg.Spike.SpikePct)
	setInt64("SW_SPIKE_MIN_ALERT_SATVB", &cfg.Spike.MinAlertSatVB)
	setInt("SW_SPIKE_COOLDOWN_MINS", &cfg.Spike.CooldownMinutes)

	setString("SW_CONSOLIDATE_LABEL", &cfg.Consolidation.Label)
	setInt64("SW_CONSOLIDATE_MIN_UTXO_SATS", &cfg.Consolidation.MinUTXOSats)
	setInt("SW_CONSOLIDATE_MAX_INPUTS", &cfg.Consolidation.MaxInputs)
	setString("SW_CONSOLIDATE_TARGET_ADDR", &cfg.Consolidation.TargetAddress)
	setInt64("SW_CONSOLIDATE_MIN_TRIGGER_SATVB", &cfg.Consolidation.MinTriggerSatVB)
	setInt("SW_PSBT_COOLDOWN_SECS", &cfg.Consolidation.PSBTCooldownSecs)

	setBool("SW_EVENT_WATCHER_ENABLED", &cfg.EventWatcher.Enabled)
	setInt("SW_EVENT_POLL_INTERVAL", &cfg.EventWatcher.PollIntervalSecs)
	setString("SW_EVENT_WEBHOOK_URL", &cfg.EventWatcher.Events.WebhookURL)

	setString("SW_LOG_LEVEL", &cfg.Logging.Level)
}

func setString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid env override", "key", key, "value", v)
		return
	}
	*dst = n
}

func setInt64(key string, dst *int64) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("ignoring invalid env override", "key", key, "value", v)
		return
	}
	*dst = n
}

func setBool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring invalid env override", "key", key, "value", v)
		return
	}
	*dst = b
}

func setFloat(key string, dst *float64) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring invalid env override", "key", key, "value", v)
		return
	}
	*dst = f
}
