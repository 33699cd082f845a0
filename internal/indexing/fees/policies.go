package fees

import "math"

// SpikeConfig controls spike alerting and the adjustment proposal
// attached to spike payloads.
type SpikeConfig struct {
	Enabled         bool            `yaml:"enabled"`
	SpikePct        float64         `yaml:"spike_pct"`
	MinAlertSatVB   int64           `yaml:"min_alert_satvb"`
	CooldownMinutes int             `yaml:"cooldown_minutes"`
	Rules           AdjustmentRules `yaml:"adjustment_rules"`
}

// AdjustmentRules shapes the suggested fee target floor.
type AdjustmentRules struct {
	TargetFloorSatVB int64   `yaml:"target_sat_vb_floor"`
	BumpPct          float64 `yaml:"bump_pct_if_queue_backlog"`
	DropPct          float64 `yaml:"drop_pct_if_clearing_fast"`
}

// ShouldAlertSpike reports whether the current median sits far enough
// above the trailing average to warrant a spike alert. Quiet markets
// (below the alert floor) and empty windows never alert.
func ShouldAlertSpike(current, trailAvg float64, cfg SpikeConfig) bool {
	if !cfg.Enabled {
		return false
	}
	if current < float64(cfg.MinAlertSatVB) {
		return false
	}
	if trailAvg <= 0 {
		return false
	}
	pct := 100 * (current - trailAvg) / trailAvg
	return pct >= cfg.SpikePct
}

// Adjustment is a suggested floor for the wallet's target fee rate.
type Adjustment struct {
	Type      string          `json:"type"`
	Suggested int64           `json:"suggested_target_sat_vb"`
	Basis     AdjustmentBasis `json:"basis"`
}

// AdjustmentBasis records the observations behind a suggestion.
type AdjustmentBasis struct {
	CurrentSatVB     float64 `json:"current_sat_vb"`
	TrailingAvgSatVB float64 `json:"trailing_avg_sat_vb"`
	Backlog          bool    `json:"backlog"`
}

// ProposeAdjustment suggests a new target floor: bump above the current
// rate while the queue is backing up, otherwise drop toward the trailing
// average, never below the configured floor.
func ProposeAdjustment(current, trailAvg float64, rules AdjustmentRules) Adjustment {
	backlog := current > trailAvg

	var suggested int64
	if backlog {
		suggested = int64(math.Round(current * (1 + rules.BumpPct/100)))
	} else {
		suggested = int64(math.Round(trailAvg * (1 - rules.DropPct/100)))
	}
	if suggested < rules.TargetFloorSatVB {
		suggested = rules.TargetFloorSatVB
	}

	return Adjustment{
		Type:      "policy_adjustment_suggestion",
		Suggested: suggested,
		Basis: AdjustmentBasis{
			CurrentSatVB:     round2(current),
			TrailingAvgSatVB: round2(trailAvg),
			Backlog:          backlog,
		},
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
