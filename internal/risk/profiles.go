// Package risk adapts per-symbol sizing and thresholds from trade
// outcomes, and gates new entries.
package risk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile holds the adaptation multipliers. Profiles are policy inputs:
// the same engine runs any of them.
type Profile struct {
	Name string `yaml:"name"`

	// Win-rate driven volume scaling over the rolling trade window.
	WinRateHigh float64 `yaml:"win_rate_high"` // scale up above this
	WinRateLow  float64 `yaml:"win_rate_low"`  // scale down below this
	WinScale    float64 `yaml:"win_scale"`
	LossScale   float64 `yaml:"loss_scale"`

	// Win rate a restricted symbol must recover above before the
	// restriction lifts (once the cooldown has elapsed).
	WinRateRecovery float64 `yaml:"win_rate_recovery"`

	// Profit threshold adjustment.
	ThresholdUp   float64 `yaml:"threshold_up"`
	ThresholdDown float64 `yaml:"threshold_down"`

	MaxConsecutiveLosses int `yaml:"max_consecutive_losses"`

	// How long a restriction lasts before the symbol is eligible again.
	RestrictionCooldown time.Duration `yaml:"restriction_cooldown"`
	// Shorter cooldown applied after manual intervention restrictions.
	InterventionCooldown time.Duration `yaml:"intervention_cooldown"`

	// Minimum pause between entries on the same symbol.
	TradeCooldown time.Duration `yaml:"trade_cooldown"`
}

// Built-in profiles, used when no profile directory is configured.
var builtinProfiles = map[string]Profile{
	"MODERATE": {
		Name:                 "MODERATE",
		WinRateHigh:          0.6,
		WinRateLow:           0.4,
		WinScale:             1.2,
		LossScale:            0.8,
		WinRateRecovery:      0.4,
		ThresholdUp:          1.1,
		ThresholdDown:        0.9,
		MaxConsecutiveLosses: 3,
		RestrictionCooldown:  time.Hour,
		InterventionCooldown: 5 * time.Minute,
		TradeCooldown:        120 * time.Second,
	},
	"CONSERVATIVE": {
		Name:                 "CONSERVATIVE",
		WinRateHigh:          0.6,
		WinRateLow:           0.4,
		WinScale:             1.1,
		LossScale:            0.9,
		WinRateRecovery:      0.4,
		ThresholdUp:          1.05,
		ThresholdDown:        0.95,
		MaxConsecutiveLosses: 3,
		RestrictionCooldown:  time.Hour,
		InterventionCooldown: 5 * time.Minute,
		TradeCooldown:        120 * time.Second,
	},
	"AGGRESSIVE": {
		Name:                 "AGGRESSIVE",
		WinRateHigh:          0.6,
		WinRateLow:           0.4,
		WinScale:             1.3,
		LossScale:            0.85,
		WinRateRecovery:      0.4,
		ThresholdUp:          1.15,
		ThresholdDown:        0.9,
		MaxConsecutiveLosses: 4,
		RestrictionCooldown:  30 * time.Minute,
		InterventionCooldown: 5 * time.Minute,
		TradeCooldown:        120 * time.Second,
	},
}

// BuiltinProfile returns one of the compiled-in profiles.
func BuiltinProfile(name string) (Profile, error) {
	p, ok := builtinProfiles[strings.ToUpper(name)]
	if !ok {
		return Profile{}, fmt.Errorf("unknown risk profile %q", name)
	}
	return p, nil
}

// LoadProfile loads a named profile. When dir is non-empty it reads
// <dir>/<name>.yaml, with missing fields filled from the built-in profile
// of the same name (or MODERATE). Otherwise the built-in profile is used.
func LoadProfile(dir, name string) (Profile, error) {
	base, err := BuiltinProfile(name)
	if err != nil {
		base = builtinProfiles["MODERATE"]
	}

	if dir == "" {
		if err != nil {
			return Profile{}, err
		}
		return base, nil
	}

	path := filepath.Join(dir, strings.ToLower(name)+".yaml")
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) && err == nil {
			return base, nil
		}
		return Profile{}, fmt.Errorf("reading risk profile %s: %w", path, readErr)
	}

	p := base
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parsing risk profile %s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.ToUpper(name)
	}
	return p, nil
}
