package risk

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"mt5-trading-bot/internal/state"
)

// Engine applies the adaptation rules after each completed trade and
// decides when a symbol may open a new position.
type Engine struct {
	store   *state.Store
	profile Profile
	logger  zerolog.Logger
}

// NewEngine creates an adaptation engine bound to the state store.
func NewEngine(store *state.Store, profile Profile, logger zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		profile: profile,
		logger:  logger.With().Str("component", "risk").Logger(),
	}
}

// Profile returns the active profile.
func (e *Engine) Profile() Profile { return e.profile }

// Adapt records a completed trade and adjusts volume, profit threshold
// and restriction state for the symbol.
func (e *Engine) Adapt(symbol string, profit float64, at time.Time) {
	e.store.RecordTradeResult(symbol, profit, at)

	rate, samples := e.store.WinRate(symbol)
	volume := e.store.Volume(symbol)
	if samples > 0 {
		switch {
		case rate > e.profile.WinRateHigh:
			e.store.SetVolume(symbol, volume*e.profile.WinScale)
		case rate < e.profile.WinRateLow:
			e.store.SetVolume(symbol, volume*e.profile.LossScale)
		}
	}

	threshold := e.store.ProfitThreshold(symbol)
	switch {
	case profit > threshold:
		e.store.SetProfitThreshold(symbol, threshold*e.profile.ThresholdUp)
	case profit < 0:
		e.store.SetProfitThreshold(symbol, threshold*e.profile.ThresholdDown)
	}

	losses := e.store.ConsecutiveLosses(symbol)
	if losses >= e.profile.MaxConsecutiveLosses {
		e.store.Restrict(symbol, at)
		e.logger.Warn().
			Str("symbol", symbol).
			Int("consecutive_losses", losses).
			Msg("symbol restricted after loss streak")
	}

	e.logger.Debug().
		Str("symbol", symbol).
		Float64("profit", profit).
		Float64("win_rate", rate).
		Int("samples", samples).
		Float64("volume", e.store.Volume(symbol)).
		Float64("profit_threshold", e.store.ProfitThreshold(symbol)).
		Msg("adaptation applied")
}

// RecordFailedFill counts a rejected entry toward the loss streak and
// restricts the symbol once the streak reaches the profile limit.
func (e *Engine) RecordFailedFill(symbol string, at time.Time) {
	losses := e.store.BumpConsecutiveLosses(symbol)
	if losses >= e.profile.MaxConsecutiveLosses {
		e.store.Restrict(symbol, at)
		e.logger.Warn().
			Str("symbol", symbol).
			Int("consecutive_losses", losses).
			Msg("symbol restricted after repeated order failures")
	}
}

// EntryVolume returns the volume for the next entry. After a manual
// intervention it is reduced by 0.9 per accumulated consecutive loss.
func (e *Engine) EntryVolume(symbol string) float64 {
	volume := e.store.Volume(symbol)
	if flagged, _ := e.store.ManualIntervention(symbol); flagged {
		losses := e.store.ConsecutiveLosses(symbol)
		volume *= math.Pow(0.9, float64(losses))
	}
	return volume
}

// ShouldTrade reports whether the symbol may open a new position at now,
// with the blocking reason when it may not.
func (e *Engine) ShouldTrade(symbol string, now time.Time) (bool, string) {
	recent := e.store.RecentResults(symbol, 3)
	if len(recent) > 0 {
		sum := 0.0
		best, worst := recent[0].Profit, recent[0].Profit
		for _, tr := range recent {
			sum += tr.Profit
			if tr.Profit > best {
				best = tr.Profit
			}
			if tr.Profit < worst {
				worst = tr.Profit
			}
		}

		last := e.store.LastTradeTime(symbol)
		if sum < 0 && !last.IsZero() && now.Sub(last) < e.profile.TradeCooldown {
			return false, "recent poor performance"
		}
		if best-worst > e.store.ProfitThreshold(symbol)*2 {
			return false, "volatile recent outcomes"
		}
	}

	if restricted, since := e.store.Restriction(symbol); restricted {
		cooldown := e.profile.RestrictionCooldown
		interventions, _ := e.store.ManualIntervention(symbol)
		if interventions {
			cooldown = e.profile.InterventionCooldown
		}
		if now.Sub(since) < cooldown {
			return false, "restricted"
		}
		// Manual-intervention restrictions lift on cooldown alone; loss
		// restrictions also need the win rate back above the recovery bar.
		if !interventions {
			rate, samples := e.store.WinRate(symbol)
			if samples == 0 || rate <= e.profile.WinRateRecovery {
				return false, "win rate not recovered"
			}
		}
		e.store.Unrestrict(symbol)
		e.logger.Info().Str("symbol", symbol).Msg("restriction lifted")
	}

	return true, ""
}
