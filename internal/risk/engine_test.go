package risk

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mt5-trading-bot/internal/state"
)

func newTestEngine(t *testing.T, profileName string) (*Engine, *state.Store) {
	t.Helper()
	store := state.NewStore()
	store.Register("EURUSD", 0.1, 10.0, 5.0)
	profile, err := BuiltinProfile(profileName)
	if err != nil {
		t.Fatalf("loading profile: %v", err)
	}
	return NewEngine(store, profile, zerolog.Nop()), store
}

func TestAdaptScalesVolumeUpOnHighWinRate(t *testing.T) {
	eng, store := newTestEngine(t, "MODERATE")
	now := time.Now()

	// 9 wins then a 10th: win rate 1.0, each win scales volume by 1.2.
	for i := 0; i < 10; i++ {
		eng.Adapt("EURUSD", 5.0, now)
	}

	// Capped at twice base regardless of streak length.
	if got := store.Volume("EURUSD"); got != 0.2 {
		t.Errorf("volume = %v, want cap 0.2", got)
	}
}

func TestAdaptScalesVolumeDownOnLowWinRate(t *testing.T) {
	eng, store := newTestEngine(t, "MODERATE")
	now := time.Now()

	for i := 0; i < 10; i++ {
		eng.Adapt("EURUSD", -1.0, now)
	}

	// Floored at half base.
	if got := store.Volume("EURUSD"); got != 0.05 {
		t.Errorf("volume = %v, want floor 0.05", got)
	}
}

func TestAdaptThresholds(t *testing.T) {
	tests := []struct {
		name   string
		profit float64
		want   float64
	}{
		{name: "big win raises threshold", profit: 15.0, want: 11.0},
		{name: "loss lowers threshold", profit: -2.0, want: 9.0},
		{name: "small win leaves threshold", profit: 3.0, want: 10.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, store := newTestEngine(t, "MODERATE")
			eng.Adapt("EURUSD", tt.profit, time.Now())
			if got := store.ProfitThreshold("EURUSD"); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("threshold = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestThresholdNeverBelowMinimum(t *testing.T) {
	eng, store := newTestEngine(t, "MODERATE")
	now := time.Now()
	for i := 0; i < 20; i++ {
		eng.Adapt("EURUSD", -1.0, now)
	}
	if got := store.ProfitThreshold("EURUSD"); got != 5.0 {
		t.Errorf("threshold = %v, want minimum 5.0", got)
	}
}

func TestRestrictionAfterConsecutiveLosses(t *testing.T) {
	eng, store := newTestEngine(t, "MODERATE")
	now := time.Now()

	eng.Adapt("EURUSD", -1.0, now)
	eng.Adapt("EURUSD", -1.0, now)
	if restricted, _ := store.Restriction("EURUSD"); restricted {
		t.Fatal("restricted after 2 losses, want 3")
	}

	eng.Adapt("EURUSD", -1.0, now)
	if restricted, _ := store.Restriction("EURUSD"); !restricted {
		t.Error("not restricted after 3 consecutive losses")
	}
}

func TestShouldTradeRestrictionCooldown(t *testing.T) {
	eng, store := newTestEngine(t, "MODERATE")
	now := time.Now()

	// Healthy history so the win-rate recovery bar is already met.
	for i := 0; i < 4; i++ {
		store.RecordTradeResult("EURUSD", 2.0, now)
	}
	store.Restrict("EURUSD", now)

	if ok, reason := eng.ShouldTrade("EURUSD", now.Add(30*time.Minute)); ok {
		t.Error("trade allowed inside restriction cooldown")
	} else if reason != "restricted" {
		t.Errorf("reason = %q, want restricted", reason)
	}

	// After the cooldown, recovered win rate lifts the restriction.
	if ok, reason := eng.ShouldTrade("EURUSD", now.Add(61*time.Minute)); !ok {
		t.Errorf("trade blocked after cooldown: %s", reason)
	}
	if restricted, _ := store.Restriction("EURUSD"); restricted {
		t.Error("restriction not lifted after cooldown")
	}
}

func TestShouldTradeRestrictionNeedsWinRateRecovery(t *testing.T) {
	eng, store := newTestEngine(t, "MODERATE")
	now := time.Now()

	store.RecordTradeResult("EURUSD", -1.0, now)
	store.RecordTradeResult("EURUSD", -1.0, now)
	store.Restrict("EURUSD", now)

	// Cooldown has elapsed but the win rate is still zero.
	ok, reason := eng.ShouldTrade("EURUSD", now.Add(2*time.Hour))
	if ok {
		t.Error("trade allowed with unrecovered win rate")
	}
	if !containsSubstring(reason, "win rate") {
		t.Errorf("reason = %q, want win rate block", reason)
	}
}

func TestShouldTradeInterventionUsesShortCooldown(t *testing.T) {
	eng, store := newTestEngine(t, "MODERATE")
	now := time.Now()
	store.MarkManualIntervention("EURUSD", now)
	store.Restrict("EURUSD", now)

	if ok, _ := eng.ShouldTrade("EURUSD", now.Add(2*time.Minute)); ok {
		t.Error("trade allowed inside intervention cooldown")
	}
	// Lifts on cooldown alone, no win-rate requirement.
	if ok, reason := eng.ShouldTrade("EURUSD", now.Add(6*time.Minute)); !ok {
		t.Errorf("trade blocked after intervention cooldown: %s", reason)
	}
}

func TestShouldTradeRecentPoorPerformance(t *testing.T) {
	eng, store := newTestEngine(t, "MODERATE")
	now := time.Now()

	for _, profit := range []float64{-10, -8, -5} {
		store.RecordTradeResult("EURUSD", profit, now)
	}
	store.SetLastTradeTime("EURUSD", now)

	if ok, reason := eng.ShouldTrade("EURUSD", now.Add(60*time.Second)); ok {
		t.Error("trade allowed with losing streak inside cooldown")
	} else if reason != "recent poor performance" {
		t.Errorf("reason = %q, want recent poor performance", reason)
	}

	// Outside the cooldown the streak alone does not block.
	if ok, reason := eng.ShouldTrade("EURUSD", now.Add(121*time.Second)); !ok {
		t.Errorf("trade blocked after cooldown: %s", reason)
	}
}

func TestShouldTradeVolatileOutcomes(t *testing.T) {
	eng, store := newTestEngine(t, "MODERATE")
	now := time.Now()

	// Spread of 55 against a threshold of 10: blocked even though the
	// sum is positive.
	for _, profit := range []float64{30, -25, 2} {
		store.RecordTradeResult("EURUSD", profit, now)
	}

	ok, reason := eng.ShouldTrade("EURUSD", now.Add(time.Hour))
	if ok {
		t.Error("trade allowed with volatile recent outcomes")
	}
	if !containsSubstring(reason, "volatile") {
		t.Errorf("reason = %q, want volatility block", reason)
	}
}

func TestEntryVolumeAfterIntervention(t *testing.T) {
	eng, store := newTestEngine(t, "MODERATE")
	now := time.Now()

	store.RecordTradeResult("EURUSD", -1.0, now)
	store.RecordTradeResult("EURUSD", -1.0, now)
	store.MarkManualIntervention("EURUSD", now)

	want := 0.1 * 0.9 * 0.9
	if got := eng.EntryVolume("EURUSD"); math.Abs(got-want) > 1e-9 {
		t.Errorf("entry volume = %v, want %v", got, want)
	}
}

func TestConservativeProfileMultipliers(t *testing.T) {
	eng, store := newTestEngine(t, "CONSERVATIVE")
	now := time.Now()

	eng.Adapt("EURUSD", 15.0, now)
	if got := store.ProfitThreshold("EURUSD"); math.Abs(got-10.5) > 1e-9 {
		t.Errorf("threshold = %v, want 10.5", got)
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestFailedFillsExtendLossStreak(t *testing.T) {
	eng, store := newTestEngine(t, "MODERATE")
	now := time.Now()

	eng.RecordFailedFill("EURUSD", now)
	eng.RecordFailedFill("EURUSD", now)
	if got := store.ConsecutiveLosses("EURUSD"); got != 2 {
		t.Fatalf("consecutive losses = %d, want 2", got)
	}
	if restricted, _ := store.Restriction("EURUSD"); restricted {
		t.Fatal("restricted after 2 failed fills, want 3")
	}

	eng.RecordFailedFill("EURUSD", now)
	if restricted, _ := store.Restriction("EURUSD"); !restricted {
		t.Error("not restricted after 3 failed fills")
	}

	// A winning trade clears the streak the failures built up.
	store.Unrestrict("EURUSD")
	eng.RecordFailedFill("EURUSD", now)
	eng.Adapt("EURUSD", 5.0, now)
	if got := store.ConsecutiveLosses("EURUSD"); got != 0 {
		t.Fatalf("consecutive losses after a win = %d, want 0", got)
	}
}
