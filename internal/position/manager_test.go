package position

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mt5-trading-bot/internal/events"
	"mt5-trading-bot/internal/mt5"
	"mt5-trading-bot/internal/risk"
	"mt5-trading-bot/internal/state"
)

func newTestManager(t *testing.T, symbol string, baseVolume, profitThreshold float64) (*Manager, *mt5.MockClient, *state.Store) {
	t.Helper()
	client := mt5.NewMockClient()
	store := state.NewStore()
	store.Register(symbol, baseVolume, profitThreshold, 1.0)
	profile, err := risk.BuiltinProfile("MODERATE")
	if err != nil {
		t.Fatalf("BuiltinProfile: %v", err)
	}
	eng := risk.NewEngine(store, profile, zerolog.Nop())
	mgr := NewManager(DefaultConfig(), client, store, state.NewGlobalState(false), eng, events.NewEventBus(), zerolog.Nop())
	return mgr, client, store
}

// rangeBars produces bars with a constant true range so the ATR is
// exactly spread.
func rangeBars(n int, close, spread float64) []mt5.Bar {
	bars := make([]mt5.Bar, n)
	for i := range bars {
		bars[i] = mt5.Bar{
			Time:  time.Now().Add(time.Duration(i-n) * time.Minute),
			Open:  close,
			High:  close + spread/2,
			Low:   close - spread/2,
			Close: close,
		}
	}
	return bars
}

func TestBreakevenSetsStopOnceAndStaysPut(t *testing.T) {
	mgr, client, _ := newTestManager(t, "EURUSD", 0.10, 1000)

	// 22 profit pips with volume 0.10 and point 0.0001.
	ticket := client.AddPosition(mt5.Position{
		Symbol:       "EURUSD",
		Side:         mt5.Buy,
		Volume:       0.10,
		OpenPrice:    1.1000,
		CurrentPrice: 1.1030,
		Profit:       22 * 0.0001 * 0.10,
		OpenTime:     time.Now(),
	})

	if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}

	p, ok := client.GetPosition(ticket)
	if !ok {
		t.Fatal("position closed unexpectedly")
	}
	want := 1.1000 + 5*0.0001
	if diff := p.StopLoss - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("stop loss = %v, want %v", p.StopLoss, want)
	}
	if len(client.Modifications) != 1 {
		t.Fatalf("modifications = %d, want 1", len(client.Modifications))
	}

	// Same profit on the next cycle must not touch the stop again.
	if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}
	if len(client.Modifications) != 1 {
		t.Fatalf("modifications after second cycle = %d, want 1", len(client.Modifications))
	}
}

func TestTrailingStopOnlyTightens(t *testing.T) {
	mgr, client, _ := newTestManager(t, "EURUSD", 0.10, 1000)
	client.SetBars("EURUSD", rangeBars(20, 1.1000, 0.0010))

	// 10 pips of profit: above nothing, below the breakeven trigger, so
	// only the trailing path runs.
	ticket := client.AddPosition(mt5.Position{
		Symbol:       "EURUSD",
		Side:         mt5.Buy,
		Volume:       0.10,
		OpenPrice:    1.1000,
		CurrentPrice: 1.1050,
		Profit:       10 * 0.0001 * 0.10,
		OpenTime:     time.Now(),
	})

	advance := func(price float64) float64 {
		p, ok := client.GetPosition(ticket)
		if !ok {
			t.Fatal("position closed unexpectedly")
		}
		p.CurrentPrice = price
		client.AddPosition(p)
		if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
			t.Fatalf("ManagePositions: %v", err)
		}
		p, _ = client.GetPosition(ticket)
		return p.StopLoss
	}

	// The first cycle only records the price extreme.
	if got := advance(1.1050); got != 0 {
		t.Fatalf("stop set before a new high: %v", got)
	}

	// A new high trails the stop behind it.
	first := advance(1.1060)
	if first <= 0 {
		t.Fatal("expected a trailing stop after a new high")
	}

	// Price retreat: no new high, stop untouched.
	if got := advance(1.1055); got != first {
		t.Fatalf("stop moved on price retreat: %v -> %v", first, got)
	}

	// Another high may only move the stop up.
	second := advance(1.1070)
	if second <= first {
		t.Fatalf("stop did not tighten on new high: %v -> %v", first, second)
	}
}

func TestAgeExitClosesStaleLosers(t *testing.T) {
	mgr, client, _ := newTestManager(t, "EURUSD", 0.10, 1000)

	stale := client.AddPosition(mt5.Position{
		Symbol:       "EURUSD",
		Side:         mt5.Buy,
		Volume:       0.10,
		OpenPrice:    1.1000,
		CurrentPrice: 1.0995,
		Profit:       -0.50,
		OpenTime:     time.Now().Add(-time.Minute),
	})

	if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}
	if _, ok := client.GetPosition(stale); ok {
		t.Fatal("stale losing position still open")
	}
	if len(client.Closes) != 1 || client.Closes[0].Comment != "age" {
		t.Fatalf("closes = %+v, want one age close", client.Closes)
	}
}

func TestAgeExitSparesWinners(t *testing.T) {
	mgr, client, _ := newTestManager(t, "EURUSD", 0.10, 1000)

	winner := client.AddPosition(mt5.Position{
		Symbol:       "EURUSD",
		Side:         mt5.Buy,
		Volume:       0.10,
		OpenPrice:    1.1000,
		CurrentPrice: 1.1001,
		Profit:       0.10,
		OpenTime:     time.Now().Add(-time.Hour),
	})

	if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}
	if _, ok := client.GetPosition(winner); !ok {
		t.Fatal("old winning position was closed")
	}
}

func TestHardLossClosesImmediately(t *testing.T) {
	mgr, client, _ := newTestManager(t, "EURUSD", 0.10, 1000)

	ticket := client.AddPosition(mt5.Position{
		Symbol:       "EURUSD",
		Side:         mt5.Sell,
		Volume:       0.10,
		OpenPrice:    1.1000,
		CurrentPrice: 1.1100,
		Profit:       -20,
		OpenTime:     time.Now(),
	})

	if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}
	if _, ok := client.GetPosition(ticket); ok {
		t.Fatal("hard loss position still open")
	}
	if len(client.Closes) != 1 || client.Closes[0].Comment != "hard_loss" {
		t.Fatalf("closes = %+v, want one hard_loss close", client.Closes)
	}
}

func TestReversalClosesAndOpensOpposite(t *testing.T) {
	mgr, client, store := newTestManager(t, "EURUSD", 0.10, 1000)
	client.SetQuote("EURUSD", mt5.Quote{Symbol: "EURUSD", Bid: 1.0949, Ask: 1.0951, Time: time.Now()})

	ticket := client.AddPosition(mt5.Position{
		Symbol:       "EURUSD",
		Side:         mt5.Buy,
		Volume:       0.10,
		OpenPrice:    1.1000,
		CurrentPrice: 1.0950,
		Profit:       -12.5,
		OpenTime:     time.Now(),
	})
	store.TrackPosition("EURUSD", ticket)

	if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}

	if len(client.Closes) != 1 {
		t.Fatalf("closes = %d, want exactly 1", len(client.Closes))
	}
	if client.Closes[0].Comment != "reversal" {
		t.Fatalf("close comment = %q, want reversal", client.Closes[0].Comment)
	}
	if len(client.SubmittedOrders) != 1 {
		t.Fatalf("orders = %d, want exactly 1", len(client.SubmittedOrders))
	}
	order := client.SubmittedOrders[0]
	if order.Side != mt5.Sell {
		t.Fatalf("reversal side = %v, want sell", order.Side)
	}
	// 0.10 * 1.5, within twice the base volume and on the lot step.
	if diff := order.Volume - 0.15; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("reversal volume = %v, want 0.15", order.Volume)
	}
	if order.Price != 1.0949 {
		t.Fatalf("reversal price = %v, want bid 1.0949", order.Price)
	}
}

func TestReversalVolumeStaysInBounds(t *testing.T) {
	mgr, client, store := newTestManager(t, "EURUSD", 0.10, 1000)
	client.SetQuote("EURUSD", mt5.Quote{Symbol: "EURUSD", Bid: 1.0949, Ask: 1.0951, Time: time.Now()})
	store.SetVolume("EURUSD", 0.20) // already at the adaptive cap

	client.AddPosition(mt5.Position{
		Symbol:       "EURUSD",
		Side:         mt5.Sell,
		Volume:       0.20,
		OpenPrice:    1.0900,
		CurrentPrice: 1.0950,
		Profit:       -13,
		OpenTime:     time.Now(),
	})

	if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}
	if len(client.SubmittedOrders) != 1 {
		t.Fatalf("orders = %d, want 1", len(client.SubmittedOrders))
	}
	// 0.20 * 1.5 = 0.30 must clamp to twice the 0.10 base volume.
	if diff := client.SubmittedOrders[0].Volume - 0.20; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("reversal volume = %v, want clamped 0.20", client.SubmittedOrders[0].Volume)
	}
}

func TestScaleUpFiresOncePerTier(t *testing.T) {
	mgr, client, _ := newTestManager(t, "EURUSD", 0.10, 10)

	client.AddPosition(mt5.Position{
		Symbol:       "EURUSD",
		Side:         mt5.Buy,
		Volume:       0.10,
		OpenPrice:    1.1000,
		CurrentPrice: 1.1090,
		Profit:       9, // 0.9 of the profit threshold
		OpenTime:     time.Now(),
	})

	// First cycle fires the top tier only.
	if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}
	if len(client.SubmittedOrders) != 1 {
		t.Fatalf("orders after cycle 1 = %d, want 1", len(client.SubmittedOrders))
	}
	if diff := client.SubmittedOrders[0].Volume - 0.05; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("tier one add = %v, want 0.05", client.SubmittedOrders[0].Volume)
	}
	if client.SubmittedOrders[0].Comment != "scale up" {
		t.Fatalf("comment = %q, want scale up", client.SubmittedOrders[0].Comment)
	}

	// Second cycle fires the remaining tier, rounded down to the step.
	if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}
	if len(client.SubmittedOrders) != 2 {
		t.Fatalf("orders after cycle 2 = %d, want 2", len(client.SubmittedOrders))
	}
	if diff := client.SubmittedOrders[1].Volume - 0.02; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("tier two add = %v, want 0.02", client.SubmittedOrders[1].Volume)
	}

	// Both tiers spent: further cycles add nothing for this ticket.
	if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}
	if len(client.SubmittedOrders) != 2 {
		t.Fatalf("orders after cycle 3 = %d, want 2", len(client.SubmittedOrders))
	}
}

func TestManualInterventionRestrictsSymbol(t *testing.T) {
	mgr, client, store := newTestManager(t, "EURUSD", 0.10, 1000)

	ticket := client.AddPosition(mt5.Position{
		Symbol:       "EURUSD",
		Side:         mt5.Buy,
		Volume:       0.10,
		OpenPrice:    1.1000,
		CurrentPrice: 1.1005,
		Profit:       0.50,
		OpenTime:     time.Now(),
	})
	store.TrackPosition("EURUSD", ticket)

	// The position vanishes without a close from the engine.
	client.RemovePosition(ticket)

	if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}

	if restricted, _ := store.Restriction("EURUSD"); !restricted {
		t.Fatal("symbol not restricted after manual intervention")
	}
	if flagged, _ := store.ManualIntervention("EURUSD"); !flagged {
		t.Fatal("manual intervention not flagged")
	}
	if tickets := store.KnownTickets("EURUSD"); len(tickets) != 0 {
		t.Fatalf("known tickets = %v, want none", tickets)
	}
}

func TestCloseAll(t *testing.T) {
	mgr, client, store := newTestManager(t, "EURUSD", 0.10, 1000)
	store.Register("GBPUSD", 0.10, 1000, 1.0)

	client.AddPosition(mt5.Position{Symbol: "EURUSD", Side: mt5.Buy, Volume: 0.10, Profit: 1, OpenTime: time.Now()})
	client.AddPosition(mt5.Position{Symbol: "GBPUSD", Side: mt5.Sell, Volume: 0.10, Profit: -1, OpenTime: time.Now()})

	if err := mgr.CloseAll(context.Background()); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if len(client.Closes) != 2 {
		t.Fatalf("closes = %d, want 2", len(client.Closes))
	}
	remaining, err := client.AllPositions(context.Background())
	if err != nil {
		t.Fatalf("AllPositions: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("positions remaining after CloseAll: %d", len(remaining))
	}
}

func TestProfitLockArmsConservativeAndClosesOnRetreat(t *testing.T) {
	mgr, client, _ := newTestManager(t, "EURUSD", 0.10, 10)
	client.SetBars("EURUSD", rangeBars(20, 1.1000, 0.0010))

	ticket := client.AddPosition(mt5.Position{
		Symbol:       "EURUSD",
		Side:         mt5.Buy,
		Volume:       0.10,
		OpenPrice:    1.1000,
		CurrentPrice: 1.1120,
		Profit:       12,
		OpenTime:     time.Now(),
	})

	if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}
	if !mgr.global.Conservative() {
		t.Fatal("conservative mode not set after profit reached the threshold")
	}
	if _, ok := client.GetPosition(ticket); !ok {
		t.Fatal("position closed while profit held above the lock floor")
	}

	// Retreating below half of the peak closes the position.
	p, _ := client.GetPosition(ticket)
	p.Profit = 5
	client.AddPosition(p)
	if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}
	if _, ok := client.GetPosition(ticket); ok {
		t.Fatal("position still open after profit retreated below the lock floor")
	}
	if len(client.Closes) != 1 || client.Closes[0].Comment != "profit_lock" {
		t.Fatalf("closes = %+v, want a single profit_lock close", client.Closes)
	}
}

func TestProfitLockHoldsWhileProfitStaysNearPeak(t *testing.T) {
	mgr, client, _ := newTestManager(t, "EURUSD", 0.10, 10)
	client.SetBars("EURUSD", rangeBars(20, 1.1000, 0.0010))

	ticket := client.AddPosition(mt5.Position{
		Symbol:       "EURUSD",
		Side:         mt5.Buy,
		Volume:       0.10,
		OpenPrice:    1.1000,
		CurrentPrice: 1.1120,
		Profit:       12,
		OpenTime:     time.Now(),
	})

	// Arm, then drift down but stay above half of the peak.
	for _, profit := range []float64{12, 9, 7} {
		p, ok := client.GetPosition(ticket)
		if !ok {
			t.Fatalf("position closed at profit %v", profit)
		}
		p.Profit = profit
		client.AddPosition(p)
		if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
			t.Fatalf("ManagePositions: %v", err)
		}
	}
	if _, ok := client.GetPosition(ticket); !ok {
		t.Fatal("position closed while profit stayed above the lock floor")
	}
}

func TestTrailingRecordsFollowPositionLifecycle(t *testing.T) {
	mgr, client, _ := newTestManager(t, "EURUSD", 0.10, 1000)
	client.SetBars("EURUSD", rangeBars(20, 1.1000, 0.0010))

	ticket := client.AddPosition(mt5.Position{
		Symbol:       "EURUSD",
		Side:         mt5.Buy,
		Volume:       0.10,
		OpenPrice:    1.1000,
		CurrentPrice: 1.1010,
		Profit:       0.10,
		OpenTime:     time.Now(),
	})

	if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}
	if got := mgr.trailing.size(); got != 1 {
		t.Fatalf("trailing records = %d, want 1", got)
	}

	// Closing the position drops its record.
	p, _ := client.GetPosition(ticket)
	p.Profit = -20
	client.AddPosition(p)
	if err := mgr.ManagePositions(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("ManagePositions: %v", err)
	}
	if got := mgr.trailing.size(); got != 0 {
		t.Fatalf("trailing records after close = %d, want 0", got)
	}
}
