package stats

import (
	"testing"

	"github.com/rs/zerolog"

	"mt5-trading-bot/internal/events"
)

func testEvent(typ events.EventType, data map[string]interface{}) events.Event {
	return events.Event{Type: typ, Data: data}
}

func TestTrackerAggregatesOutcomes(t *testing.T) {
	tr := NewTracker(events.NewEventBus(), zerolog.Nop())

	tr.onTradeOpened(testEvent(events.EventTradeOpened, map[string]interface{}{
		"symbol": "EURUSD", "side": "buy",
	}))
	tr.onTradeClosed(testEvent(events.EventTradeClosed, map[string]interface{}{
		"symbol": "EURUSD", "profit": 12.5, "reason": "age",
	}))
	tr.onTradeClosed(testEvent(events.EventTradeClosed, map[string]interface{}{
		"symbol": "EURUSD", "profit": -4.0, "reason": "hard_loss",
	}))
	tr.onTradeClosed(testEvent(events.EventTradeClosed, map[string]interface{}{
		"symbol": "GBPUSD", "profit": 3.0, "reason": "reversal",
	}))

	sum := tr.Snapshot()
	if sum.Trades != 3 || sum.Wins != 2 || sum.Losses != 1 {
		t.Fatalf("summary = %d trades %d wins %d losses, want 3/2/1", sum.Trades, sum.Wins, sum.Losses)
	}
	if sum.TotalProfit != 11.5 {
		t.Fatalf("total profit = %v, want 11.5", sum.TotalProfit)
	}
	if sum.Orders != 1 {
		t.Fatalf("orders = %d, want 1", sum.Orders)
	}

	var eur SymbolStats
	for _, s := range sum.Symbols {
		if s.Symbol == "EURUSD" {
			eur = s
		}
	}
	if eur.Trades != 2 || eur.Wins != 1 || eur.Losses != 1 {
		t.Fatalf("EURUSD = %d/%d/%d, want 2/1/1", eur.Trades, eur.Wins, eur.Losses)
	}
	if eur.BestTrade != 12.5 || eur.WorstTrade != -4.0 {
		t.Fatalf("best/worst = %v/%v, want 12.5/-4", eur.BestTrade, eur.WorstTrade)
	}
	if eur.WinRate() != 0.5 {
		t.Fatalf("win rate = %v, want 0.5", eur.WinRate())
	}
}

func TestTrackerCountsLifecycleEvents(t *testing.T) {
	tr := NewTracker(events.NewEventBus(), zerolog.Nop())

	tr.onScaled(testEvent(events.EventPositionScaled, map[string]interface{}{"symbol": "EURUSD"}))
	tr.onScaled(testEvent(events.EventPositionScaled, map[string]interface{}{"symbol": "EURUSD"}))
	tr.onReversed(testEvent(events.EventPositionReversed, map[string]interface{}{"symbol": "EURUSD"}))
	tr.onIntervention(testEvent(events.EventManualIntervention, map[string]interface{}{"symbol": "EURUSD"}))

	sum := tr.Snapshot()
	if len(sum.Symbols) != 1 {
		t.Fatalf("symbols = %d, want 1", len(sum.Symbols))
	}
	s := sum.Symbols[0]
	if s.ScaleUps != 2 || s.Reversals != 1 || s.Interventions != 1 {
		t.Fatalf("lifecycle counts = %d/%d/%d, want 2/1/1", s.ScaleUps, s.Reversals, s.Interventions)
	}
}

func TestFlatTradeIsNeitherWinNorLoss(t *testing.T) {
	tr := NewTracker(events.NewEventBus(), zerolog.Nop())

	tr.onTradeClosed(testEvent(events.EventTradeClosed, map[string]interface{}{
		"symbol": "EURUSD", "profit": 0.0, "reason": "shutdown",
	}))

	sum := tr.Snapshot()
	if sum.Trades != 1 || sum.Wins != 0 || sum.Losses != 0 {
		t.Fatalf("summary = %d/%d/%d, want 1/0/0", sum.Trades, sum.Wins, sum.Losses)
	}
}
