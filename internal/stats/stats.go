// Package stats aggregates trading activity from the event bus into
// per-symbol totals, Prometheus metrics and a periodic log report.
package stats

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mt5-trading-bot/internal/events"
)

// SymbolStats accumulates outcomes for one symbol.
type SymbolStats struct {
	Symbol        string  `json:"symbol"`
	Orders        int     `json:"orders"`
	Trades        int     `json:"trades"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	TotalProfit   float64 `json:"total_profit"`
	BestTrade     float64 `json:"best_trade"`
	WorstTrade    float64 `json:"worst_trade"`
	ScaleUps      int     `json:"scale_ups"`
	Reversals     int     `json:"reversals"`
	Interventions int     `json:"interventions"`
	OpenPositions int     `json:"open_positions"`
}

// WinRate returns the fraction of closed trades that were profitable.
func (s SymbolStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// Summary is the account-wide aggregate.
type Summary struct {
	StartedAt   time.Time     `json:"started_at"`
	Uptime      string        `json:"uptime"`
	Orders      int           `json:"orders"`
	Trades      int           `json:"trades"`
	Wins        int           `json:"wins"`
	Losses      int           `json:"losses"`
	TotalProfit float64       `json:"total_profit"`
	WinRate     float64       `json:"win_rate"`
	Symbols     []SymbolStats `json:"symbols"`
}

// Tracker subscribes to the event bus and keeps running totals.
type Tracker struct {
	mu        sync.RWMutex
	startedAt time.Time
	perSymbol map[string]*SymbolStats
	logger    zerolog.Logger
}

// NewTracker wires a tracker into the bus.
func NewTracker(bus *events.EventBus, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		startedAt: time.Now(),
		perSymbol: make(map[string]*SymbolStats),
		logger:    logger.With().Str("component", "stats").Logger(),
	}
	bus.Subscribe(events.EventTradeOpened, t.onTradeOpened)
	bus.Subscribe(events.EventTradeClosed, t.onTradeClosed)
	bus.Subscribe(events.EventSignalGenerated, t.onSignal)
	bus.Subscribe(events.EventPositionScaled, t.onScaled)
	bus.Subscribe(events.EventPositionReversed, t.onReversed)
	bus.Subscribe(events.EventManualIntervention, t.onIntervention)
	return t
}

func (t *Tracker) symbolStats(symbol string) *SymbolStats {
	if s, ok := t.perSymbol[symbol]; ok {
		return s
	}
	s := &SymbolStats{Symbol: symbol}
	t.perSymbol[symbol] = s
	return s
}

func eventString(e events.Event, key string) string {
	v, _ := e.Data[key].(string)
	return v
}

func eventFloat(e events.Event, key string) float64 {
	v, _ := e.Data[key].(float64)
	return v
}

func (t *Tracker) onTradeOpened(e events.Event) {
	symbol, side := eventString(e, "symbol"), eventString(e, "side")

	t.mu.Lock()
	s := t.symbolStats(symbol)
	s.Orders++
	s.OpenPositions++
	open := s.OpenPositions
	t.mu.Unlock()

	mtxOrders.WithLabelValues(symbol, side).Inc()
	mtxOpenPositions.WithLabelValues(symbol).Set(float64(open))
}

func (t *Tracker) onTradeClosed(e events.Event) {
	symbol := eventString(e, "symbol")
	profit := eventFloat(e, "profit")
	reason := eventString(e, "reason")

	t.mu.Lock()
	s := t.symbolStats(symbol)
	s.Trades++
	s.TotalProfit += profit
	result := "flat"
	switch {
	case profit > 0:
		s.Wins++
		result = "win"
	case profit < 0:
		s.Losses++
		result = "loss"
	}
	if profit > s.BestTrade {
		s.BestTrade = profit
	}
	if profit < s.WorstTrade {
		s.WorstTrade = profit
	}
	if s.OpenPositions > 0 {
		s.OpenPositions--
	}
	rate := s.WinRate()
	total := s.TotalProfit
	open := s.OpenPositions
	t.mu.Unlock()

	mtxTrades.WithLabelValues(symbol, result).Inc()
	mtxExitReasons.WithLabelValues(reason).Inc()
	mtxWinRate.WithLabelValues(symbol).Set(rate)
	mtxProfit.WithLabelValues(symbol).Set(total)
	mtxOpenPositions.WithLabelValues(symbol).Set(float64(open))
}

func (t *Tracker) onSignal(e events.Event) {
	mtxDecisions.WithLabelValues(eventString(e, "symbol"), eventString(e, "action")).Inc()
}

func (t *Tracker) onScaled(e events.Event) {
	t.mu.Lock()
	t.symbolStats(eventString(e, "symbol")).ScaleUps++
	t.mu.Unlock()
}

func (t *Tracker) onReversed(e events.Event) {
	t.mu.Lock()
	t.symbolStats(eventString(e, "symbol")).Reversals++
	t.mu.Unlock()
}

func (t *Tracker) onIntervention(e events.Event) {
	t.mu.Lock()
	t.symbolStats(eventString(e, "symbol")).Interventions++
	t.mu.Unlock()
}

// Snapshot returns the account-wide aggregate for the API and reports.
func (t *Tracker) Snapshot() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sum := Summary{
		StartedAt: t.startedAt,
		Uptime:    time.Since(t.startedAt).Round(time.Second).String(),
	}
	for _, s := range t.perSymbol {
		sum.Symbols = append(sum.Symbols, *s)
		sum.Orders += s.Orders
		sum.Trades += s.Trades
		sum.Wins += s.Wins
		sum.Losses += s.Losses
		sum.TotalProfit += s.TotalProfit
	}
	if sum.Trades > 0 {
		sum.WinRate = float64(sum.Wins) / float64(sum.Trades)
	}
	return sum
}

// Report logs the current totals.
func (t *Tracker) Report() {
	sum := t.Snapshot()
	t.logger.Info().
		Str("uptime", sum.Uptime).
		Int("orders", sum.Orders).
		Int("trades", sum.Trades).
		Int("wins", sum.Wins).
		Int("losses", sum.Losses).
		Float64("total_profit", sum.TotalProfit).
		Float64("win_rate", sum.WinRate).
		Msg("trading report")
}

// RunPeriodicReports logs a report at each interval until the stop
// channel closes.
func (t *Tracker) RunPeriodicReports(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Report()
		case <-stop:
			return
		}
	}
}
