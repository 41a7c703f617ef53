// Package position manages every open position through its lifecycle:
// age exit, hard-loss exit, breakeven, trailing stop, scale-up and
// reversal.
package position

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mt5-trading-bot/internal/events"
	"mt5-trading-bot/internal/indicators"
	"mt5-trading-bot/internal/mt5"
	"mt5-trading-bot/internal/risk"
	"mt5-trading-bot/internal/state"
)

// ScaleTier adds a volume fraction once profit reaches a ratio of the
// symbol's adaptive profit threshold. Tiers are checked highest first
// and each fires at most once per position.
type ScaleTier struct {
	Ratio    float64 `yaml:"ratio"`
	Fraction float64 `yaml:"fraction"`
}

// Config holds the lifecycle thresholds. The divergent threshold sets of
// earlier revisions live on as alternative configurations of this one
// manager.
type Config struct {
	Timeframe mt5.Timeframe

	MaxAge      time.Duration // negative positions older than this close
	HardLossCut float64       // account-currency loss that closes immediately

	BreakevenTriggerPips float64 // profit pips that arm breakeven-plus
	BreakevenOffsetPips  float64 // stop offset past entry, in points

	TrailInitialATR float64 // trail distance below the first tier
	TrailMidATR     float64 // trail distance past TrailMidPips
	TrailTightATR   float64 // trail distance past TrailTightPips
	TrailMidPips    float64
	TrailTightPips  float64

	// ProfitLockPct is the fraction of peak profit below which an armed
	// position closes to keep its gains.
	ProfitLockPct float64

	ScaleTiers []ScaleTier

	ReversalLoss       float64 // profit at or below this triggers reversal
	ReversalVolumeMult float64
	StopLossATRMult    float64
	TakeProfitATRMult  float64

	EntryDeviation int
	CloseDeviation int
	Magic          int
}

// DefaultConfig returns the standard lifecycle thresholds.
func DefaultConfig() Config {
	return Config{
		Timeframe:            mt5.TimeframeM5,
		MaxAge:               30 * time.Second,
		HardLossCut:          -15.80,
		BreakevenTriggerPips: 20,
		BreakevenOffsetPips:  5,
		TrailInitialATR:      2.5,
		TrailMidATR:          2.0,
		TrailTightATR:        1.0,
		TrailMidPips:         15,
		TrailTightPips:       30,
		ProfitLockPct:        0.5,
		ScaleTiers: []ScaleTier{
			{Ratio: 0.8, Fraction: 0.5},
			{Ratio: 0.5, Fraction: 0.25},
		},
		ReversalLoss:       -12.0,
		ReversalVolumeMult: 1.5,
		StopLossATRMult:    5,
		TakeProfitATRMult:  2.5,
		EntryDeviation:     20,
		CloseDeviation:     50,
		Magic:              234000,
	}
}

// Manager applies the lifecycle checks to open positions.
type Manager struct {
	cfg      Config
	client   mt5.Client
	store    *state.Store
	global   *state.GlobalState
	riskEng  *risk.Engine
	bus      *events.EventBus
	trailing *trailingStore
	logger   zerolog.Logger
	now      func() time.Time
}

// NewManager wires the lifecycle manager.
func NewManager(cfg Config, client mt5.Client, store *state.Store, global *state.GlobalState, riskEng *risk.Engine, bus *events.EventBus, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		client:   client,
		store:    store,
		global:   global,
		riskEng:  riskEng,
		bus:      bus,
		trailing: newTrailingStore(),
		logger:   logger.With().Str("component", "position").Logger(),
		now:      time.Now,
	}
}

// profitPips normalizes profit into price-increment units.
func profitPips(p mt5.Position, point float64) float64 {
	if point == 0 || p.Volume == 0 {
		return 0
	}
	return p.Profit / (point * p.Volume)
}

// ManagePositions reconciles every open position of a symbol against the
// current market. Per-position failures are logged and do not abort the
// remaining positions.
func (m *Manager) ManagePositions(ctx context.Context, symbol string) error {
	positions, err := m.client.OpenPositions(ctx, symbol)
	if err != nil {
		return fmt.Errorf("managing %s: %w", symbol, err)
	}

	open := make(map[int64]bool, len(positions))
	for _, p := range positions {
		open[p.Ticket] = true
	}
	m.detectManualIntervention(symbol, open)
	m.trailing.prune(open)

	if len(positions) == 0 {
		return nil
	}

	constraints, err := m.client.SymbolConstraints(ctx, symbol)
	if err != nil {
		return fmt.Errorf("managing %s: %w", symbol, err)
	}

	atr := 0.0
	if bars, err := m.client.RecentBars(ctx, symbol, m.cfg.Timeframe, 15); err == nil {
		atr, _ = indicators.ATR(bars, 14)
	} else {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("no bars for trailing, skipping trail updates")
	}

	for _, p := range positions {
		if err := m.managePosition(ctx, p, constraints, atr); err != nil {
			m.logger.Error().Err(err).Str("symbol", symbol).Int64("ticket", p.Ticket).Msg("position check failed")
			m.bus.PublishError("position", "position check failed", err)
		}
	}
	return nil
}

// managePosition runs the ordered checks for one position. A close
// short-circuits the rest for this iteration.
func (m *Manager) managePosition(ctx context.Context, p mt5.Position, sc mt5.SymbolConstraints, atr float64) error {
	now := m.now()

	// Positions with impossible state are closed rather than managed.
	if p.Volume <= 0 {
		m.logger.Warn().Int64("ticket", p.Ticket).Msg("invalid position volume, closing")
		return m.close(ctx, p, "invalid")
	}

	if p.Age(now) >= m.cfg.MaxAge && p.Profit < 0 {
		return m.close(ctx, p, "age")
	}

	if p.Profit <= m.cfg.HardLossCut {
		return m.close(ctx, p, "hard_loss")
	}

	rec := m.trailing.get(p)
	if p.Profit > rec.MaxProfit {
		rec.MaxProfit = p.Profit
	}
	pips := profitPips(p, sc.Point)

	if err := m.applyBreakeven(ctx, p, rec, sc, pips); err != nil {
		return err
	}
	if closed, err := m.applyProfitLock(ctx, p, rec); closed || err != nil {
		return err
	}
	if atr > 0 {
		if err := m.applyTrailing(ctx, p, rec, pips, atr); err != nil {
			return err
		}
	}
	if err := m.applyScaleUp(ctx, p, rec, sc); err != nil {
		return err
	}
	if p.Profit <= m.cfg.ReversalLoss {
		return m.reverse(ctx, p, sc, atr)
	}
	return nil
}

// applyBreakeven moves the stop to entry plus a small offset once the
// position is sufficiently profitable. The stop only ever tightens.
func (m *Manager) applyBreakeven(ctx context.Context, p mt5.Position, rec *TrailingRecord, sc mt5.SymbolConstraints, pips float64) error {
	if rec.BreakevenSet || pips < m.cfg.BreakevenTriggerPips {
		return nil
	}

	offset := m.cfg.BreakevenOffsetPips * sc.Point
	var newStop float64
	if p.Side == mt5.Buy {
		newStop = p.OpenPrice + offset
		if p.StopLoss != 0 && newStop <= p.StopLoss {
			rec.BreakevenSet = true
			return nil
		}
	} else {
		newStop = p.OpenPrice - offset
		if p.StopLoss != 0 && newStop >= p.StopLoss {
			rec.BreakevenSet = true
			return nil
		}
	}

	if err := m.modifyStop(ctx, p, newStop, "breakeven"); err != nil {
		return err
	}
	rec.BreakevenSet = true
	return nil
}

// applyProfitLock arms once floating profit reaches the symbol's
// adaptive profit threshold. Arming flips the engine into conservative
// mode; the position then closes when profit retreats below a fraction
// of its peak. Returns true when the position was closed.
func (m *Manager) applyProfitLock(ctx context.Context, p mt5.Position, rec *TrailingRecord) (bool, error) {
	if !rec.ProfitLocked {
		snap, ok := m.store.SnapshotFor(p.Symbol)
		if !ok || p.Profit < snap.ProfitThreshold {
			return false, nil
		}
		rec.ProfitLocked = true
		if !m.global.Conservative() {
			m.global.SetConservative(true)
			m.bus.PublishTradingModeChanged(true)
		}
		m.logger.Info().
			Str("symbol", p.Symbol).
			Int64("ticket", p.Ticket).
			Float64("profit", p.Profit).
			Msg("profit lock armed, trading turned conservative")
		return false, nil
	}

	if floor := rec.MaxProfit * m.cfg.ProfitLockPct; p.Profit < floor {
		return true, m.close(ctx, p, "profit_lock")
	}
	return false, nil
}

// applyTrailing narrows the stop as profit grows. The trail distance is
// an ATR multiple that tightens at two profit tiers, and the stop moves
// only in the favorable direction.
func (m *Manager) applyTrailing(ctx context.Context, p mt5.Position, rec *TrailingRecord, pips, atr float64) error {
	distance := atr * m.cfg.TrailInitialATR
	switch {
	case pips > m.cfg.TrailTightPips:
		distance = atr * m.cfg.TrailTightATR
	case pips > m.cfg.TrailMidPips:
		distance = atr * m.cfg.TrailMidATR
	}

	if p.Side == mt5.Buy {
		if p.CurrentPrice <= rec.HighestPrice {
			return nil
		}
		rec.HighestPrice = p.CurrentPrice
		newStop := p.CurrentPrice - distance
		if p.StopLoss != 0 && newStop <= p.StopLoss {
			return nil
		}
		return m.modifyStop(ctx, p, newStop, "trailing")
	}

	if p.CurrentPrice >= rec.LowestPrice {
		return nil
	}
	rec.LowestPrice = p.CurrentPrice
	newStop := p.CurrentPrice + distance
	if p.StopLoss != 0 && newStop >= p.StopLoss {
		return nil
	}
	return m.modifyStop(ctx, p, newStop, "trailing")
}

// applyScaleUp adds to a winning position when profit crosses a tier of
// the adaptive profit threshold. Each tier fires once per position.
func (m *Manager) applyScaleUp(ctx context.Context, p mt5.Position, rec *TrailingRecord, sc mt5.SymbolConstraints) error {
	threshold := m.store.ProfitThreshold(p.Symbol)
	if threshold <= 0 || p.Profit <= 0 {
		return nil
	}
	ratio := p.Profit / threshold

	for i, tier := range m.cfg.ScaleTiers {
		if ratio < tier.Ratio || rec.ScaledTiers[i] {
			continue
		}

		add := roundToStep(p.Volume*tier.Fraction, sc.VolumeStep)
		if snap, ok := m.store.SnapshotFor(p.Symbol); ok {
			if limit := snap.BaseVolume * state.MaxVolumeFactor; p.Volume+add > limit {
				add = roundToStep(limit-p.Volume, sc.VolumeStep)
			}
		}
		if add < sc.VolumeStep || add <= 0 {
			rec.ScaledTiers[i] = true
			return nil
		}
		if add > sc.VolumeMax {
			add = sc.VolumeMax
		}

		req := mt5.OrderRequest{
			Symbol:    p.Symbol,
			Side:      p.Side,
			Volume:    add,
			Price:     p.CurrentPrice,
			Deviation: m.cfg.EntryDeviation,
			Magic:     m.cfg.Magic,
			Comment:   "scale up",
			ClientID:  uuid.NewString(),
			FillMode:  mt5.FillIOC,
		}
		res, err := m.client.SubmitOrder(ctx, req)
		if err != nil {
			return fmt.Errorf("scaling up ticket %d: %w", p.Ticket, err)
		}
		rec.ScaledTiers[i] = true
		m.store.TrackPosition(p.Symbol, res.Ticket)
		m.bus.PublishPositionScaled(p.Symbol, p.Ticket, add)
		m.logger.Info().
			Str("symbol", p.Symbol).
			Int64("ticket", p.Ticket).
			Float64("added_volume", add).
			Float64("profit_ratio", ratio).
			Msg("position scaled up")
		return nil
	}
	return nil
}

// reverse closes a losing position and opens the opposite direction at a
// larger volume, sized by current volatility.
func (m *Manager) reverse(ctx context.Context, p mt5.Position, sc mt5.SymbolConstraints, atr float64) error {
	if err := m.close(ctx, p, "reversal"); err != nil {
		return err
	}

	quote, err := m.client.Quote(ctx, p.Symbol)
	if err != nil {
		return fmt.Errorf("reversing ticket %d: %w", p.Ticket, err)
	}

	side := p.Side.Opposite()
	volume := p.Volume * m.cfg.ReversalVolumeMult
	if snap, ok := m.store.SnapshotFor(p.Symbol); ok {
		volume = state.ClampVolume(volume, snap.BaseVolume)
	}
	volume = clampToConstraints(roundToStep(volume, sc.VolumeStep), sc)

	price := quote.Ask
	if side == mt5.Sell {
		price = quote.Bid
	}
	slDist := atr * m.cfg.StopLossATRMult
	tpDist := atr * m.cfg.TakeProfitATRMult
	sl, tp := 0.0, 0.0
	if atr > 0 {
		if side == mt5.Buy {
			sl, tp = price-slDist, price+tpDist
		} else {
			sl, tp = price+slDist, price-tpDist
		}
	}

	req := mt5.OrderRequest{
		Symbol:     p.Symbol,
		Side:       side,
		Volume:     volume,
		Price:      price,
		StopLoss:   sl,
		TakeProfit: tp,
		Deviation:  m.cfg.CloseDeviation,
		Magic:      m.cfg.Magic,
		Comment:    "reversal",
		ClientID:   uuid.NewString(),
		FillMode:   mt5.FillIOC,
	}
	res, err := m.client.SubmitOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("opening reversal for ticket %d: %w", p.Ticket, err)
	}

	m.store.TrackPosition(p.Symbol, res.Ticket)
	m.store.RecordDirection(p.Symbol, sideToAction(side))
	m.store.SetLastTradeTime(p.Symbol, m.now())
	m.bus.PublishPositionReversed(p.Symbol, p.Ticket, string(side), volume)
	m.logger.Info().
		Str("symbol", p.Symbol).
		Int64("closed_ticket", p.Ticket).
		Int64("new_ticket", res.Ticket).
		Str("side", string(side)).
		Float64("volume", volume).
		Msg("position reversed")
	return nil
}

// close closes a position, records the outcome and cleans up tracking.
func (m *Manager) close(ctx context.Context, p mt5.Position, reason string) error {
	req := mt5.CloseRequest{
		Ticket:    p.Ticket,
		Symbol:    p.Symbol,
		Deviation: m.cfg.CloseDeviation,
		FillMode:  mt5.FillIOC,
		Comment:   reason,
	}
	if _, err := m.client.ClosePosition(ctx, req); err != nil {
		return fmt.Errorf("closing ticket %d (%s): %w", p.Ticket, reason, err)
	}

	m.trailing.drop(p.Ticket)
	m.store.UntrackPosition(p.Symbol, p.Ticket)
	m.riskEng.Adapt(p.Symbol, p.Profit, m.now())
	m.bus.PublishTradeClosed(p.Symbol, p.Ticket, p.Profit, reason)
	m.logger.Info().
		Str("symbol", p.Symbol).
		Int64("ticket", p.Ticket).
		Float64("profit", p.Profit).
		Str("reason", reason).
		Msg("position closed")
	return nil
}

// modifyStop tightens a stop loss. Transient rejections are left for the
// next cycle.
func (m *Manager) modifyStop(ctx context.Context, p mt5.Position, newStop float64, reason string) error {
	req := mt5.ModifyRequest{
		Ticket:     p.Ticket,
		Symbol:     p.Symbol,
		StopLoss:   newStop,
		TakeProfit: p.TakeProfit,
	}
	if err := m.client.ModifyStopLoss(ctx, req); err != nil {
		if mt5.IsTransient(err) {
			m.logger.Warn().Err(err).Int64("ticket", p.Ticket).Msg("stop modification deferred")
			return nil
		}
		return fmt.Errorf("modifying stop for ticket %d: %w", p.Ticket, err)
	}

	m.bus.PublishStopMoved(p.Symbol, p.Ticket, newStop, reason)
	m.logger.Info().
		Str("symbol", p.Symbol).
		Int64("ticket", p.Ticket).
		Float64("stop_loss", newStop).
		Str("reason", reason).
		Msg("stop loss moved")
	return nil
}

// detectManualIntervention flags tickets that vanished without the
// engine closing them.
func (m *Manager) detectManualIntervention(symbol string, open map[int64]bool) {
	known := m.store.KnownTickets(symbol)
	var missing []int64
	for _, ticket := range known {
		if !open[ticket] {
			missing = append(missing, ticket)
		}
	}
	if len(missing) == 0 {
		return
	}

	now := m.now()
	for _, ticket := range missing {
		m.store.UntrackPosition(symbol, ticket)
		m.trailing.drop(ticket)
	}
	m.store.MarkManualIntervention(symbol, now)
	m.store.Restrict(symbol, now)
	m.bus.PublishManualIntervention(symbol, missing)
	m.logger.Warn().
		Str("symbol", symbol).
		Ints64("missing_tickets", missing).
		Msg("manual intervention detected, symbol restricted")
}

// CloseAll closes every open position on the account, used during
// shutdown when configured.
func (m *Manager) CloseAll(ctx context.Context) error {
	positions, err := m.client.AllPositions(ctx)
	if err != nil {
		return fmt.Errorf("closing all positions: %w", err)
	}
	var firstErr error
	for _, p := range positions {
		if err := m.close(ctx, p, "shutdown"); err != nil {
			m.logger.Error().Err(err).Int64("ticket", p.Ticket).Msg("shutdown close failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func roundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return math.Floor(v/step+1e-9) * step
}

func clampToConstraints(v float64, sc mt5.SymbolConstraints) float64 {
	if v < sc.VolumeMin {
		return sc.VolumeMin
	}
	if sc.VolumeMax > 0 && v > sc.VolumeMax {
		return sc.VolumeMax
	}
	return v
}

func sideToAction(s mt5.Side) string {
	if s == mt5.Buy {
		return "buy"
	}
	return "sell"
}
