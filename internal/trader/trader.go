// Package trader runs the per-symbol trading loop: manage open
// positions, evaluate the signal when flat, place the entry order.
package trader

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mt5-trading-bot/internal/events"
	"mt5-trading-bot/internal/mt5"
	"mt5-trading-bot/internal/position"
	"mt5-trading-bot/internal/risk"
	"mt5-trading-bot/internal/signal"
	"mt5-trading-bot/internal/state"
)

// Config holds the loop timing and order placement parameters.
type Config struct {
	Interval     time.Duration // base pause between cycles
	Jitter       time.Duration // random extra pause added to Interval
	ErrorBackoff time.Duration // pause after a failed cycle

	StopLossATRMult   float64
	TakeProfitATRMult float64
	Deviation         int
	Magic             int
}

// DefaultConfig returns the standard loop parameters.
func DefaultConfig() Config {
	return Config{
		Interval:          50 * time.Millisecond,
		Jitter:            50 * time.Millisecond,
		ErrorBackoff:      time.Second,
		StopLossATRMult:   5,
		TakeProfitATRMult: 2.5,
		Deviation:         20,
		Magic:             234000,
	}
}

// Trader drives one symbol.
type Trader struct {
	symbol    string
	cfg       Config
	client    mt5.Client
	signals   *signal.Engine
	positions *position.Manager
	store     *state.Store
	global    *state.GlobalState
	riskEng   *risk.Engine
	bus       *events.EventBus
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a trader for one symbol.
func New(symbol string, cfg Config, client mt5.Client, signals *signal.Engine, positions *position.Manager, store *state.Store, global *state.GlobalState, riskEng *risk.Engine, bus *events.EventBus, logger zerolog.Logger) *Trader {
	return &Trader{
		symbol:    symbol,
		cfg:       cfg,
		client:    client,
		signals:   signals,
		positions: positions,
		store:     store,
		global:    global,
		riskEng:   riskEng,
		bus:       bus,
		logger:    logger.With().Str("component", "trader").Str("symbol", symbol).Logger(),
		now:       time.Now,
	}
}

// Start launches the trading loop. Starting a running trader is a no-op.
func (t *Trader) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.stopChan = make(chan struct{})
	t.wg.Add(1)
	go t.run()
	t.logger.Info().Msg("trader started")
}

// Stop signals the loop to exit and waits for it.
func (t *Trader) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopChan)
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info().Msg("trader stopped")
}

func (t *Trader) run() {
	defer t.wg.Done()

	for {
		pause := t.cfg.Interval
		if t.cfg.Jitter > 0 {
			pause += time.Duration(rand.Int63n(int64(t.cfg.Jitter)))
		}

		if err := t.cycle(context.Background()); err != nil {
			t.logger.Warn().Err(err).Msg("cycle failed")
			pause = t.cfg.ErrorBackoff
		}

		if t.global.ShuttingDown() {
			return
		}

		select {
		case <-time.After(pause):
		case <-t.stopChan:
			return
		}
	}
}

// cycle runs one iteration: manage open positions, and when flat,
// evaluate the signal and place an order. Panics are contained so a bad
// cycle cannot take the loop down.
func (t *Trader) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()

	if t.global.ShuttingDown() {
		return nil
	}

	if err := t.positions.ManagePositions(ctx, t.symbol); err != nil {
		return err
	}

	open, err := t.client.OpenPositions(ctx, t.symbol)
	if err != nil {
		return err
	}
	if len(open) > 0 {
		return nil
	}

	decision, err := t.signals.Evaluate(ctx, t.symbol)
	if err != nil {
		return err
	}
	t.bus.PublishSignal(t.symbol, string(decision.Action), decision.Score, decision.Confidence, decision.PotentialProfit)
	if !decision.Action.Actionable() {
		return nil
	}

	return t.placeOrder(ctx, decision)
}

// placeOrder opens a position from an actionable decision. The order is
// first tried fill-or-kill and retried once immediate-or-cancel when the
// venue rejects the fill mode.
func (t *Trader) placeOrder(ctx context.Context, d signal.Decision) error {
	constraints, err := t.client.SymbolConstraints(ctx, t.symbol)
	if err != nil {
		return fmt.Errorf("placing order for %s: %w", t.symbol, err)
	}
	quote, err := t.client.Quote(ctx, t.symbol)
	if err != nil {
		return fmt.Errorf("placing order for %s: %w", t.symbol, err)
	}

	side := mt5.Buy
	price := quote.Ask
	if d.Action == signal.ActionSell {
		side = mt5.Sell
		price = quote.Bid
	}

	volume := t.riskEng.EntryVolume(t.symbol)
	volume = roundToStep(volume, constraints.VolumeStep)
	if volume < constraints.VolumeMin {
		volume = constraints.VolumeMin
	}
	if constraints.VolumeMax > 0 && volume > constraints.VolumeMax {
		volume = constraints.VolumeMax
	}

	var sl, tp float64
	if d.ATR > 0 {
		if side == mt5.Buy {
			sl = price - d.ATR*t.cfg.StopLossATRMult
			tp = price + d.ATR*t.cfg.TakeProfitATRMult
		} else {
			sl = price + d.ATR*t.cfg.StopLossATRMult
			tp = price - d.ATR*t.cfg.TakeProfitATRMult
		}
	}

	req := mt5.OrderRequest{
		Symbol:     t.symbol,
		Side:       side,
		Volume:     volume,
		Price:      price,
		StopLoss:   sl,
		TakeProfit: tp,
		Deviation:  t.cfg.Deviation,
		Magic:      t.cfg.Magic,
		Comment:    "signal entry",
		ClientID:   uuid.NewString(),
		FillMode:   mt5.FillFOK,
	}

	res, err := t.client.SubmitOrder(ctx, req)
	if err != nil && errors.Is(err, mt5.ErrRejected) {
		req.FillMode = mt5.FillIOC
		req.ClientID = uuid.NewString()
		t.logger.Warn().Err(err).Msg("fill-or-kill rejected, retrying immediate-or-cancel")
		res, err = t.client.SubmitOrder(ctx, req)
	}
	if err != nil {
		t.riskEng.RecordFailedFill(t.symbol, t.now())
		t.bus.PublishError("trader", "order placement failed", err)
		return fmt.Errorf("placing order for %s: %w", t.symbol, err)
	}

	now := t.now()
	t.store.TrackPosition(t.symbol, res.Ticket)
	t.store.RecordDirection(t.symbol, string(d.Action))
	t.store.SetLastTradeTime(t.symbol, now)
	t.bus.PublishOrderPlaced(t.symbol, string(side), res.ExecutedLots, res.ExecutedPrice, res.Retcode)
	t.bus.PublishTradeOpened(t.symbol, string(side), res.Ticket, res.ExecutedPrice, res.ExecutedLots)
	t.logger.Info().
		Str("side", string(side)).
		Float64("volume", res.ExecutedLots).
		Float64("price", res.ExecutedPrice).
		Int64("ticket", res.Ticket).
		Int("score", d.Score).
		Float64("confidence", d.Confidence).
		Msg("position opened")
	return nil
}

func roundToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	steps := int64(v/step + 1e-9)
	return float64(steps) * step
}
