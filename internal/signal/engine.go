// Package signal fuses technical trend scoring with the ML predictor
// into a single trade decision per symbol.
package signal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"mt5-trading-bot/internal/indicators"
	"mt5-trading-bot/internal/mt5"
	"mt5-trading-bot/internal/predictor"
	"mt5-trading-bot/internal/risk"
	"mt5-trading-bot/internal/state"
)

// Action is the outcome of an evaluation.
type Action string

const (
	ActionBuy        Action = "buy"
	ActionSell       Action = "sell"
	ActionHold       Action = "hold"
	ActionNeutral    Action = "neutral"
	ActionSuppressed Action = "suppressed"
)

// Actionable reports whether the action opens a position.
func (a Action) Actionable() bool {
	return a == ActionBuy || a == ActionSell
}

// minReturnMagnitude is the expected-return floor below which the market
// is treated as neutral.
const minReturnMagnitude = 0.0001

// Config tunes the fusion engine.
type Config struct {
	Timeframe       mt5.Timeframe
	BarCount        int
	SMAFast         int
	SMASlow         int
	RSIPeriod       int
	RSIOversold     float64
	RSIOverbought   float64
	ATRPeriod       int
	ADXPeriod       int
	ADXThreshold    float64
	NeutralConf     float64       // confidence at or below this is neutral
	NeutralHold     time.Duration // how long to hold after a neutral phase
	QualityConf     float64       // min confidence to fuse the ML leg
	RequiredScore   int           // normal mode
	ConservedScore  int           // conservative mode
	ProfitScaleDown float64       // potential profit factor in conservative mode
}

// DefaultConfig returns the standard fusion tuning.
func DefaultConfig() Config {
	return Config{
		Timeframe:       mt5.TimeframeM5,
		BarCount:        100,
		SMAFast:         10,
		SMASlow:         20,
		RSIPeriod:       14,
		RSIOversold:     30,
		RSIOverbought:   70,
		ATRPeriod:       14,
		ADXPeriod:       14,
		ADXThreshold:    25,
		NeutralConf:     0.55,
		NeutralHold:     5 * time.Minute,
		QualityConf:     0.6,
		RequiredScore:   2,
		ConservedScore:  3,
		ProfitScaleDown: 0.8,
	}
}

// Decision is one evaluation result.
type Decision struct {
	Action          Action
	Score           int
	Confidence      float64
	ExpectedReturn  float64
	ATR             float64
	PotentialProfit float64
	Reasons         []string
}

// Engine evaluates symbols.
type Engine struct {
	cfg    Config
	client mt5.Client
	pred   predictor.Predictor
	store  *state.Store
	global *state.GlobalState
	gate   *risk.Engine
	logger zerolog.Logger
	now    func() time.Time
}

// NewEngine wires the fusion engine.
func NewEngine(cfg Config, client mt5.Client, pred predictor.Predictor, store *state.Store, global *state.GlobalState, gate *risk.Engine, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		client: client,
		pred:   pred,
		store:  store,
		global: global,
		gate:   gate,
		logger: logger.With().Str("component", "signal").Logger(),
		now:    time.Now,
	}
}

func hold(reasons ...string) Decision {
	return Decision{Action: ActionHold, Reasons: reasons}
}

// TrendScore computes the technical score from indicator values.
// ADX above the threshold signals trend strength; SMA alignment gives it
// direction; RSI extremes add weight only when they confirm the score.
func (e *Engine) TrendScore(close, smaFast, smaSlow, rsi, adx float64) int {
	score := 0
	if adx > e.cfg.ADXThreshold {
		score += 2
	}
	if close > smaFast && smaFast > smaSlow {
		score++
	} else if close < smaFast && smaFast < smaSlow {
		score--
	}
	if rsi < e.cfg.RSIOversold && score > 0 {
		score += 2
	} else if rsi > e.cfg.RSIOverbought && score < 0 {
		score -= 2
	}
	return score
}

// Evaluate produces the trade decision for a symbol. A non-nil error
// means market data could not be obtained; everything else resolves to a
// Decision with reasons.
func (e *Engine) Evaluate(ctx context.Context, symbol string) (Decision, error) {
	now := e.now()

	if ok, reason := e.gate.ShouldTrade(symbol, now); !ok {
		return Decision{Action: ActionSuppressed, Reasons: []string{reason}}, nil
	}

	bars, err := e.client.RecentBars(ctx, symbol, e.cfg.Timeframe, e.cfg.BarCount)
	if err != nil {
		return Decision{}, fmt.Errorf("evaluating %s: %w", symbol, err)
	}

	closes := indicators.Closes(bars)
	lastClose := closes[len(closes)-1]

	smaFast, err := indicators.SMA(closes, e.cfg.SMAFast)
	if err != nil {
		return Decision{}, err
	}
	smaSlow, err := indicators.SMA(closes, e.cfg.SMASlow)
	if err != nil {
		return Decision{}, err
	}
	rsi, err := indicators.RSI(closes, e.cfg.RSIPeriod)
	if err != nil {
		return Decision{}, err
	}
	atr, err := indicators.ATR(bars, e.cfg.ATRPeriod)
	if err != nil {
		return Decision{}, err
	}
	adx, err := indicators.ADX(bars, e.cfg.ADXPeriod)
	if err != nil {
		return Decision{}, err
	}

	score := e.TrendScore(lastClose, smaFast, smaSlow, rsi, adx)

	features, err := predictor.BuildFeatures(bars)
	if err != nil {
		return Decision{}, err
	}

	pred, err := e.pred.Predict(symbol, features)
	if err != nil {
		if errors.Is(err, predictor.ErrNoModel) {
			return e.technicalOnly(symbol, score, atr), nil
		}
		e.logger.Error().Err(err).Str("symbol", symbol).Msg("prediction failed")
		return hold("prediction error"), nil
	}

	mlAction := ActionHold
	switch pred.Direction {
	case 1:
		mlAction = ActionBuy
	case -1:
		mlAction = ActionSell
	}

	// Neutral market: low confidence or negligible expected move.
	if pred.Confidence <= e.cfg.NeutralConf || math.Abs(pred.ExpectedReturn) < minReturnMagnitude {
		e.store.MarkNeutral(symbol, now)
		e.logger.Info().Str("symbol", symbol).Float64("confidence", pred.Confidence).Msg("entered neutral state")
		return Decision{Action: ActionNeutral, ATR: atr, Reasons: []string{"neutral market"}}, nil
	}

	// The hold persists for a while after the market leaves neutral.
	if since := e.store.NeutralSince(symbol); !since.IsZero() {
		if now.Sub(since) < e.cfg.NeutralHold {
			return hold("neutral hold"), nil
		}
		e.store.ClearNeutral(symbol)
	}

	// A direction already taken twice recently is suppressed.
	if mlAction != ActionHold && e.store.DirectionCount(symbol, string(mlAction)) >= 2 {
		return hold("direction repetition"), nil
	}

	// Quality gate for the ML leg.
	if mlAction == ActionHold || pred.Confidence < e.cfg.QualityConf {
		return hold("insufficient prediction confidence"), nil
	}
	if math.Abs(pred.ExpectedReturn) < minReturnMagnitude || pred.ExpectedReturn < 0 {
		return hold("low or negative predicted return"), nil
	}

	// Fuse the ML leg into the technical score.
	if mlAction == ActionBuy {
		score += 2
	} else {
		score -= 2
	}

	potential := atr * math.Abs(float64(score)) * 10
	required := e.cfg.RequiredScore
	if e.global.Conservative() {
		required = e.cfg.ConservedScore
		potential *= e.cfg.ProfitScaleDown
	}

	d := Decision{
		Action:          ActionHold,
		Score:           score,
		Confidence:      pred.Confidence,
		ExpectedReturn:  pred.ExpectedReturn,
		ATR:             atr,
		PotentialProfit: potential,
	}

	switch {
	case score >= required:
		d.Action = ActionBuy
	case score <= -required:
		d.Action = ActionSell
	default:
		// Not enough combined conviction: fall back to the raw ML signal.
		d.Action = mlAction
		d.PotentialProfit = pred.ExpectedReturn
		d.Reasons = append(d.Reasons, "ml fallback")
	}

	e.logger.Info().
		Str("symbol", symbol).
		Str("action", string(d.Action)).
		Int("score", score).
		Float64("confidence", pred.Confidence).
		Float64("expected_return", pred.ExpectedReturn).
		Float64("potential_profit", d.PotentialProfit).
		Msg("signal evaluated")

	return d, nil
}

// technicalOnly is the path taken when no model exists for the symbol:
// the raw trend score decides against the required threshold alone.
func (e *Engine) technicalOnly(symbol string, score int, atr float64) Decision {
	required := e.cfg.RequiredScore
	potential := atr * math.Abs(float64(score)) * 10
	if e.global.Conservative() {
		required = e.cfg.ConservedScore
		potential *= e.cfg.ProfitScaleDown
	}

	d := Decision{Action: ActionHold, Score: score, ATR: atr, PotentialProfit: potential,
		Reasons: []string{"technical only"}}
	switch {
	case score >= required:
		d.Action = ActionBuy
	case score <= -required:
		d.Action = ActionSell
	}
	return d
}
