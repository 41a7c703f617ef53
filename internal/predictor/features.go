package predictor

import (
	"fmt"

	"mt5-trading-bot/internal/indicators"
	"mt5-trading-bot/internal/mt5"
)

// minBars is what BuildFeatures needs to compute every input.
const minBars = 30

// BuildFeatures turns recent bars into the fixed-width model input:
// three lagged returns, RSI, ATR relative to price, distance from the
// fast and slow SMAs, and return volatility.
func BuildFeatures(bars []mt5.Bar) ([]float32, error) {
	if len(bars) < minBars {
		return nil, fmt.Errorf("need %d bars for features, have %d", minBars, len(bars))
	}

	closes := indicators.Closes(bars)
	last := closes[len(closes)-1]
	if last == 0 {
		return nil, fmt.Errorf("zero close price")
	}

	rsi, err := indicators.RSI(closes, 14)
	if err != nil {
		return nil, err
	}
	atr, err := indicators.ATR(bars, 14)
	if err != nil {
		return nil, err
	}
	smaFast, err := indicators.SMA(closes, 10)
	if err != nil {
		return nil, err
	}
	smaSlow, err := indicators.SMA(closes, 20)
	if err != nil {
		return nil, err
	}
	vol, err := indicators.Volatility(closes, 20)
	if err != nil {
		return nil, err
	}

	ret := func(lag int) float32 {
		prev := closes[len(closes)-1-lag]
		if prev == 0 {
			return 0
		}
		return float32(last/prev - 1)
	}

	return []float32{
		ret(1),
		ret(3),
		ret(5),
		float32(rsi / 100),
		float32(atr / last),
		float32(last/smaFast - 1),
		float32(last/smaSlow - 1),
		float32(vol),
	}, nil
}
