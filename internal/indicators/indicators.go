// Package indicators provides the technical calculations the signal engine
// consumes: SMA, RSI, ATR, ADX and return volatility.
package indicators

import (
	"fmt"
	"math"

	"mt5-trading-bot/internal/mt5"
)

// Closes extracts the close series from a bar slice.
func Closes(bars []mt5.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// SMA returns the simple moving average of the last period closes.
func SMA(closes []float64, period int) (float64, error) {
	if len(closes) < period || period <= 0 {
		return 0, fmt.Errorf("sma: need %d values, have %d", period, len(closes))
	}
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period), nil
}

// RSI returns the relative strength index over the full series using
// Wilder smoothing.
func RSI(closes []float64, period int) (float64, error) {
	if len(closes) < period+1 {
		return 0, fmt.Errorf("rsi: need %d values, have %d", period+1, len(closes))
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

// TrueRange returns the true range of bar i given its predecessor.
func TrueRange(prev, cur mt5.Bar) float64 {
	hl := cur.High - cur.Low
	hc := math.Abs(cur.High - prev.Close)
	lc := math.Abs(cur.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// ATR returns the average true range over the last period bars.
func ATR(bars []mt5.Bar, period int) (float64, error) {
	if len(bars) < period+1 {
		return 0, fmt.Errorf("atr: need %d bars, have %d", period+1, len(bars))
	}
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += TrueRange(bars[i-1], bars[i])
	}
	return sum / float64(period), nil
}

// ADX returns the average directional index over the last period bars.
// Values above 25 indicate a trending market.
func ADX(bars []mt5.Bar, period int) (float64, error) {
	if len(bars) < 2*period+1 {
		return 0, fmt.Errorf("adx: need %d bars, have %d", 2*period+1, len(bars))
	}

	var trSum, plusDMSum, minusDMSum float64
	dxValues := make([]float64, 0, len(bars))

	for i := 1; i < len(bars); i++ {
		upMove := bars[i].High - bars[i-1].High
		downMove := bars[i-1].Low - bars[i].Low

		plusDM, minusDM := 0.0, 0.0
		if upMove > downMove && upMove > 0 {
			plusDM = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM = downMove
		}
		tr := TrueRange(bars[i-1], bars[i])

		if i <= period {
			trSum += tr
			plusDMSum += plusDM
			minusDMSum += minusDM
			if i < period {
				continue
			}
		} else {
			// Wilder smoothing
			trSum = trSum - trSum/float64(period) + tr
			plusDMSum = plusDMSum - plusDMSum/float64(period) + plusDM
			minusDMSum = minusDMSum - minusDMSum/float64(period) + minusDM
		}

		if trSum == 0 {
			dxValues = append(dxValues, 0)
			continue
		}
		plusDI := 100 * plusDMSum / trSum
		minusDI := 100 * minusDMSum / trSum
		diSum := plusDI + minusDI
		if diSum == 0 {
			dxValues = append(dxValues, 0)
			continue
		}
		dxValues = append(dxValues, 100*math.Abs(plusDI-minusDI)/diSum)
	}

	if len(dxValues) < period {
		return 0, fmt.Errorf("adx: insufficient dx values")
	}
	sum := 0.0
	for _, dx := range dxValues[len(dxValues)-period:] {
		sum += dx
	}
	return sum / float64(period), nil
}

// Volatility returns the standard deviation of simple returns over the
// last period closes.
func Volatility(closes []float64, period int) (float64, error) {
	if len(closes) < period+1 {
		return 0, fmt.Errorf("volatility: need %d values, have %d", period+1, len(closes))
	}
	returns := make([]float64, 0, period)
	for i := len(closes) - period; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	if len(returns) == 0 {
		return 0, fmt.Errorf("volatility: no valid returns")
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance), nil
}
