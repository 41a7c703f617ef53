package indicators

import (
	"math"
	"testing"
	"time"

	"mt5-trading-bot/internal/mt5"
)

func barsFromCloses(closes []float64, spread float64) []mt5.Bar {
	bars := make([]mt5.Bar, len(closes))
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = mt5.Bar{
			Time:  base.Add(time.Duration(i) * time.Minute),
			Open:  c,
			High:  c + spread,
			Low:   c - spread,
			Close: c,
		}
	}
	return bars
}

func trendingCloses(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestSMA(t *testing.T) {
	tests := []struct {
		name    string
		closes  []float64
		period  int
		want    float64
		wantErr bool
	}{
		{name: "simple average", closes: []float64{1, 2, 3, 4, 5}, period: 5, want: 3},
		{name: "uses last period values", closes: []float64{100, 1, 2, 3}, period: 3, want: 2},
		{name: "insufficient data", closes: []float64{1, 2}, period: 5, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SMA(tt.closes, tt.period)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("SMA = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRSIExtremes(t *testing.T) {
	// Monotonic rise has no losses, RSI pins at 100.
	up := trendingCloses(1.1000, 0.0010, 30)
	rsi, err := RSI(up, 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rsi != 100 {
		t.Errorf("RSI of monotonic rise = %v, want 100", rsi)
	}

	// Monotonic fall should read deeply oversold.
	down := trendingCloses(1.2000, -0.0010, 30)
	rsi, err = RSI(down, 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rsi > 5 {
		t.Errorf("RSI of monotonic fall = %v, want near 0", rsi)
	}
}

func TestRSIInsufficientData(t *testing.T) {
	if _, err := RSI([]float64{1, 2, 3}, 14); err == nil {
		t.Error("expected error for short series")
	}
}

func TestATR(t *testing.T) {
	// Constant closes with fixed high-low range: ATR equals the range.
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 1.1000
	}
	bars := barsFromCloses(closes, 0.0005)

	atr, err := ATR(bars, 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(atr-0.0010) > 1e-9 {
		t.Errorf("ATR = %v, want 0.0010", atr)
	}
}

func TestADXTrendingVsFlat(t *testing.T) {
	trending := barsFromCloses(trendingCloses(1.1000, 0.0020, 60), 0.0005)
	flat := barsFromCloses(make([]float64, 60), 0.0005)
	for i := range flat {
		flat[i].Open = 1.1
		flat[i].High = 1.1005
		flat[i].Low = 1.0995
		flat[i].Close = 1.1
	}

	adxTrend, err := ADX(trending, 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	adxFlat, err := ADX(flat, 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if adxTrend <= 25 {
		t.Errorf("ADX of strong trend = %v, want > 25", adxTrend)
	}
	if adxFlat >= adxTrend {
		t.Errorf("ADX flat (%v) should be below ADX trending (%v)", adxFlat, adxTrend)
	}
}

func TestVolatility(t *testing.T) {
	// Constant series has zero volatility.
	flat := trendingCloses(1.1, 0, 30)
	v, err := Volatility(flat, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 0 {
		t.Errorf("volatility of flat series = %v, want 0", v)
	}

	// Alternating moves produce positive volatility.
	alternating := make([]float64, 30)
	for i := range alternating {
		if i%2 == 0 {
			alternating[i] = 1.10
		} else {
			alternating[i] = 1.11
		}
	}
	v, err = Volatility(alternating, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v <= 0 {
		t.Errorf("volatility of alternating series = %v, want > 0", v)
	}
}
