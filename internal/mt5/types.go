// Package mt5 is the venue boundary: market data, positions and order
// routing against a MetaTrader 5 gateway.
package mt5

import (
	"context"
	"time"
)

// Side is the direction of an order or position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the reverse direction.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// FillMode controls how the gateway fills an order.
type FillMode string

const (
	FillFOK FillMode = "FOK" // fill completely or cancel
	FillIOC FillMode = "IOC" // fill what is available, cancel the rest
)

// Timeframe identifies a bar interval.
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeH1  Timeframe = "H1"
)

// Bar is a single OHLC candle.
type Bar struct {
	Time       time.Time `json:"time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	TickVolume int64     `json:"tick_volume"`
}

// Quote is the current bid/ask for a symbol.
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time"`
}

// SymbolConstraints describes the venue's trading rules for a symbol.
type SymbolConstraints struct {
	Symbol     string  `json:"symbol"`
	VolumeMin  float64 `json:"volume_min"`
	VolumeMax  float64 `json:"volume_max"`
	VolumeStep float64 `json:"volume_step"`
	Point      float64 `json:"point"`
	Digits     int     `json:"digits"`
	StopsLevel int     `json:"stops_level"` // min distance for SL/TP, in points
}

// Position is an open position reported by the venue.
type Position struct {
	Ticket       int64     `json:"ticket"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Volume       float64   `json:"volume"`
	OpenPrice    float64   `json:"open_price"`
	CurrentPrice float64   `json:"current_price"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	Profit       float64   `json:"profit"` // account currency
	OpenTime     time.Time `json:"open_time"`
	Comment      string    `json:"comment"`
	Magic        int       `json:"magic"`
}

// Age returns how long the position has been open.
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenTime)
}

// OrderRequest is a market order submission.
type OrderRequest struct {
	Symbol     string   `json:"symbol"`
	Side       Side     `json:"side"`
	Volume     float64  `json:"volume"`
	Price      float64  `json:"price"`
	StopLoss   float64  `json:"stop_loss,omitempty"`
	TakeProfit float64  `json:"take_profit,omitempty"`
	Deviation  int      `json:"deviation"` // max slippage in points
	Magic      int      `json:"magic"`
	Comment    string   `json:"comment,omitempty"`
	ClientID   string   `json:"client_id,omitempty"`
	FillMode   FillMode `json:"fill_mode"`
}

// ModifyRequest changes the stop loss (and optionally take profit) of an
// open position.
type ModifyRequest struct {
	Ticket     int64   `json:"ticket"`
	Symbol     string  `json:"symbol"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit,omitempty"`
}

// CloseRequest closes an open position, fully or partially.
type CloseRequest struct {
	Ticket    int64    `json:"ticket"`
	Symbol    string   `json:"symbol"`
	Volume    float64  `json:"volume,omitempty"` // 0 closes the full position
	Deviation int      `json:"deviation"`
	FillMode  FillMode `json:"fill_mode"`
	Comment   string   `json:"comment,omitempty"`
}

// OrderResult is the gateway's response to a submit or close.
type OrderResult struct {
	Retcode       int     `json:"retcode"`
	Ticket        int64   `json:"ticket"`
	ExecutedPrice float64 `json:"executed_price"`
	ExecutedLots  float64 `json:"executed_lots"`
	CommentText   string  `json:"comment"`
}

// Gateway retcodes that matter to the engine.
const (
	RetcodeDone      = 10009
	RetcodeRequote   = 10004
	RetcodePriceOff  = 10021
	RetcodeInvalidFi = 10030 // unsupported fill mode
)

// Done reports whether the order was executed.
func (r OrderResult) Done() bool {
	return r.Retcode == RetcodeDone
}

// Client is the surface the engine needs from a trading venue.
type Client interface {
	// Market data
	RecentBars(ctx context.Context, symbol string, tf Timeframe, count int) ([]Bar, error)
	Quote(ctx context.Context, symbol string) (Quote, error)
	SymbolConstraints(ctx context.Context, symbol string) (SymbolConstraints, error)

	// Positions
	OpenPositions(ctx context.Context, symbol string) ([]Position, error)
	AllPositions(ctx context.Context) ([]Position, error)

	// Trading
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ModifyStopLoss(ctx context.Context, req ModifyRequest) error
	ClosePosition(ctx context.Context, req CloseRequest) (OrderResult, error)
}
