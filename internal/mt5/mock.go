package mt5

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient implements the Client interface for dry-run mode and tests.
// Bars and quotes are scripted; submitted orders become simulated positions.
type MockClient struct {
	mu          sync.RWMutex
	bars        map[string][]Bar
	quotes      map[string]Quote
	constraints map[string]SymbolConstraints
	positions   map[int64]Position
	nextTicket  int64

	// Recorded calls, inspected by tests.
	SubmittedOrders []OrderRequest
	Modifications   []ModifyRequest
	Closes          []CloseRequest

	// Optional overrides. When set, the corresponding method delegates.
	SubmitFunc func(ctx context.Context, req OrderRequest) (OrderResult, error)
	ModifyFunc func(ctx context.Context, req ModifyRequest) error
	CloseFunc  func(ctx context.Context, req CloseRequest) (OrderResult, error)
}

// NewMockClient creates an empty mock venue.
func NewMockClient() *MockClient {
	return &MockClient{
		bars:        make(map[string][]Bar),
		quotes:      make(map[string]Quote),
		constraints: make(map[string]SymbolConstraints),
		positions:   make(map[int64]Position),
		nextTicket:  1000,
	}
}

// SetBars scripts the bar series returned for a symbol.
func (c *MockClient) SetBars(symbol string, bars []Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bars[symbol] = bars
}

// SetQuote scripts the quote returned for a symbol.
func (c *MockClient) SetQuote(symbol string, q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[symbol] = q
}

// SetConstraints scripts the symbol constraints.
func (c *MockClient) SetConstraints(symbol string, sc SymbolConstraints) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.constraints[symbol] = sc
}

// AddPosition seeds an open position and returns its ticket.
func (c *MockClient) AddPosition(p Position) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Ticket == 0 {
		c.nextTicket++
		p.Ticket = c.nextTicket
	}
	c.positions[p.Ticket] = p
	return p.Ticket
}

// RemovePosition deletes a position without recording a close, simulating
// manual intervention from a terminal.
func (c *MockClient) RemovePosition(ticket int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.positions, ticket)
}

// GetPosition returns the current state of a simulated position.
func (c *MockClient) GetPosition(ticket int64) (Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[ticket]
	return p, ok
}

func (c *MockClient) RecentBars(ctx context.Context, symbol string, tf Timeframe, count int) ([]Bar, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bars, ok := c.bars[symbol]
	if !ok || len(bars) < count {
		return nil, fmt.Errorf("%w: no bars for %s", ErrStaleData, symbol)
	}
	out := make([]Bar, count)
	copy(out, bars[len(bars)-count:])
	return out, nil
}

func (c *MockClient) Quote(ctx context.Context, symbol string) (Quote, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	if !ok {
		return Quote{}, fmt.Errorf("%w: no quote for %s", ErrStaleData, symbol)
	}
	return q, nil
}

func (c *MockClient) SymbolConstraints(ctx context.Context, symbol string) (SymbolConstraints, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if sc, ok := c.constraints[symbol]; ok {
		return sc, nil
	}
	// Sensible forex defaults so dry-run works without scripting.
	return SymbolConstraints{
		Symbol:     symbol,
		VolumeMin:  0.01,
		VolumeMax:  100,
		VolumeStep: 0.01,
		Point:      0.0001,
		Digits:     5,
		StopsLevel: 10,
	}, nil
}

func (c *MockClient) OpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Position
	for _, p := range c.positions {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *MockClient) AllPositions(ctx context.Context) ([]Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, p)
	}
	return out, nil
}

func (c *MockClient) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if c.SubmitFunc != nil {
		c.mu.Lock()
		c.SubmittedOrders = append(c.SubmittedOrders, req)
		c.mu.Unlock()
		return c.SubmitFunc(ctx, req)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.SubmittedOrders = append(c.SubmittedOrders, req)

	price := req.Price
	if q, ok := c.quotes[req.Symbol]; ok {
		if req.Side == Buy {
			price = q.Ask
		} else {
			price = q.Bid
		}
	}

	c.nextTicket++
	c.positions[c.nextTicket] = Position{
		Ticket:       c.nextTicket,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Volume:       req.Volume,
		OpenPrice:    price,
		CurrentPrice: price,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		OpenTime:     time.Now(),
		Comment:      req.Comment,
		Magic:        req.Magic,
	}
	return OrderResult{
		Retcode:       RetcodeDone,
		Ticket:        c.nextTicket,
		ExecutedPrice: price,
		ExecutedLots:  req.Volume,
	}, nil
}

func (c *MockClient) ModifyStopLoss(ctx context.Context, req ModifyRequest) error {
	if c.ModifyFunc != nil {
		c.mu.Lock()
		c.Modifications = append(c.Modifications, req)
		c.mu.Unlock()
		return c.ModifyFunc(ctx, req)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Modifications = append(c.Modifications, req)
	p, ok := c.positions[req.Ticket]
	if !ok {
		return fmt.Errorf("%w: ticket %d not found", ErrRejected, req.Ticket)
	}
	p.StopLoss = req.StopLoss
	if req.TakeProfit != 0 {
		p.TakeProfit = req.TakeProfit
	}
	c.positions[req.Ticket] = p
	return nil
}

func (c *MockClient) ClosePosition(ctx context.Context, req CloseRequest) (OrderResult, error) {
	if c.CloseFunc != nil {
		c.mu.Lock()
		c.Closes = append(c.Closes, req)
		c.mu.Unlock()
		return c.CloseFunc(ctx, req)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closes = append(c.Closes, req)
	p, ok := c.positions[req.Ticket]
	if !ok {
		return OrderResult{}, fmt.Errorf("%w: ticket %d not found", ErrRejected, req.Ticket)
	}
	delete(c.positions, req.Ticket)
	return OrderResult{
		Retcode:       RetcodeDone,
		Ticket:        req.Ticket,
		ExecutedPrice: p.CurrentPrice,
		ExecutedLots:  p.Volume,
	}, nil
}
