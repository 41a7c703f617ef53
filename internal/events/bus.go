package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTradeOpened        EventType = "TRADE_OPENED"
	EventTradeClosed        EventType = "TRADE_CLOSED"
	EventSignalGenerated    EventType = "SIGNAL_GENERATED"
	EventOrderPlaced        EventType = "ORDER_PLACED"
	EventStopMoved          EventType = "STOP_MOVED"
	EventPositionScaled     EventType = "POSITION_SCALED"
	EventPositionReversed   EventType = "POSITION_REVERSED"
	EventSymbolRestricted   EventType = "SYMBOL_RESTRICTED"
	EventManualIntervention EventType = "MANUAL_INTERVENTION"
	EventTradingModeChanged EventType = "TRADING_MODE_CHANGED"
	EventEngineStarted      EventType = "ENGINE_STARTED"
	EventEngineStopped      EventType = "ENGINE_STOPPED"
	EventError              EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(symbol, side string, ticket int64, price, volume float64) {
	eb.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"symbol": symbol,
			"side":   side,
			"ticket": ticket,
			"price":  price,
			"volume": volume,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(symbol string, ticket int64, profit float64, reason string) {
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"symbol": symbol,
			"ticket": ticket,
			"profit": profit,
			"reason": reason,
		},
	})
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(symbol, action string, score int, confidence, potentialProfit float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":           symbol,
			"action":           action,
			"score":            score,
			"confidence":       confidence,
			"potential_profit": potentialProfit,
		},
	})
}

// PublishOrderPlaced publishes an order placement event
func (eb *EventBus) PublishOrderPlaced(symbol, side string, volume, price float64, retcode int) {
	eb.Publish(Event{
		Type: EventOrderPlaced,
		Data: map[string]interface{}{
			"symbol":  symbol,
			"side":    side,
			"volume":  volume,
			"price":   price,
			"retcode": retcode,
		},
	})
}

// PublishStopMoved publishes a stop loss modification event
func (eb *EventBus) PublishStopMoved(symbol string, ticket int64, newStop float64, reason string) {
	eb.Publish(Event{
		Type: EventStopMoved,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"ticket":    ticket,
			"stop_loss": newStop,
			"reason":    reason,
		},
	})
}

// PublishPositionScaled publishes a scale-up event
func (eb *EventBus) PublishPositionScaled(symbol string, ticket int64, addedVolume float64) {
	eb.Publish(Event{
		Type: EventPositionScaled,
		Data: map[string]interface{}{
			"symbol":       symbol,
			"ticket":       ticket,
			"added_volume": addedVolume,
		},
	})
}

// PublishPositionReversed publishes a reversal event
func (eb *EventBus) PublishPositionReversed(symbol string, closedTicket int64, newSide string, volume float64) {
	eb.Publish(Event{
		Type: EventPositionReversed,
		Data: map[string]interface{}{
			"symbol":        symbol,
			"closed_ticket": closedTicket,
			"new_side":      newSide,
			"volume":        volume,
		},
	})
}

// PublishSymbolRestricted publishes a restriction event
func (eb *EventBus) PublishSymbolRestricted(symbol string, consecutiveLosses int) {
	eb.Publish(Event{
		Type: EventSymbolRestricted,
		Data: map[string]interface{}{
			"symbol":             symbol,
			"consecutive_losses": consecutiveLosses,
		},
	})
}

// PublishManualIntervention publishes a manual intervention detection event
func (eb *EventBus) PublishManualIntervention(symbol string, missingTickets []int64) {
	eb.Publish(Event{
		Type: EventManualIntervention,
		Data: map[string]interface{}{
			"symbol":          symbol,
			"missing_tickets": missingTickets,
		},
	})
}

// PublishTradingModeChanged publishes a conservative mode toggle event
func (eb *EventBus) PublishTradingModeChanged(conservative bool) {
	eb.Publish(Event{
		Type: EventTradingModeChanged,
		Data: map[string]interface{}{
			"conservative": conservative,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
