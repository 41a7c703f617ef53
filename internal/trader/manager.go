package trader

import (
	"github.com/rs/zerolog"

	"mt5-trading-bot/internal/events"
	"mt5-trading-bot/internal/mt5"
	"mt5-trading-bot/internal/position"
	"mt5-trading-bot/internal/risk"
	"mt5-trading-bot/internal/signal"
	"mt5-trading-bot/internal/state"
)

// Manager owns one trader per configured symbol.
type Manager struct {
	traders []*Trader
	bus     *events.EventBus
	logger  zerolog.Logger
}

// NewManager builds a trader for every symbol.
func NewManager(symbols []string, cfg Config, client mt5.Client, signals *signal.Engine, positions *position.Manager, store *state.Store, global *state.GlobalState, riskEng *risk.Engine, bus *events.EventBus, logger zerolog.Logger) *Manager {
	m := &Manager{
		bus:    bus,
		logger: logger.With().Str("component", "trader").Logger(),
	}
	for _, symbol := range symbols {
		m.traders = append(m.traders, New(symbol, cfg, client, signals, positions, store, global, riskEng, bus, logger))
	}
	return m
}

// StartAll launches every symbol loop.
func (m *Manager) StartAll() {
	for _, t := range m.traders {
		t.Start()
	}
	m.bus.Publish(events.Event{Type: events.EventEngineStarted})
	m.logger.Info().Int("symbols", len(m.traders)).Msg("all traders started")
}

// StopAll stops every symbol loop and waits for them to exit.
func (m *Manager) StopAll() {
	for _, t := range m.traders {
		t.Stop()
	}
	m.bus.Publish(events.Event{Type: events.EventEngineStopped})
	m.logger.Info().Msg("all traders stopped")
}
