// Package state holds the per-symbol adaptive trading state and the
// process-wide flags shared by the control loops and the API.
package state

import (
	"sync"
	"time"
)

const (
	// Rolling window sizes.
	tradeHistorySize    = 10
	recentDirectionSize = 5

	// Volume stays within [MinVolumeFactor, MaxVolumeFactor] of the base.
	MinVolumeFactor = 0.5
	MaxVolumeFactor = 2.0
)

// TradeResult is one completed trade outcome.
type TradeResult struct {
	Profit float64
	Win    bool
	Time   time.Time
}

// InstrumentState is the adaptive state for one symbol. All access goes
// through Store methods; the struct itself is never shared unlocked.
type InstrumentState struct {
	Symbol             string
	Volume             float64
	BaseVolume         float64
	ProfitThreshold    float64
	MinProfitThreshold float64

	TradesHistory     []TradeResult
	ConsecutiveLosses int

	IsRestricted    bool
	RestrictedSince time.Time

	LastTradeTime         time.Time
	RecentTradeDirections []string
	NeutralStartTime      time.Time

	// Tickets the engine knows it opened, used to detect positions that
	// vanished through manual intervention.
	LastKnownPositions map[int64]bool

	ManualIntervention     bool
	ManualInterventionTime time.Time
}

// Snapshot is a read-only copy of InstrumentState for the API and logs.
type Snapshot struct {
	Symbol             string    `json:"symbol"`
	Volume             float64   `json:"volume"`
	BaseVolume         float64   `json:"base_volume"`
	ProfitThreshold    float64   `json:"profit_threshold"`
	WinRate            float64   `json:"win_rate"`
	SampleCount        int       `json:"sample_count"`
	ConsecutiveLosses  int       `json:"consecutive_losses"`
	IsRestricted       bool      `json:"is_restricted"`
	RestrictedSince    time.Time `json:"restricted_since,omitempty"`
	LastTradeTime      time.Time `json:"last_trade_time,omitempty"`
	RecentDirections   []string  `json:"recent_directions"`
	NeutralSince       time.Time `json:"neutral_since,omitempty"`
	ManualIntervention bool      `json:"manual_intervention"`
	OpenTickets        []int64   `json:"open_tickets"`
}

// Store owns all per-symbol state.
type Store struct {
	mu      sync.RWMutex
	symbols map[string]*InstrumentState
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{symbols: make(map[string]*InstrumentState)}
}

// Register initializes state for a symbol with its base volume and
// starting profit threshold. Re-registering an existing symbol is a no-op.
func (s *Store) Register(symbol string, baseVolume, profitThreshold, minProfitThreshold float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.symbols[symbol]; ok {
		return
	}
	s.symbols[symbol] = &InstrumentState{
		Symbol:             symbol,
		Volume:             baseVolume,
		BaseVolume:         baseVolume,
		ProfitThreshold:    profitThreshold,
		MinProfitThreshold: minProfitThreshold,
		LastKnownPositions: make(map[int64]bool),
	}
}

// Symbols returns the registered symbol names.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	return out
}

// withState runs fn while holding the write lock, if the symbol exists.
func (s *Store) withState(symbol string, fn func(st *InstrumentState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.symbols[symbol]
	if !ok {
		return false
	}
	fn(st)
	return true
}

// readState runs fn while holding the read lock, if the symbol exists.
func (s *Store) readState(symbol string, fn func(st *InstrumentState)) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.symbols[symbol]
	if !ok {
		return false
	}
	fn(st)
	return true
}

// RecordTradeResult appends a completed trade to the rolling history and
// updates the consecutive-loss counter.
func (s *Store) RecordTradeResult(symbol string, profit float64, at time.Time) {
	s.withState(symbol, func(st *InstrumentState) {
		win := profit > 0
		st.TradesHistory = append(st.TradesHistory, TradeResult{Profit: profit, Win: win, Time: at})
		if len(st.TradesHistory) > tradeHistorySize {
			st.TradesHistory = st.TradesHistory[len(st.TradesHistory)-tradeHistorySize:]
		}
		if win {
			st.ConsecutiveLosses = 0
		} else {
			st.ConsecutiveLosses++
		}
	})
}

// BumpConsecutiveLosses extends the loss streak without recording a
// trade, used when an entry order is rejected outright. It returns the
// new streak length.
func (s *Store) BumpConsecutiveLosses(symbol string) int {
	var n int
	s.withState(symbol, func(st *InstrumentState) {
		st.ConsecutiveLosses++
		n = st.ConsecutiveLosses
	})
	return n
}

// RecordDirection appends an executed trade direction to the rolling window.
func (s *Store) RecordDirection(symbol, direction string) {
	s.withState(symbol, func(st *InstrumentState) {
		st.RecentTradeDirections = append(st.RecentTradeDirections, direction)
		if len(st.RecentTradeDirections) > recentDirectionSize {
			st.RecentTradeDirections = st.RecentTradeDirections[len(st.RecentTradeDirections)-recentDirectionSize:]
		}
	})
}

// DirectionCount returns how often direction appears in the recent window.
func (s *Store) DirectionCount(symbol, direction string) int {
	count := 0
	s.readState(symbol, func(st *InstrumentState) {
		for _, d := range st.RecentTradeDirections {
			if d == direction {
				count++
			}
		}
	})
	return count
}

// WinRate returns the win rate over the rolling window and the number of
// samples it was computed from. Fewer than the full window uses what is
// available; zero samples returns rate 0.
func (s *Store) WinRate(symbol string) (rate float64, samples int) {
	s.readState(symbol, func(st *InstrumentState) {
		samples = len(st.TradesHistory)
		if samples == 0 {
			return
		}
		wins := 0
		for _, tr := range st.TradesHistory {
			if tr.Win {
				wins++
			}
		}
		rate = float64(wins) / float64(samples)
	})
	return rate, samples
}

// RecentResults returns up to n most recent trade results, newest last.
func (s *Store) RecentResults(symbol string, n int) []TradeResult {
	var out []TradeResult
	s.readState(symbol, func(st *InstrumentState) {
		h := st.TradesHistory
		if len(h) > n {
			h = h[len(h)-n:]
		}
		out = append([]TradeResult(nil), h...)
	})
	return out
}

// ClampVolume bounds v to [MinVolumeFactor, MaxVolumeFactor] of the base.
func ClampVolume(v, base float64) float64 {
	if min := base * MinVolumeFactor; v < min {
		return min
	}
	if max := base * MaxVolumeFactor; v > max {
		return max
	}
	return v
}

// SetVolume updates the trade volume, clamped to the allowed range.
func (s *Store) SetVolume(symbol string, v float64) {
	s.withState(symbol, func(st *InstrumentState) {
		st.Volume = ClampVolume(v, st.BaseVolume)
	})
}

// Volume returns the current trade volume for a symbol.
func (s *Store) Volume(symbol string) float64 {
	var v float64
	s.readState(symbol, func(st *InstrumentState) { v = st.Volume })
	return v
}

// SetProfitThreshold updates the adaptive profit target, floored at the
// configured minimum.
func (s *Store) SetProfitThreshold(symbol string, t float64) {
	s.withState(symbol, func(st *InstrumentState) {
		if t < st.MinProfitThreshold {
			t = st.MinProfitThreshold
		}
		st.ProfitThreshold = t
	})
}

// ProfitThreshold returns the current adaptive profit target.
func (s *Store) ProfitThreshold(symbol string) float64 {
	var t float64
	s.readState(symbol, func(st *InstrumentState) { t = st.ProfitThreshold })
	return t
}

// ConsecutiveLosses returns the current loss streak.
func (s *Store) ConsecutiveLosses(symbol string) int {
	var n int
	s.readState(symbol, func(st *InstrumentState) { n = st.ConsecutiveLosses })
	return n
}

// Restrict marks the symbol as restricted from new entries.
func (s *Store) Restrict(symbol string, at time.Time) {
	s.withState(symbol, func(st *InstrumentState) {
		st.IsRestricted = true
		st.RestrictedSince = at
	})
}

// Unrestrict lifts a restriction and resets the loss streak.
func (s *Store) Unrestrict(symbol string) {
	s.withState(symbol, func(st *InstrumentState) {
		st.IsRestricted = false
		st.RestrictedSince = time.Time{}
		st.ConsecutiveLosses = 0
		st.ManualIntervention = false
	})
}

// Restriction reports whether the symbol is restricted and since when.
func (s *Store) Restriction(symbol string) (restricted bool, since time.Time) {
	s.readState(symbol, func(st *InstrumentState) {
		restricted = st.IsRestricted
		since = st.RestrictedSince
	})
	return restricted, since
}

// SetLastTradeTime records when the engine last opened a trade.
func (s *Store) SetLastTradeTime(symbol string, at time.Time) {
	s.withState(symbol, func(st *InstrumentState) { st.LastTradeTime = at })
}

// LastTradeTime returns when the engine last opened a trade.
func (s *Store) LastTradeTime(symbol string) time.Time {
	var at time.Time
	s.readState(symbol, func(st *InstrumentState) { at = st.LastTradeTime })
	return at
}

// MarkNeutral records the start of a neutral market phase if not already
// set, and returns the phase start time.
func (s *Store) MarkNeutral(symbol string, at time.Time) time.Time {
	var start time.Time
	s.withState(symbol, func(st *InstrumentState) {
		if st.NeutralStartTime.IsZero() {
			st.NeutralStartTime = at
		}
		start = st.NeutralStartTime
	})
	return start
}

// NeutralSince returns the start of the current neutral phase, zero if none.
func (s *Store) NeutralSince(symbol string) time.Time {
	var at time.Time
	s.readState(symbol, func(st *InstrumentState) { at = st.NeutralStartTime })
	return at
}

// ClearNeutral ends the neutral phase.
func (s *Store) ClearNeutral(symbol string) {
	s.withState(symbol, func(st *InstrumentState) { st.NeutralStartTime = time.Time{} })
}

// TrackPosition adds a ticket to the known-position set.
func (s *Store) TrackPosition(symbol string, ticket int64) {
	s.withState(symbol, func(st *InstrumentState) { st.LastKnownPositions[ticket] = true })
}

// UntrackPosition removes a ticket the engine closed itself.
func (s *Store) UntrackPosition(symbol string, ticket int64) {
	s.withState(symbol, func(st *InstrumentState) { delete(st.LastKnownPositions, ticket) })
}

// KnownTickets returns the set of tickets the engine believes are open.
func (s *Store) KnownTickets(symbol string) []int64 {
	var out []int64
	s.readState(symbol, func(st *InstrumentState) {
		for t := range st.LastKnownPositions {
			out = append(out, t)
		}
	})
	return out
}

// MarkManualIntervention flags that positions were touched outside the
// engine.
func (s *Store) MarkManualIntervention(symbol string, at time.Time) {
	s.withState(symbol, func(st *InstrumentState) {
		st.ManualIntervention = true
		st.ManualInterventionTime = at
	})
}

// ManualIntervention reports whether the symbol was flagged and when.
func (s *Store) ManualIntervention(symbol string) (bool, time.Time) {
	var flagged bool
	var at time.Time
	s.readState(symbol, func(st *InstrumentState) {
		flagged = st.ManualIntervention
		at = st.ManualInterventionTime
	})
	return flagged, at
}

// SnapshotFor returns a copy of one symbol's state.
func (s *Store) SnapshotFor(symbol string) (Snapshot, bool) {
	var snap Snapshot
	ok := s.readState(symbol, func(st *InstrumentState) {
		snap = snapshotLocked(st)
	})
	return snap, ok
}

// Snapshots returns copies of every symbol's state.
func (s *Store) Snapshots() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.symbols))
	for _, st := range s.symbols {
		out = append(out, snapshotLocked(st))
	}
	return out
}

func snapshotLocked(st *InstrumentState) Snapshot {
	wins, samples := 0, len(st.TradesHistory)
	for _, tr := range st.TradesHistory {
		if tr.Win {
			wins++
		}
	}
	rate := 0.0
	if samples > 0 {
		rate = float64(wins) / float64(samples)
	}
	tickets := make([]int64, 0, len(st.LastKnownPositions))
	for t := range st.LastKnownPositions {
		tickets = append(tickets, t)
	}
	return Snapshot{
		Symbol:             st.Symbol,
		Volume:             st.Volume,
		BaseVolume:         st.BaseVolume,
		ProfitThreshold:    st.ProfitThreshold,
		WinRate:            rate,
		SampleCount:        samples,
		ConsecutiveLosses:  st.ConsecutiveLosses,
		IsRestricted:       st.IsRestricted,
		RestrictedSince:    st.RestrictedSince,
		LastTradeTime:      st.LastTradeTime,
		RecentDirections:   append([]string(nil), st.RecentTradeDirections...),
		NeutralSince:       st.NeutralStartTime,
		ManualIntervention: st.ManualIntervention,
		OpenTickets:        tickets,
	}
}
