package position

import (
	"sync"

	"mt5-trading-bot/internal/mt5"
)

// TrailingRecord tracks the most favorable price seen for one open
// position. A record exists exactly while its ticket is open.
type TrailingRecord struct {
	HighestPrice float64
	LowestPrice  float64
	MaxProfit    float64
	BreakevenSet bool
	ProfitLocked bool
	ScaledTiers  map[int]bool
}

// trailingStore is the concurrency-safe ticket -> record map. Loops for
// different symbols share it but never touch the same ticket.
type trailingStore struct {
	mu      sync.Mutex
	records map[int64]*TrailingRecord
}

func newTrailingStore() *trailingStore {
	return &trailingStore{records: make(map[int64]*TrailingRecord)}
}

// get returns the record for a ticket, creating it on first sighting.
func (s *trailingStore) get(p mt5.Position) *TrailingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[p.Ticket]
	if !ok {
		r = &TrailingRecord{
			HighestPrice: p.CurrentPrice,
			LowestPrice:  p.CurrentPrice,
			ScaledTiers:  make(map[int]bool),
		}
		s.records[p.Ticket] = r
	}
	return r
}

// drop removes the record for a closed ticket.
func (s *trailingStore) drop(ticket int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, ticket)
}

// prune removes records whose tickets are no longer open.
func (s *trailingStore) prune(open map[int64]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ticket := range s.records {
		if !open[ticket] {
			delete(s.records, ticket)
		}
	}
}

// size reports the number of live records.
func (s *trailingStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
