package market

import (
	"sort"
	"sync"
	"time"
)

// Store maps symbols to their metrics. ApplyTick is meant for a single
// writer; any number of readers may call Snapshot or Get concurrently.
type Store struct {
	mu       sync.RWMutex
	records  map[string]*SymbolMetrics
	capacity int
	now      func() time.Time
}

// NewStore builds a store whose per-symbol history holds at most capacity prices.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &Store{
		records:  make(map[string]*SymbolMetrics),
		capacity: capacity,
		now:      time.Now,
	}
}

// ApplyTick replaces the symbol's fields with the tick and appends its price
// to the history. The whole update happens in one critical section.
func (s *Store) ApplyTick(t Tick) {
	if t.Symbol == "" {
		return
	}
	updatedAt := t.EventTime
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[t.Symbol]
	if !ok {
		rec = &SymbolMetrics{Symbol: t.Symbol, Price: t.Price}
		s.records[t.Symbol] = rec
	}

	trend := deriveTrend(rec.Price, t.Price)

	rec.Price = t.Price
	rec.OpenPrice = t.OpenPrice
	rec.HighPrice = t.HighPrice
	rec.LowPrice = t.LowPrice
	rec.Volume = t.Volume
	rec.QuoteVolume = t.QuoteVolume
	rec.PriceChangePercent = t.PriceChangePercent
	rec.Trend = trend
	rec.UpdatedAt = updatedAt

	rec.History = appendBounded(rec.History, t.Price, s.capacity)
}

// Seed inserts a record built from t when the symbol is not tracked yet.
// The seeded record has a flat trend and an empty history.
func (s *Store) Seed(t Tick) bool {
	if t.Symbol == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[t.Symbol]; ok {
		return false
	}
	s.records[t.Symbol] = &SymbolMetrics{
		Symbol:             t.Symbol,
		Price:              t.Price,
		OpenPrice:          t.OpenPrice,
		HighPrice:          t.HighPrice,
		LowPrice:           t.LowPrice,
		Volume:             t.Volume,
		QuoteVolume:        t.QuoteVolume,
		PriceChangePercent: t.PriceChangePercent,
		Trend:              TrendFlat,
		UpdatedAt:          s.now(),
	}
	return true
}

// Snapshot returns a deep copy of every record.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(Snapshot, len(s.records))
	for sym, rec := range s.records {
		out[sym] = copyMetrics(rec)
	}
	return out
}

// Get returns a copy of one record. Unknown symbols yield the zero value and false.
func (s *Store) Get(symbol string) (SymbolMetrics, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[symbol]
	if !ok {
		return SymbolMetrics{}, false
	}
	return copyMetrics(rec), true
}

// Symbols lists the tracked symbols in lexical order.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.records))
	for sym := range s.records {
		out = append(out, sym)
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Len reports how many symbols are tracked.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func copyMetrics(rec *SymbolMetrics) SymbolMetrics {
	out := *rec
	if rec.History != nil {
		out.History = make([]float64, len(rec.History))
		copy(out.History, rec.History)
	}
	return out
}

func appendBounded(history []float64, price float64, capacity int) []float64 {
	if len(history) < capacity {
		return append(history, price)
	}
	// shift in place so the backing array never grows past capacity
	copy(history, history[1:])
	history[len(history)-1] = price
	return history
}

// SortedSymbols returns the snapshot's symbols in lexical order.
func (s Snapshot) SortedSymbols() []string {
	out := make([]string, 0, len(s))
	for sym := range s {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Prices extracts the current price of every symbol.
func (s Snapshot) Prices() map[string]float64 {
	out := make(map[string]float64, len(s))
	for sym, m := range s {
		out[sym] = m.Price
	}
	return out
}
