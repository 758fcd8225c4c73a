// Package market holds the shared, always-current view of every tracked symbol.
package market

import "time"

// DefaultHistoryCapacity bounds the rolling price history kept per symbol.
const DefaultHistoryCapacity = 200

// Trend is the direction of the last price move.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

// Tick is one decoded 24h ticker update for a single symbol.
type Tick struct {
	Symbol             string
	Price              float64
	OpenPrice          float64
	HighPrice          float64
	LowPrice           float64
	Volume             float64
	QuoteVolume        float64
	PriceChangePercent float64
	EventTime          time.Time
}

// SymbolMetrics is the current state of one symbol.
type SymbolMetrics struct {
	Symbol             string
	Price              float64
	OpenPrice          float64
	HighPrice          float64
	LowPrice           float64
	Volume             float64
	QuoteVolume        float64
	PriceChangePercent float64
	Trend              Trend
	History            []float64
	UpdatedAt          time.Time
}

// Snapshot is an immutable copy of the store taken at one instant.
type Snapshot map[string]SymbolMetrics

// deriveTrend compares the incoming price with the previous one.
func deriveTrend(prev, next float64) Trend {
	switch {
	case next > prev:
		return TrendUp
	case next < prev:
		return TrendDown
	default:
		return TrendFlat
	}
}
