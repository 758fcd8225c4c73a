package storage

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultPriceHistoryMax bounds each archived series.
const DefaultPriceHistoryMax = 200

// PriceArchive is the durable per-symbol mirror of recent prices.
type PriceArchive struct {
	path   string
	max    int
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewPriceArchive binds an archive to a JSON file, keeping at most max prices per symbol.
func NewPriceArchive(path string, max int, logger zerolog.Logger) *PriceArchive {
	if max <= 0 {
		max = DefaultPriceHistoryMax
	}
	return &PriceArchive{
		path:   path,
		max:    max,
		logger: logger.With().Str("component", "price_archive").Str("path", path).Logger(),
	}
}

// Append adds one price per symbol, dropping the oldest entries past the bound.
func (a *PriceArchive) Append(prices map[string]float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	archive := a.readLocked()
	for sym, px := range prices {
		series := append(archive[sym], px)
		if len(series) > a.max {
			series = series[len(series)-a.max:]
		}
		archive[sym] = series
	}
	return writeJSON(a.path, archive)
}

// Read returns the archived series for one symbol, nil when absent.
func (a *PriceArchive) Read(symbol string) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readLocked()[symbol]
}

// ReadAll returns the whole archive.
func (a *PriceArchive) ReadAll() map[string][]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readLocked()
}

func (a *PriceArchive) readLocked() map[string][]float64 {
	var archive map[string][]float64
	if err := readJSON(a.path, &archive); err != nil {
		if !errors.Is(err, errMissing) {
			a.logger.Warn().Err(err).Msg("price history unreadable; starting empty")
		}
		return map[string][]float64{}
	}
	if archive == nil {
		archive = map[string][]float64{}
	}
	return archive
}
