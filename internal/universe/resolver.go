// Package universe picks the symbols to subscribe to at startup.
package universe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ticker-alerts/internal/market"
)

const ticker24hPath = "/api/v3/ticker/24hr"

// Options parameterise the resolver.
type Options struct {
	BaseURL    string
	QuoteAsset string
	Candidates []string
	Timeout    time.Duration
	UserAgent  string
}

// Result is the resolved subscription set.
type Result struct {
	// Symbols is never empty while at least one candidate is configured.
	Symbols []string
	// Seeds holds the 24h statistics of the ranked symbols; empty on fallback.
	Seeds []market.Tick
	// Fallback is set when the candidate basket was used verbatim.
	Fallback bool
}

// Resolver ranks the candidate basket by trailing quote volume.
type Resolver struct {
	opts    Options
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewResolver constructs a resolver.
func NewResolver(opts Options, logger zerolog.Logger) *Resolver {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	opts.QuoteAsset = strings.ToUpper(strings.TrimSpace(opts.QuoteAsset))
	if opts.QuoteAsset == "" {
		opts.QuoteAsset = "USDT"
	}

	return &Resolver{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "universe").Logger(),
	}
}

// Resolve fetches 24h statistics and returns the top candidates by quote
// volume. Any failure falls back to the candidate basket.
func (r *Resolver) Resolve(ctx context.Context) Result {
	tickers, err := r.fetch(ctx)
	if err == nil {
		ranked := r.rank(tickers)
		if len(ranked) > 0 {
			res := Result{Symbols: make([]string, len(ranked)), Seeds: ranked}
			for i, t := range ranked {
				res.Symbols[i] = t.Symbol
			}
			r.logger.Info().Strs("symbols", res.Symbols).Msg("universe resolved by quote volume")
			return res
		}
		err = errors.New("no candidate traded against quote asset")
	}

	fallback := r.Fallback()
	r.logger.Warn().Err(err).Strs("symbols", fallback).Msg("universe fetch failed; using candidate basket")
	return Result{Symbols: fallback, Fallback: true}
}

// Fallback pairs every candidate with the quote asset, in configured order.
func (r *Resolver) Fallback() []string {
	out := make([]string, 0, len(r.opts.Candidates))
	for _, base := range r.opts.Candidates {
		base = strings.ToUpper(strings.TrimSpace(base))
		if base == "" {
			continue
		}
		out = append(out, base+r.opts.QuoteAsset)
	}
	return out
}

func (r *Resolver) fetch(ctx context.Context) ([]ticker24h, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+ticker24hPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ticker api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tickers []ticker24h
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("decode ticker response: %w", err)
	}
	return tickers, nil
}

// rank keeps allow-listed pairs quoted in the settlement currency, orders
// them by descending quote volume and truncates to the basket size.
func (r *Resolver) rank(tickers []ticker24h) []market.Tick {
	allowed := make(map[string]struct{}, len(r.opts.Candidates))
	for _, base := range r.opts.Candidates {
		allowed[strings.ToUpper(strings.TrimSpace(base))] = struct{}{}
	}

	type ranked struct {
		tick   market.Tick
		volume decimal.Decimal
	}
	pairs := make([]ranked, 0, len(allowed))
	for _, t := range tickers {
		base, ok := strings.CutSuffix(t.Symbol, r.opts.QuoteAsset)
		if !ok {
			continue
		}
		if _, ok := allowed[base]; !ok {
			continue
		}
		tick, qv, err := t.toTick()
		if err != nil {
			r.logger.Debug().Err(err).Str("symbol", t.Symbol).Msg("skipping malformed ticker")
			continue
		}
		pairs = append(pairs, ranked{tick: tick, volume: qv})
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].volume.GreaterThan(pairs[j].volume)
	})
	if len(pairs) > len(allowed) {
		pairs = pairs[:len(allowed)]
	}

	out := make([]market.Tick, len(pairs))
	for i, p := range pairs {
		out[i] = p.tick
	}
	return out
}

type ticker24h struct {
	Symbol             string `json:"symbol"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	OpenPrice          string `json:"openPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}

func (t ticker24h) toTick() (market.Tick, decimal.Decimal, error) {
	tick := market.Tick{Symbol: t.Symbol}
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"lastPrice", t.LastPrice, &tick.Price},
		{"openPrice", t.OpenPrice, &tick.OpenPrice},
		{"highPrice", t.HighPrice, &tick.HighPrice},
		{"lowPrice", t.LowPrice, &tick.LowPrice},
		{"volume", t.Volume, &tick.Volume},
		{"priceChangePercent", t.PriceChangePercent, &tick.PriceChangePercent},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return market.Tick{}, decimal.Decimal{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = d.InexactFloat64()
	}

	qv, err := decimal.NewFromString(t.QuoteVolume)
	if err != nil {
		return market.Tick{}, decimal.Decimal{}, fmt.Errorf("parse quoteVolume: %w", err)
	}
	tick.QuoteVolume = qv.InexactFloat64()
	if t.CloseTime > 0 {
		tick.EventTime = time.UnixMilli(t.CloseTime)
	}
	return tick, qv, nil
}
