// Package stream consumes the combined 24h ticker websocket stream.
package stream

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ticker-alerts/internal/market"
)

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tickerEvent mirrors the 24hrTicker payload. Pointers tell absent fields apart.
type tickerEvent struct {
	EventTime   int64   `json:"E"`
	Symbol      *string `json:"s"`
	Close       *string `json:"c"`
	Open        *string `json:"o"`
	High        *string `json:"h"`
	Low         *string `json:"l"`
	Volume      *string `json:"v"`
	QuoteVolume *string `json:"q"`
	ChangePct   *string `json:"P"`
}

// DecodeTick turns one combined-stream message into a tick. It reports false
// for anything that is not a complete ticker update.
func DecodeTick(msg []byte) (market.Tick, bool) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil || len(env.Data) == 0 {
		return market.Tick{}, false
	}

	var ev tickerEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return market.Tick{}, false
	}
	if ev.Symbol == nil || *ev.Symbol == "" {
		return market.Tick{}, false
	}

	tick := market.Tick{Symbol: strings.ToUpper(*ev.Symbol)}
	required := []struct {
		raw *string
		dst *float64
	}{
		{ev.Close, &tick.Price},
		{ev.Open, &tick.OpenPrice},
		{ev.High, &tick.HighPrice},
		{ev.Low, &tick.LowPrice},
		{ev.Volume, &tick.Volume},
		{ev.ChangePct, &tick.PriceChangePercent},
	}
	for _, f := range required {
		v, ok := parseNumber(f.raw)
		if !ok {
			return market.Tick{}, false
		}
		*f.dst = v
	}
	if v, ok := parseNumber(ev.QuoteVolume); ok {
		tick.QuoteVolume = v
	}
	if ev.EventTime > 0 {
		tick.EventTime = time.UnixMilli(ev.EventTime)
	}
	return tick, true
}

func parseNumber(raw *string) (float64, bool) {
	if raw == nil {
		return 0, false
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// StreamURL builds the combined-stream endpoint for the given symbols.
func StreamURL(base string, symbols []string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/stream")
	if err != nil {
		return "", fmt.Errorf("parse stream base url: %w", err)
	}
	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToLower(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		streams = append(streams, sym+"@ticker")
	}
	if len(streams) == 0 {
		return "", fmt.Errorf("no symbols to subscribe")
	}
	// '@' and '/' are kept literal, which is what the exchange expects.
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}
