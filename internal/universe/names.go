package universe

import (
	"fmt"
	"math"
	"strings"
)

var displayNames = map[string]string{
	"BTC":   "Bitcoin",
	"ETH":   "Ethereum",
	"BNB":   "Binance Coin",
	"SOL":   "Solana",
	"XRP":   "Ripple",
	"DASH":  "Dash",
	"ZEC":   "Zcash",
	"FDUSD": "First Digital USD (Stablecoin)",
	"USDC":  "USD Coin (Stablecoin)",
	"ASTER": "Astar",
	"DOT":   "Polkadot",
	"ADA":   "Cardano",
	"DOGE":  "Dogecoin",
	"TRX":   "Tron",
	"SHIB":  "Shiba Inu",
	"AVAX":  "Avalanche",
}

// DisplayName returns a human name for a symbol such as BTCUSDT, or the base
// asset itself when unknown.
func DisplayName(symbol, quote string) string {
	base := strings.TrimSuffix(strings.ToUpper(symbol), strings.ToUpper(quote))
	if name, ok := displayNames[base]; ok {
		return name
	}
	return base
}

// FormatVolume abbreviates large volumes with K/M/B suffixes.
func FormatVolume(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1_000_000_000:
		return fmt.Sprintf("%.2fB", v/1_000_000_000)
	case abs >= 1_000_000:
		return fmt.Sprintf("%.2fM", v/1_000_000)
	case abs >= 1_000:
		return fmt.Sprintf("%.2fK", v/1_000)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
