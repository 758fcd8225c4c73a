package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"ticker-alerts/internal/market"
	"ticker-alerts/internal/service"
	"ticker-alerts/internal/universe"
)

// Snapshot subscribes for a short while and prints the live market table.
func (a *App) Snapshot(ctx context.Context, opts SnapshotOptions) error {
	store := market.NewStore(a.Config.Market.HistoryCapacity)
	ingestor := a.newIngestor(store)
	svc := service.New(a.newResolver(), store, ingestor, nil, nil, a.Logger)

	if _, err := svc.Start(ctx); err != nil {
		return err
	}

	if opts.Wait > 0 {
		timer := time.NewTimer(opts.Wait)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		timer.Stop()
	}

	if err := ingestor.Stop(); err != nil {
		a.Logger.Warn().Err(err).Msg("subscription stop incomplete")
	}

	snap := store.Snapshot()
	if len(snap) == 0 {
		fmt.Fprintln(os.Stdout, "no market data received")
		return nil
	}
	return writeSnapshotTable(os.Stdout, snap, a.Config.Universe.QuoteAsset)
}

func writeSnapshotTable(out io.Writer, snap market.Snapshot, quote string) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tName\tPrice\t24h%\tHigh\tLow\tVolume\tQuote Vol\tTrend")

	for _, sym := range snap.SortedSymbols() {
		rec := snap[sym]
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%+.2f\t%s\t%s\t%s\t%s\t%s\n",
			sym,
			universe.DisplayName(sym, quote),
			formatPrice(rec.Price),
			rec.PriceChangePercent,
			formatPrice(rec.HighPrice),
			formatPrice(rec.LowPrice),
			universe.FormatVolume(rec.Volume),
			universe.FormatVolume(rec.QuoteVolume),
			trendArrow(rec.Trend),
		)
	}

	return writer.Flush()
}

func trendArrow(t market.Trend) string {
	switch t {
	case market.TrendUp:
		return "▲"
	case market.TrendDown:
		return "▼"
	default:
		return "-"
	}
}
