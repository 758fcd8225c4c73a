package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"ticker-alerts/internal/storage"
)

// History prints the most recent trigger records, newest last.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	if opts.Database {
		return a.historyFromDatabase(ctx, opts.Limit)
	}

	records := a.openFiles().triggers.Tail(opts.Limit)
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts triggered yet")
		return nil
	}
	return writeTriggerTable(os.Stdout, records)
}

func (a *App) historyFromDatabase(ctx context.Context, limit int) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot read mirrored triggers")
	}
	defer closeStore()

	rows, err := store.ListRecentTriggers(ctx, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts triggered yet")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tTime (UTC)\tSymbol\tCondition\tValue\tCurrent")
	for _, row := range rows {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\n",
			row.ID,
			row.CreatedAt.UTC().Format(time.RFC3339),
			row.Symbol,
			row.Condition,
			formatPrice(row.Value),
			formatPrice(row.Current),
		)
	}
	return writer.Flush()
}

func writeTriggerTable(out io.Writer, records []storage.TriggerRecord) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tCondition\tValue\tCurrent")
	for _, rec := range records {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", rec.Symbol, rec.Condition, formatPrice(rec.Value), formatPrice(rec.Current))
	}
	return writer.Flush()
}

// formatPrice trims trailing zeros while keeping up to eight decimals.
func formatPrice(v float64) string {
	return decimal.NewFromFloat(v).Round(8).String()
}
