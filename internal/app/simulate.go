package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"ticker-alerts/internal/market"
	"ticker-alerts/internal/storage"
)

// SimulateAlert evaluates the active alerts against a synthetic tick and
// delivers any resulting notifications. The alert book is copied to a
// scratch directory so nothing persisted is consumed.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	symbol := a.normalizeSymbol(opts.Symbol)
	if symbol == "" {
		return errors.New("--symbol is required")
	}
	if opts.Price <= 0 {
		return errors.New("--price must be greater than zero")
	}

	scratch, err := os.MkdirTemp("", "tickeralerts-simulate-")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	live := a.openFiles()
	sandbox := files{alerts: storage.NewAlertBook(filepath.Join(scratch, "alerts.json"), a.Logger)}
	if err := sandbox.alerts.Save(live.alerts.Load()); err != nil {
		return err
	}

	store := market.NewStore(a.Config.Market.HistoryCapacity)
	store.ApplyTick(market.Tick{
		Symbol:             symbol,
		Price:              opts.Price,
		OpenPrice:          opts.Price,
		HighPrice:          opts.Price,
		LowPrice:           opts.Price,
		PriceChangePercent: opts.Percent,
	})

	report, err := a.newEngine(store, sandbox, nil, nil).Evaluate(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "simulated %s price=%s change=%+.2f%%: %d automatic, %d user alert(s) fired, %d would remain\n",
		symbol, formatPrice(opts.Price), opts.Percent, len(report.Auto), len(report.User), report.Remaining)
	if fired := append(report.Auto, report.User...); len(fired) > 0 {
		return writeTriggerTable(os.Stdout, fired)
	}
	return nil
}
