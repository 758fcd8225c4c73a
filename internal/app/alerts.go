package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"ticker-alerts/internal/engine"
	"ticker-alerts/internal/storage"
)

// alertEngine serves the mutation API without a live market.
func (a *App) alertEngine() *engine.Engine {
	return a.newEngine(nil, a.openFiles(), nil, nil)
}

// AddAlert validates and persists a user alert. A bare base asset such as
// "btc" is paired with the configured quote asset.
func (a *App) AddAlert(symbol, condition, value string) (storage.UserAlert, error) {
	cond, err := storage.ParseCondition(condition)
	if err != nil {
		return storage.UserAlert{}, err
	}
	threshold, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return storage.UserAlert{}, fmt.Errorf("invalid alert value %q: %w", value, err)
	}

	alert := storage.UserAlert{
		Symbol:    a.normalizeSymbol(symbol),
		Condition: cond,
		Value:     storage.NewThreshold(threshold.InexactFloat64()),
	}
	if err := a.alertEngine().AddUserAlert(alert); err != nil {
		return storage.UserAlert{}, err
	}
	return alert, nil
}

// ListAlerts prints the active alerts in evaluation order.
func (a *App) ListAlerts() error {
	alerts := a.alertEngine().UserAlerts()
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no active alerts")
		return nil
	}
	return writeAlertTable(os.Stdout, alerts)
}

// ClearAlerts removes every active alert.
func (a *App) ClearAlerts() error {
	return a.alertEngine().ClearAllUserAlerts()
}

func (a *App) normalizeSymbol(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	quote := strings.ToUpper(a.Config.Universe.QuoteAsset)
	if sym != "" && quote != "" && !strings.HasSuffix(sym, quote) {
		sym += quote
	}
	return sym
}

func writeAlertTable(out io.Writer, alerts []storage.UserAlert) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tSymbol\tCondition\tValue")
	for i, alert := range alerts {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\n", i+1, alert.Symbol, alert.Condition, alert.Value.String())
	}
	return writer.Flush()
}
