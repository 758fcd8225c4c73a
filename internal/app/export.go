package app

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	chart "github.com/wcharczuk/go-chart/v2"
)

// Export renders a symbol's archived prices as CSV and/or PNG.
func (a *App) Export(opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	symbol := a.normalizeSymbol(opts.Symbol)
	if symbol == "" {
		return errors.New("--symbol is required")
	}

	prices := a.openFiles().prices.Read(symbol)
	if len(prices) == 0 {
		return fmt.Errorf("no archived prices for %s", symbol)
	}
	a.Logger.Info().Str("symbol", symbol).Int("points", len(prices)).Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writePricesCSV(opts.CSVPath, prices); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePricesPNG(opts.PNGPath, symbol, prices, a.Config.Export.Width, a.Config.Export.Height); err != nil {
			return err
		}
	}

	return nil
}

func writePricesCSV(path string, prices []float64) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"index", "price"}); err != nil {
		return err
	}
	for i, px := range prices {
		if err := writer.Write([]string{strconv.Itoa(i), strconv.FormatFloat(px, 'f', -1, 64)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writePricesPNG(path, symbol string, prices []float64, width, height int) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}

	x := make([]float64, len(prices))
	for i := range prices {
		x[i] = float64(i)
	}
	// go-chart needs at least two points to compute a range
	y := prices
	if len(prices) == 1 {
		x = []float64{0, 1}
		y = []float64{prices[0], prices[0]}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Title:  strings.ToUpper(symbol),
		Width:  width,
		Height: height,
		XAxis: chart.XAxis{
			Name: "Cycle",
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    symbol,
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
