package cli

import (
	"github.com/spf13/cobra"

	"ticker-alerts/internal/app"
)

var (
	exportSymbol  string
	exportPNGPath string
	exportCSVPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a symbol's archived prices as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(app.ExportOptions{
			Symbol:  exportSymbol,
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportSymbol, "symbol", "", "Symbol or base asset to export (e.g. BTCUSDT or btc)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
}
