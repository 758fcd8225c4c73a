package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"ticker-alerts/internal/app"
)

var (
	simulateSymbol  string
	simulatePrice   float64
	simulatePercent float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Evaluate active alerts against a synthetic tick without consuming them",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 {
			return errors.New("--price must be greater than zero")
		}
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Symbol:  simulateSymbol,
			Price:   simulatePrice,
			Percent: simulatePercent,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Symbol or base asset")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "Last price of the synthetic tick")
	simulateCmd.Flags().Float64Var(&simulatePercent, "percent", 0, "24h percent change of the synthetic tick")
}
