package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ticker-alerts/internal/app"
)

var (
	historyLimit    int
	historyDatabase bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display recently triggered alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		return getApp().History(cmd.Context(), app.HistoryOptions{
			Limit:    historyLimit,
			Database: historyDatabase,
		})
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of trigger records to display")
	historyCmd.Flags().BoolVar(&historyDatabase, "db", false, "Read the PostgreSQL mirror instead of the JSON log")
}
