package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ticker-alerts/internal/app"
)

var snapshotWait time.Duration

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Subscribe briefly and print the current market table",
	RunE: func(cmd *cobra.Command, args []string) error {
		if snapshotWait < 0 {
			return fmt.Errorf("--wait must not be negative")
		}
		return getApp().Snapshot(cmd.Context(), app.SnapshotOptions{Wait: snapshotWait})
	},
}

func init() {
	snapshotCmd.Flags().DurationVar(&snapshotWait, "wait", 3*time.Second, "How long to collect stream updates before printing")
}
