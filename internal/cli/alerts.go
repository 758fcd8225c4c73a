package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ticker-alerts/internal/storage"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage one-shot user alerts",
}

var alertsAddCmd = &cobra.Command{
	Use:   "add SYMBOL CONDITION VALUE",
	Short: "Add an alert (conditions: " + conditionList() + ")",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		alert, err := getApp().AddAlert(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s %s %s\n", alert.Symbol, alert.Condition, alert.Value.String())
		return nil
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlerts()
	},
}

var alertsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every active alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getApp().ClearAlerts(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "all alerts cleared")
		return nil
	},
}

func conditionList() string {
	names := make([]string, 0, len(storage.Conditions))
	for _, c := range storage.Conditions {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

func init() {
	alertsCmd.AddCommand(alertsAddCmd, alertsListCmd, alertsClearCmd)
}
