package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"offer-stall-alerts/internal/app"
)

var (
	simulateReport string
	simulateSend   bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a report fixture through the stall detector",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateReport == "" {
			return errors.New("--report is required")
		}
		opts := app.SimulateOptions{
			ReportPath: simulateReport,
			Send:       simulateSend,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateReport, "report", "", "Path to a JSON report fixture")
	simulateCmd.Flags().BoolVar(&simulateSend, "send", false, "Deliver the resulting alerts to the chat")
}
