package cli

import (
	"github.com/spf13/cobra"

	"offer-stall-alerts/internal/app"
)

var (
	resetScan  bool
	resetDelta bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete persisted state so the next run records a fresh baseline",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ResetOptions{
			Scan:  resetScan,
			Delta: resetDelta,
		}
		return getApp().Reset(cmd.Context(), opts)
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetScan, "scan", false, "Reset only the detector state")
	resetCmd.Flags().BoolVar(&resetDelta, "delta", false, "Reset only the delta snapshot")
}
