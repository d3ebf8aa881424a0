package cli

import (
	"github.com/spf13/cobra"

	"offer-stall-alerts/internal/app"
)

var digestLimit int

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Send the latest converting campaigns to the chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Digest(cmd.Context(), app.DigestOptions{Limit: digestLimit})
	},
}

func init() {
	digestCmd.Flags().IntVar(&digestLimit, "limit", 0, "Number of campaigns to send (defaults to config)")
}
