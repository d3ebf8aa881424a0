package cli

import (
	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run the delta-notification polling loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Poll(cmd.Context())
	},
}
