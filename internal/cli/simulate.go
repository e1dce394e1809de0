package cli

import (
	"github.com/spf13/cobra"
)

var simulateFailure bool

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Send a sample settlement notification through the configured channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateNotification(cmd.Context(), !simulateFailure)
	},
}

func init() {
	simulateCmd.Flags().BoolVar(&simulateFailure, "failure", false, "Simulate a failed job instead of a settled one")
}
