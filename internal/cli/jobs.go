package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bosgateway/internal/app"
)

var (
	jobsUser  string
	jobsLimit int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Display recent rebalance jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jobsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.JobsOptions{
			UserID: jobsUser,
			Limit:  jobsLimit,
		}

		return getApp().ShowJobs(cmd.Context(), opts)
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsUser, "user", "", "Only show jobs of this user")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Number of jobs to display")
}
