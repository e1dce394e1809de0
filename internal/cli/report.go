package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bosgateway/internal/app"
	"bosgateway/internal/report"
)

var (
	reportUser   string
	reportOutput string
	reportFlags  = map[string]*string{
		"category": new(string),
		"currency": new(string),
		"fiat":     new(string),
		"month":    new(string),
		"year":     new(string),
	}
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a user's accounting report as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportUser == "" {
			return fmt.Errorf("--user is required")
		}

		present := func(name string) *string {
			if !cmd.Flags().Changed(name) {
				return nil
			}
			v := *reportFlags[name]
			return &v
		}
		req := report.Request{
			Category: present("category"),
			Currency: present("currency"),
			Fiat:     present("fiat"),
			Month:    present("month"),
			Year:     present("year"),
		}

		return getApp().Report(cmd.Context(), app.ReportOptions{UserID: reportUser, Request: req, Output: reportOutput})
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportUser, "user", "", "User id owning the node account")
	reportCmd.Flags().StringVar(&reportOutput, "output", "", "Write the CSV to this path instead of stdout")
	reportCmd.Flags().StringVar(reportFlags["category"], "category", "", "Report category (e.g. forwards, payments, chain-fees)")
	reportCmd.Flags().StringVar(reportFlags["currency"], "currency", "", "Base currency")
	reportCmd.Flags().StringVar(reportFlags["fiat"], "fiat", "", "Fiat currency for rates")
	reportCmd.Flags().StringVar(reportFlags["month"], "month", "", "Month filter")
	reportCmd.Flags().StringVar(reportFlags["year"], "year", "", "Year filter")
}
