package app

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"bosgateway/internal/report"
)

// ReportOptions configure the report command.
type ReportOptions struct {
	UserID  string
	Request report.Request
	// Output is a file path; empty writes to Out.
	Output string
}

// Report fetches the accounting report and writes the CSV.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	svc, err := a.newService(serviceDeps{})
	if err != nil {
		return err
	}

	out, err := svc.AccountingReport(ctx, opts.UserID, opts.Request)
	if err != nil {
		return err
	}
	csv, err := out.Unwrap()
	if err != nil {
		return fmt.Errorf("accounting report failed: %w", err)
	}

	if opts.Output == "" {
		_, err := io.WriteString(a.Out, csv)
		return err
	}
	if err := afero.WriteFile(afero.NewOsFs(), opts.Output, []byte(csv), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	a.Logger.Info().Str("path", opts.Output).Int("bytes", len(csv)).Msg("accounting report written")
	return nil
}
