package service

import (
	"context"

	"bosgateway/internal/outcome"
	"bosgateway/internal/report"
)

// AccountingReport builds the report for userID. An unknown user yields
// ErrAccountNotFound; report faults are carried by the Outcome.
func (s *Service) AccountingReport(ctx context.Context, userID string, req report.Request) (outcome.Outcome[string], error) {
	creds, err := s.lookup(userID)
	if err != nil {
		return outcome.Outcome[string]{}, err
	}

	params := report.Build(req, s.opts.ReportSettings)
	logger := s.logger.With().Str("user_id", userID).Logger()
	logger.Info().Interface("filters", params.Filters()).Str("rate_provider", params.RateProvider).Msg("accounting report requested")

	result := outcome.Run(ctx, func(ctx context.Context) (string, error) {
		return s.opts.Reporter.AccountingReport(ctx, creds, logger, params)
	})
	if !result.OK() {
		logger.Error().Err(result.Err()).Msg("accounting report failed")
	}
	s.opts.Metrics.Report(result.OK())
	return result, nil
}
