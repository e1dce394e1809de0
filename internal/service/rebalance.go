package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bosgateway/internal/account"
	"bosgateway/internal/alerting"
	"bosgateway/internal/outcome"
	"bosgateway/internal/progress"
	"bosgateway/internal/rebalance"
	"bosgateway/internal/storage"
)

// Rebalance runs one rebalance job for userID and blocks until it settles.
// An unknown user yields ErrAccountNotFound before anything runs; every
// later failure is carried by the returned Outcome.
func (s *Service) Rebalance(ctx context.Context, userID string, req rebalance.Request) (outcome.Outcome[rebalance.Response], error) {
	creds, err := s.lookup(userID)
	if err != nil {
		return outcome.Outcome[rebalance.Response]{}, err
	}

	params := rebalance.Normalize(req)
	jobID := uuid.New()
	logger := s.logger.With().Str("job_id", jobID.String()).Str("user_id", userID).Logger()
	logger.Info().Interface("params", params).Str("node", creds.Name).Msg("rebalance requested")

	adapter := progress.New(userID, progress.NewZerologSink(logger, userID), s.opts.Publisher, logger)

	startedAt := s.now()
	s.insertJob(ctx, jobID, userID, params)

	raw := outcome.Run(ctx, func(ctx context.Context) (rebalance.RawResult, error) {
		return s.opts.Rebalancer.Rebalance(ctx, creds, adapter, s.opts.Files, params)
	})

	result := settle(raw)
	elapsed := s.now().Sub(startedAt)

	if result.OK() {
		logger.Info().Dur("elapsed", elapsed).Msg("rebalance succeeded")
	} else {
		logger.Error().Err(result.Err()).Dur("elapsed", elapsed).Msg("rebalance failed")
	}

	s.opts.Metrics.Rebalance(result.OK(), elapsed)
	s.finishJob(ctx, jobID, result)
	s.notify(ctx, jobID, userID, creds, params, result, elapsed)

	return result, nil
}

// settle checks the raw shape and decomposes it.
func settle(raw outcome.Outcome[rebalance.RawResult]) outcome.Outcome[rebalance.Response] {
	value, err := raw.Unwrap()
	if err != nil {
		return outcome.Failure[rebalance.Response](err)
	}
	if err := rebalance.CheckShape(value); err != nil {
		return outcome.Failure[rebalance.Response](err)
	}
	return outcome.Success(rebalance.Decompose(value))
}

func (s *Service) insertJob(ctx context.Context, id uuid.UUID, userID string, params rebalance.Params) {
	if s.opts.Jobs == nil {
		return
	}
	body, err := json.Marshal(params)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal job params")
		return
	}
	job := storage.JobRecord{
		ID:        id,
		UserID:    userID,
		Params:    body,
		Status:    storage.StatusRunning,
		StartedAt: s.now(),
	}
	if err := s.opts.Jobs.InsertJob(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error().Err(err).Str("job_id", id.String()).Msg("failed to persist job")
	}
}

func (s *Service) finishJob(ctx context.Context, id uuid.UUID, result outcome.Outcome[rebalance.Response]) {
	if s.opts.Jobs == nil {
		return
	}
	out, err := jobOutcome(result)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", id.String()).Msg("encode job outcome")
		msg := err.Error()
		out = storage.JobOutcome{Status: storage.StatusFailed, Error: &msg}
	}
	if err := s.opts.Jobs.FinishJob(context.WithoutCancel(ctx), id, out, s.now()); err != nil {
		s.logger.Error().Err(err).Str("job_id", id.String()).Msg("failed to finish job")
	}
}

func jobOutcome(result outcome.Outcome[rebalance.Response]) (storage.JobOutcome, error) {
	resp, ok := result.Value()
	if !ok {
		msg := result.Err().Error()
		return storage.JobOutcome{Status: storage.StatusFailed, Error: &msg}, nil
	}

	out := storage.JobOutcome{Status: storage.StatusSucceeded}
	for _, field := range []struct {
		dst *json.RawMessage
		src any
	}{
		{&out.Increase, resp.Increase},
		{&out.Decrease, resp.Decrease},
		{&out.Result, resp.Result},
	} {
		if field.src == nil {
			continue
		}
		b, err := json.Marshal(field.src)
		if err != nil {
			return storage.JobOutcome{}, fmt.Errorf("marshal job result: %w", err)
		}
		*field.dst = b
	}
	return out, nil
}

func (s *Service) notify(ctx context.Context, id uuid.UUID, userID string, creds account.Credentials, params rebalance.Params, result outcome.Outcome[rebalance.Response], elapsed time.Duration) {
	if s.opts.Notifier == nil {
		return
	}
	if (result.OK() && !s.opts.NotifySuccess) || (!result.OK() && !s.opts.NotifyFailure) {
		return
	}

	note := alerting.Notification{
		JobID:      id.String(),
		UserID:     userID,
		Node:       creds.Name,
		Succeeded:  result.OK(),
		Elapsed:    elapsed,
		FinishedAt: s.now(),
	}
	if amount, err := decimal.NewFromString(params.MaxRebalance); err == nil {
		note.Amount = amount
	}
	if resp, ok := result.Value(); ok {
		note.Increase = resp.Increase
		note.Decrease = resp.Decrease
	} else {
		note.Error = result.Err().Error()
	}

	if err := s.opts.Notifier.Notify(context.WithoutCancel(ctx), note); err != nil {
		s.logger.Error().Err(err).Str("job_id", id.String()).Msg("failed to dispatch notification")
	}
}
