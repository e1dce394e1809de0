// Package service orchestrates account resolution, the external bos
// operations, progress streaming, job history and notifications.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"bosgateway/internal/account"
	"bosgateway/internal/alerting"
	"bosgateway/internal/metrics"
	"bosgateway/internal/progress"
	"bosgateway/internal/rebalance"
	"bosgateway/internal/report"
	"bosgateway/internal/storage"
)

// ErrAccountNotFound is returned synchronously when the user has no node account.
var ErrAccountNotFound = fmt.Errorf("service: %w", account.ErrNotFound)

// Rebalancer is the external rebalance operation.
type Rebalancer interface {
	Rebalance(ctx context.Context, creds account.Credentials, log progress.Logger, files afero.Fs, params rebalance.Params) (rebalance.RawResult, error)
}

// Reporter is the external accounting report operation.
type Reporter interface {
	AccountingReport(ctx context.Context, creds account.Credentials, logger zerolog.Logger, params report.Params) (string, error)
}

// Options wires collaborators into the Service. Jobs, Notifier and Metrics are optional.
type Options struct {
	Accounts       account.Resolver
	Rebalancer     Rebalancer
	Reporter       Reporter
	Files          afero.Fs
	Publisher      progress.Publisher
	Jobs           storage.JobStore
	Notifier       alerting.Notifier
	Metrics        *metrics.Recorder
	ReportSettings report.Settings
	NotifySuccess  bool
	NotifyFailure  bool

	// Retention
	Locker          storage.AdvisoryLocker
	LockKey         int64
	RetentionPeriod time.Duration
}

// Service exposes the gateway operations.
type Service struct {
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs the service.
func New(opts Options, logger zerolog.Logger) (*Service, error) {
	if opts.Accounts == nil {
		return nil, errors.New("service: account resolver is required")
	}
	if opts.Rebalancer == nil || opts.Reporter == nil {
		return nil, errors.New("service: rebalancer and reporter are required")
	}
	if opts.Files == nil {
		opts.Files = afero.NewReadOnlyFs(afero.NewOsFs())
	}
	if opts.Locker == nil {
		if l, ok := opts.Jobs.(storage.AdvisoryLocker); ok {
			opts.Locker = l
		}
	}
	return &Service{
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("component", "service").Logger(),
	}, nil
}

func (s *Service) lookup(userID string) (account.Credentials, error) {
	creds, err := s.opts.Accounts.Lookup(userID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return account.Credentials{}, fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
		}
		return account.Credentials{}, fmt.Errorf("lookup account: %w", err)
	}
	return creds, nil
}
