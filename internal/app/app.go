package app

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"bosgateway/internal/account"
	"bosgateway/internal/alerting"
	"bosgateway/internal/bos"
	"bosgateway/internal/config"
	"bosgateway/internal/metrics"
	"bosgateway/internal/progress"
	"bosgateway/internal/report"
	"bosgateway/internal/service"
	"bosgateway/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output; logs go elsewhere.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// files is the read-only file-access capability handed to bos.
func (a *App) files() afero.Fs {
	var fs afero.Fs = afero.NewOsFs()
	if root := a.Config.Bos.FilesRoot; root != "" {
		fs = afero.NewBasePathFs(fs, root)
	}
	return afero.NewReadOnlyFs(fs)
}

func (a *App) newRunner() *bos.Runner {
	return bos.New(bos.Options{
		Binary:        a.Config.Bos.Binary,
		GracePeriod:   a.Config.Bos.GracePeriod,
		ReportTimeout: a.Config.Bos.ReportTimeout,
		Files:         a.files(),
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

type serviceDeps struct {
	store     *storage.Store
	publisher progress.Publisher
	metrics   *metrics.Recorder
}

func (a *App) newService(deps serviceDeps) (*service.Service, error) {
	registry, err := account.NewRegistry(a.Config.Accounts)
	if err != nil {
		return nil, err
	}
	if registry.Len() == 0 {
		a.Logger.Warn().Msg("no accounts configured; every request will be rejected")
	}

	runner := a.newRunner()
	opts := service.Options{
		Accounts:        registry,
		Rebalancer:      runner,
		Reporter:        runner,
		Files:           a.files(),
		Publisher:       deps.publisher,
		Metrics:         deps.metrics,
		ReportSettings:  report.Settings{RateProvider: a.Config.Report.RateProvider},
		Notifier:        a.newNotifier(),
		NotifySuccess:   a.Config.Alerting.NotifySuccess,
		NotifyFailure:   a.Config.Alerting.NotifyFailure,
		LockKey:         a.Config.Retention.AdvisoryLockKey,
		RetentionPeriod: a.Config.Retention.KeepFor,
	}
	if deps.store != nil {
		opts.Jobs = deps.store
		opts.Locker = deps.store
	}
	return service.New(opts, a.Logger)
}

func (a *App) withStore(ctx context.Context, required bool) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		if required {
			return nil, nil, errNoDatabase
		}
		a.Logger.Warn().Msg("database.dsn not configured; job history disabled")
		return nil, func() {}, nil
	}
	return store, closeStore, nil
}
