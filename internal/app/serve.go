package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"bosgateway/internal/config"
	"bosgateway/internal/live"
	"bosgateway/internal/metrics"
	"bosgateway/internal/progress"
	"bosgateway/internal/scheduler"
	"bosgateway/internal/server"
	"bosgateway/internal/version"
)

// Serve runs the HTTP API, the live hub and the maintenance loops until
// SIGINT/SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.withStore(ctx, false)
	if err != nil {
		return err
	}
	defer closeStore()

	rec := metrics.New()
	hub := live.NewHub(live.HubOptions{
		QueueSize:      a.Config.Live.QueueSize,
		SendBufferSize: a.Config.Live.SendBuffer,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		OnDrop:         rec.Dropped,
	}, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })

	var publisher progress.Publisher = hub
	if a.Config.Live.Backend == config.BackendRedis {
		rdb, err := live.NewRedisClient(ctx, a.Config.Redis)
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		defer rdb.Close()

		redisPub := live.NewRedisPublisher(rdb, a.Config.Live.ChannelPrefix, a.Config.Live.QueueSize, a.Logger)
		redisPub.OnDrop = rec.Dropped
		bridge := live.NewRedisBridge(rdb, a.Config.Live.ChannelPrefix, hub, a.Logger)
		g.Go(func() error { return redisPub.Run(gctx) })
		g.Go(func() error { return bridge.Run(gctx) })
		publisher = redisPub
		a.Logger.Info().Str("addr", a.Config.Redis.Addr).Msg("live events fan out through redis")
	}

	svc, err := a.newService(serviceDeps{store: store, publisher: publisher, metrics: rec})
	if err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	if a.Config.Retention.Enabled {
		if store == nil {
			a.Logger.Warn().Msg("retention enabled without a database; sweeper not started")
		} else {
			sched, err := scheduler.New(scheduler.Options{
				Name:         "retention",
				Interval:     a.Config.Retention.Interval,
				StartupDelay: a.Config.Retention.StartupDelay,
				RunAtStart:   true,
			}, a.Logger)
			if err != nil {
				cancel()
				_ = g.Wait()
				return err
			}
			g.Go(func() error { return sched.Run(gctx, svc.SweepJobs) })
		}
	}

	tokens := a.Config.Server.TokenMap()
	if len(tokens) == 0 {
		a.Logger.Warn().Msg("server.tokens is empty; every API call will be rejected")
	}
	srv := server.New(server.Options{
		Listen:          a.Config.Server.Listen,
		ReadTimeout:     a.Config.Server.ReadTimeout,
		WriteTimeout:    a.Config.Server.WriteTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		Tokens:          tokens,
		Version:         version.Version,
		Metrics:         rec.Handler(),
	}, svc, hub, a.Logger)
	g.Go(func() error { return srv.Run(gctx) })

	a.Logger.Info().Str("version", version.Version).Msg("gateway started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("gateway terminated with error")
		return err
	}
	a.Logger.Info().Msg("gateway stopped")
	return nil
}
