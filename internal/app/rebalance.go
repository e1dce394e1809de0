package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"bosgateway/internal/config"
	"bosgateway/internal/live"
	"bosgateway/internal/rebalance"
)

const resultEvent = "result"

// RebalanceOptions configure a one-shot rebalance.
type RebalanceOptions struct {
	UserID  string
	Request rebalance.Request
}

// RunRebalance runs one job in the foreground, printing progress and the
// result as JSON lines. With the redis backend the events also reach
// viewers connected to a running gateway.
func (a *App) RunRebalance(ctx context.Context, opts RebalanceOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.withStore(ctx, false)
	if err != nil {
		return err
	}
	defer closeStore()

	printer := live.NewPrinter(a.Out)
	publishers := live.Multi{printer}

	if a.Config.Live.Backend == config.BackendRedis {
		rdb, err := live.NewRedisClient(ctx, a.Config.Redis)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("redis unavailable; progress only printed locally")
		} else {
			defer rdb.Close()
			redisPub := live.NewRedisPublisher(rdb, a.Config.Live.ChannelPrefix, a.Config.Live.QueueSize, a.Logger)
			pubCtx, stopPub := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = redisPub.Run(pubCtx)
			}()
			defer func() {
				stopPub()
				<-done
				drainCtx, cancelDrain := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelDrain()
				if err := redisPub.Drain(drainCtx); err != nil {
					a.Logger.Warn().Err(err).Msg("drain redis publisher")
				}
			}()
			publishers = append(publishers, redisPub)
		}
	}

	svc, err := a.newService(serviceDeps{store: store, publisher: publishers})
	if err != nil {
		return err
	}

	out, err := svc.Rebalance(ctx, opts.UserID, opts.Request)
	if err != nil {
		return err
	}
	resp, err := out.Unwrap()
	if err != nil {
		return fmt.Errorf("rebalance failed: %w", err)
	}
	printer.Emit(opts.UserID, resultEvent, resp)
	return nil
}

// Params prints the normalized parameters for req without running anything.
func (a *App) Params(req rebalance.Request) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(rebalance.Normalize(req))
}
