package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bosgateway/internal/alerting"
)

// SimulateNotification 通过配置的通知通道发送一条模拟的结算消息。
func (a *App) SimulateNotification(ctx context.Context, succeeded bool) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何通知通道")
	}

	note := alerting.Notification{
		JobID:      uuid.NewString(),
		UserID:     "simulated",
		Node:       "simulated-node",
		Succeeded:  succeeded,
		Amount:     decimal.NewFromInt(100000),
		Elapsed:    42 * time.Second,
		FinishedAt: time.Now().UTC(),
	}
	if succeeded {
		note.Increase = map[string]any{"inbound": 100000}
		note.Decrease = map[string]any{"outbound": 100000}
	} else {
		note.Error = "simulated failure"
	}
	return notifier.Notify(ctx, note)
}
