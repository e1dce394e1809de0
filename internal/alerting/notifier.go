package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const maxDetailRunes = 600

// Notification 封装一次再平衡结算的上下文。
type Notification struct {
	JobID      string
	UserID     string
	Node       string
	Succeeded  bool
	Amount     decimal.Decimal
	Increase   any
	Decrease   any
	Error      string
	Elapsed    time.Duration
	FinishedAt time.Time
}

// Notifier 定义通知输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 通知器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("job_id", note.JobID).
		Str("user_id", note.UserID).
		Bool("succeeded", note.Succeeded).
		Msg("结算通知已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	if note.Succeeded {
		builder.WriteString("[Rebalance settled]\n")
	} else {
		builder.WriteString("[Rebalance failed]\n")
	}
	builder.WriteString(fmt.Sprintf("Job: %s\n", note.JobID))
	builder.WriteString(fmt.Sprintf("User: %s\n", note.UserID))
	if note.Node != "" {
		builder.WriteString(fmt.Sprintf("Node: %s\n", note.Node))
	}
	if note.Amount.IsPositive() {
		builder.WriteString(fmt.Sprintf("Max amount: %s sats\n", note.Amount.StringFixed(0)))
	}
	if !note.FinishedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Finished: %s UTC\n", note.FinishedAt.UTC().Format(time.RFC3339)))
	}
	if note.Elapsed > 0 {
		builder.WriteString(fmt.Sprintf("Elapsed: %s\n", note.Elapsed.Round(time.Second)))
	}
	if note.Succeeded {
		builder.WriteString(fmt.Sprintf("Increase: %s\n", detail(note.Increase)))
		builder.WriteString(fmt.Sprintf("Decrease: %s\n", detail(note.Decrease)))
	} else if note.Error != "" {
		builder.WriteString(fmt.Sprintf("Error: %s\n", truncate(note.Error)))
	}
	return builder.String()
}

func detail(v any) string {
	if v == nil {
		return "-"
	}
	if s, ok := v.(string); ok {
		return truncate(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return truncate(string(b))
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxDetailRunes {
		return s
	}
	return string(r[:maxDetailRunes]) + "…"
}

var _ Notifier = (*TelegramNotifier)(nil)
