package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Errorf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{
		JobID:     "job-1",
		UserID:    "alice",
		Succeeded: true,
		Amount:    decimal.NewFromInt(250000),
		Increase:  map[string]any{"inbound": 5000},
		Decrease:  3000,
		Elapsed:   90 * time.Second,
	}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text := received["text"]
	for _, want := range []string{"[Rebalance settled]", "Job: job-1", "Max amount: 250000 sats", `Increase: {"inbound":5000}`, "Decrease: 3000", "Elapsed: 1m30s"} {
		if !strings.Contains(text, want) {
			t.Fatalf("消息缺少 %q:\n%s", want, text)
		}
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), Notification{JobID: "job-2"}); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{}); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("429 应报错, 实际 %v", err)
	}
}

func TestRenderFailure(t *testing.T) {
	msg := renderMessage(Notification{JobID: "job-3", UserID: "bob", Error: errors.New(strings.Repeat("x", 700)).Error()})
	if !strings.HasPrefix(msg, "[Rebalance failed]") {
		t.Fatalf("失败消息标题错误: %s", msg)
	}
	if strings.Contains(msg, "Increase:") {
		t.Fatalf("失败消息不应包含结果: %s", msg)
	}
	if !strings.Contains(msg, strings.Repeat("x", maxDetailRunes)+"…") {
		t.Fatalf("错误详情应被截断: %s", msg)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
