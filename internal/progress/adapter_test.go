package progress

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkRecord struct {
	level   Level
	payload any
}

type recordingSink struct {
	records []sinkRecord
}

func (s *recordingSink) Write(level Level, payload any) {
	s.records = append(s.records, sinkRecord{level: level, payload: payload})
}

type emitted struct {
	userID  string
	event   string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []emitted
}

func (p *recordingPublisher) Emit(userID, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, emitted{userID: userID, event: event, payload: payload})
}

func TestAdapterStripsEvaluatingForLiveOnly(t *testing.T) {
	sink := &recordingSink{}
	pub := &recordingPublisher{}
	adapter := New("user-1", sink, pub, zerolog.Nop())

	original := map[string]any{
		"evaluating": []string{"\x1b[32m03abc\x1b[39m via 700x1x0", "plain"},
		"step":       2,
	}
	adapter.Info(original)

	require.Len(t, sink.records, 1)
	assert.Equal(t, LevelInfo, sink.records[0].level)
	logged := sink.records[0].payload.(map[string]any)
	assert.Equal(t, "\x1b[32m03abc\x1b[39m via 700x1x0", logged["evaluating"].([]string)[0])

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, "user-1", ev.userID)
	assert.Equal(t, EventName, ev.event)
	live := ev.payload.(map[string]any)
	assert.Equal(t, []string{"03abc via 700x1x0", "plain"}, live["evaluating"])
	assert.Equal(t, 2, live["step"])

	assert.Equal(t, []string{"\x1b[32m03abc\x1b[39m via 700x1x0", "plain"}, original["evaluating"])
}

func TestAdapterLevels(t *testing.T) {
	sink := &recordingSink{}
	pub := &recordingPublisher{}
	adapter := New("u", sink, pub, zerolog.Nop())

	adapter.Info("starting")
	adapter.Warn(map[string]any{"warning": "low liquidity"})
	adapter.Error("failed")

	require.Len(t, sink.records, 3)
	assert.Equal(t, []Level{LevelInfo, LevelWarn, LevelError},
		[]Level{sink.records[0].level, sink.records[1].level, sink.records[2].level})

	require.Len(t, pub.events, 3)
	assert.Equal(t, "starting", pub.events[0].payload)
	assert.Equal(t, map[string]any{"warning": "low liquidity"}, pub.events[1].payload)
	assert.Equal(t, "failed", pub.events[2].payload)
}

func TestAdapterWarnAndErrorAlsoSanitize(t *testing.T) {
	pub := &recordingPublisher{}
	adapter := New("u", nil, pub, zerolog.Nop())

	adapter.Warn(map[string]any{"evaluating": []any{"\x1b[1mbold\x1b[0m"}})

	require.Len(t, pub.events, 1)
	assert.Equal(t, []string{"bold"}, pub.events[0].payload.(map[string]any)["evaluating"])
}

func TestAdapterToleratesNilCollaborators(t *testing.T) {
	adapter := New("u", nil, nil, zerolog.Nop())
	assert.NotPanics(t, func() {
		adapter.Info("x")
		adapter.Warn("y")
		adapter.Error("z")
	})
}

func TestZerologSinkKeepsOriginalBytes(t *testing.T) {
	var buf bytes.Buffer
	sink := NewZerologSink(zerolog.New(&buf), "user-9")
	adapter := New("user-9", sink, &recordingPublisher{}, zerolog.Nop())

	adapter.Error(map[string]any{"evaluating": []string{"\x1b[31mred\x1b[0m"}})

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))

	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "user-9", entry["user_id"])
	payload := entry["payload"].(map[string]any)
	assert.Equal(t, []any{"\x1b[31mred\x1b[0m"}, payload["evaluating"])
}

func TestZerologSinkStringMessage(t *testing.T) {
	var buf bytes.Buffer
	NewZerologSink(zerolog.New(&buf), "u").Write(LevelWarn, "probing route")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "probing route", entry["message"])
}

type panickingSink struct{}

func (panickingSink) Write(Level, any) { panic("sink down") }

type panickingPublisher struct{}

func (panickingPublisher) Emit(string, string, any) { panic("publisher down") }

func TestAdapterSurvivesPanickingDelivery(t *testing.T) {
	var buf bytes.Buffer
	pub := &recordingPublisher{}
	adapter := New("u", panickingSink{}, pub, zerolog.New(&buf))

	require.NotPanics(t, func() { adapter.Warn("still here") })
	require.Len(t, pub.events, 1)
	assert.Equal(t, "still here", pub.events[0].payload)
	assert.Contains(t, buf.String(), "sink down")

	sink := &recordingSink{}
	adapter = New("u", sink, panickingPublisher{}, zerolog.Nop())
	require.NotPanics(t, func() { adapter.Error("boom") })
	require.Len(t, sink.records, 1)
	assert.Equal(t, LevelError, sink.records[0].level)
}
