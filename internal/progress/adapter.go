// Package progress adapts rebalance progress callbacks into log records and live events.
package progress

import (
	"github.com/rs/zerolog"
)

// EventName is the live-channel event every progress payload is published under.
const EventName = "rebalance"

// Level is the severity of a progress callback.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Logger is the three-level capability handed to the rebalance operation.
type Logger interface {
	Info(payload any)
	Warn(payload any)
	Error(payload any)
}

// Sink receives the unmodified payload for durable logging.
type Sink interface {
	Write(level Level, payload any)
}

// Publisher delivers an event to a user's live channel without blocking.
type Publisher interface {
	Emit(userID, event string, payload any)
}

// Adapter is created per rebalance invocation and bound to one user.
type Adapter struct {
	userID    string
	sink      Sink
	publisher Publisher
	logger    zerolog.Logger
}

// New binds an adapter to userID. Nil sink or publisher disables that side.
func New(userID string, sink Sink, publisher Publisher, logger zerolog.Logger) *Adapter {
	return &Adapter{
		userID:    userID,
		sink:      sink,
		publisher: publisher,
		logger:    logger.With().Str("component", "progress_adapter").Logger(),
	}
}

func (a *Adapter) Info(payload any)  { a.dispatch(LevelInfo, payload) }
func (a *Adapter) Warn(payload any)  { a.dispatch(LevelWarn, payload) }
func (a *Adapter) Error(payload any) { a.dispatch(LevelError, payload) }

// dispatch never panics into the caller; callbacks may arrive on goroutines
// the result wrapper cannot recover.
func (a *Adapter) dispatch(level Level, payload any) {
	if a.sink != nil {
		a.guard("sink", level, func() { a.sink.Write(level, payload) })
	}
	if a.publisher != nil {
		a.guard("publisher", level, func() { a.publisher.Emit(a.userID, EventName, Sanitize(payload)) })
	}
}

func (a *Adapter) guard(side string, level Level, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().
				Str("side", side).
				Str("level", string(level)).
				Interface("panic", r).
				Msg("progress delivery panicked")
		}
	}()
	fn()
}

// ZerologSink writes progress payloads to a zerolog logger.
type ZerologSink struct {
	logger zerolog.Logger
}

// NewZerologSink 构造基于 zerolog 的持久日志输出。
func NewZerologSink(logger zerolog.Logger, userID string) *ZerologSink {
	return &ZerologSink{logger: logger.With().Str("component", "rebalance_progress").Str("user_id", userID).Logger()}
}

// Write logs payload at level. String payloads become the message.
func (s *ZerologSink) Write(level Level, payload any) {
	var event *zerolog.Event
	switch level {
	case LevelWarn:
		event = s.logger.Warn()
	case LevelError:
		event = s.logger.Error()
	default:
		event = s.logger.Info()
	}

	if msg, ok := payload.(string); ok {
		event.Msg(msg)
		return
	}
	event.Interface("payload", payload).Msg("rebalance progress")
}

var (
	_ Logger = (*Adapter)(nil)
	_ Sink   = (*ZerologSink)(nil)
)
