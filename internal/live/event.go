// Package live delivers per-user progress events to connected viewers.
package live

import (
	"encoding/json"
	"io"
	"sync"
)

// Event is the envelope written to live subscribers.
type Event struct {
	Event   string `json:"event"`
	UserID  string `json:"user_id,omitempty"`
	Payload any    `json:"payload"`
}

// Publisher is the fire-and-forget emit side of a live channel.
type Publisher interface {
	Emit(userID, event string, payload any)
}

// Deliverer accepts an already encoded event for a user.
type Deliverer interface {
	Deliver(userID string, data []byte)
}

func encode(userID, event string, payload any) ([]byte, error) {
	return json.Marshal(Event{Event: event, UserID: userID, Payload: payload})
}

// Printer writes every event as one JSON line. Used by the CLI.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPrinter wraps out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Emit writes the event; encoding or write errors are dropped.
func (p *Printer) Emit(userID, event string, payload any) {
	data, err := encode(userID, event, payload)
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = p.out.Write(append(data, '\n'))
}

// Multi fans one emit out to several publishers.
type Multi []Publisher

// Emit forwards to every non-nil publisher.
func (m Multi) Emit(userID, event string, payload any) {
	for _, p := range m {
		if p != nil {
			p.Emit(userID, event, payload)
		}
	}
}

var (
	_ Publisher = (*Printer)(nil)
	_ Publisher = Multi(nil)
)
