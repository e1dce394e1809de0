package live

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// HubOptions tune buffering.
type HubOptions struct {
	QueueSize      int
	SendBufferSize int
	AllowedOrigins []string
	// OnDrop is called once per dropped event.
	OnDrop func()
}

type message struct {
	userID string
	data   []byte
}

type client struct {
	hub    *Hub
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub keeps websocket viewers grouped by user and pushes events to them.
// Emit never blocks: when the hub queue or a client buffer is full the event is dropped.
type Hub struct {
	clients    map[string]map[*client]struct{}
	register   chan *client
	unregister chan *client
	inbound    chan message
	done       chan struct{}
	upgrader   websocket.Upgrader
	sendBuffer int
	onDrop     func()
	mu         sync.RWMutex
	logger     zerolog.Logger
}

// NewHub 创建按用户分组的 websocket 推送中心。
func NewHub(opts HubOptions, logger zerolog.Logger) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 64
	}

	origins := opts.AllowedOrigins
	return &Hub{
		clients:    make(map[string]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan message, opts.QueueSize),
		done:       make(chan struct{}),
		sendBuffer: opts.SendBufferSize,
		onDrop:     opts.OnDrop,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(origins, r.Header.Get("Origin"))
			},
		},
		logger: logger.With().Str("component", "live_hub").Logger(),
	}
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Emit encodes and queues an event for userID.
func (h *Hub) Emit(userID, event string, payload any) {
	data, err := encode(userID, event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("encode live event")
		return
	}
	h.Deliver(userID, data)
}

// Deliver queues an encoded event for userID.
func (h *Hub) Deliver(userID string, data []byte) {
	select {
	case h.inbound <- message{userID: userID, data: data}:
	default:
		h.logger.Warn().Str("user_id", userID).Msg("live queue full; dropping event")
		h.dropped()
	}
}

func (h *Hub) dropped() {
	if h.onDrop != nil {
		h.onDrop()
	}
}

// Run drives registration and fan-out until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for userID, set := range h.clients {
				for c := range set {
					close(c.send)
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[c.userID]
			if !ok {
				set = make(map[*client]struct{})
				h.clients[c.userID] = set
			}
			set[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug().Str("user_id", c.userID).Msg("viewer connected")

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.inbound:
			h.mu.RLock()
			for c := range h.clients[msg.userID] {
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn().Str("user_id", msg.userID).Msg("dropping event for slow viewer")
					h.dropped()
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	h.logger.Debug().Str("user_id", c.userID).Msg("viewer disconnected")
}

// ViewerCount returns the number of live viewers for userID.
func (h *Hub) ViewerCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// ServeUser upgrades the request and subscribes the connection to userID's events.
func (h *Hub) ServeUser(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		hub:    h,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, h.sendBuffer),
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only services control frames; viewers do not send commands.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn().Err(err).Str("user_id", c.userID).Msg("unexpected websocket close")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var (
	_ Publisher = (*Hub)(nil)
	_ Deliverer = (*Hub)(nil)
)
