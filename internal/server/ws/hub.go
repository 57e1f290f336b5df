package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	defaultReplay = 20
)

// DefaultChannels are the event channels relayed to clients.
var DefaultChannels = []string{domain.ChannelTrades, domain.ChannelSettlements, domain.ChannelOrders}

// History returns past events of a channel, oldest first: the latest count,
// or those after a stream ID.
type History interface {
	Recent(ctx context.Context, channel string, count int) ([]domain.StreamMessage, error)
	StreamRead(ctx context.Context, channel, lastID string, count int) ([]domain.StreamMessage, error)
}

// Config controls which channels are relayed and how much history a new
// client receives.
type Config struct {
	Channels       []string
	Replay         int
	AllowedOrigins []string
}

// format selects the frame encoding for one client.
type format int

const (
	formatJSON format = iota
	formatProto
)

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan frame
	format format
	subs   map[string]bool
	mu     sync.RWMutex
}

type frame struct {
	kind int
	data []byte
}

// subscribeMsg is the JSON message a client sends to change its channels.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// envelope is the JSON frame sent to clients. Data is the published event
// as-is.
type envelope struct {
	Channel string          `json:"channel"`
	ID      string          `json:"id,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Hub relays events from the SignalBus to connected WebSocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan event
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	history    History
	channels   []string
	replay     int
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
}

type event struct {
	channel string
	id      string
	payload []byte
}

// NewHub creates a Hub. history may be nil, in which case new clients get
// no replay.
func NewHub(bus domain.SignalBus, history History, cfg Config, logger *slog.Logger) *Hub {
	channels := cfg.Channels
	if len(channels) == 0 {
		channels = DefaultChannels
	}
	replay := cfg.Replay
	if replay <= 0 {
		replay = defaultReplay
	}
	origins := cfg.AllowedOrigins

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		history:    history,
		channels:   channels,
		replay:     replay,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(origins, r.Header.Get("Origin"))
			},
		},
		logger: logger.With(slog.String("component", "ws_hub")),
	}
}

// Run subscribes to every relayed channel and runs the hub's event loop
// until ctx is cancelled. A channel that cannot be subscribed is logged and
// skipped; the rest keep flowing.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range h.channels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			h.logger.Error("ws: failed to subscribe to channel",
				slog.String("channel", ch),
				slog.String("error", err.Error()),
			)
			continue
		}
		go h.forward(ctx, ch, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

// deliver encodes ev at most once per format and queues it for every
// subscribed client. Slow clients lose the message.
func (h *Hub) deliver(ev event) {
	var encoded [2]*frame
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(ev.channel) {
			continue
		}
		if encoded[c.format] == nil {
			f, err := encode(c.format, ev)
			if err != nil {
				h.logger.Warn("ws: dropping undecodable event",
					slog.String("channel", ev.channel),
					slog.String("error", err.Error()),
				)
				return
			}
			encoded[c.format] = &f
		}
		select {
		case c.send <- *encoded[c.format]:
		default:
			h.logger.Warn("ws: dropping message for slow client", slog.String("channel", ev.channel))
		}
	}
}

func (h *Hub) forward(ctx context.Context, channel string, msgs <-chan []byte) {
	h.logger.Info("ws: subscribed to channel", slog.String("channel", channel))
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", channel))
				return
			}
			select {
			case h.broadcast <- event{channel: channel, payload: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws?channels=trades,settlements&format=json|proto&since=<stream id>
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := formatJSON
	switch q.Get("format") {
	case "", "json":
	case "proto":
		f = formatProto
	default:
		http.Error(w, "format must be json or proto", http.StatusBadRequest)
		return
	}
	subs := make(map[string]bool, len(h.channels))
	if want := q.Get("channels"); want != "" {
		for _, ch := range strings.Split(want, ",") {
			if ch = strings.TrimSpace(ch); h.relays(ch) {
				subs[ch] = true
			}
		}
	} else {
		for _, ch := range h.channels {
			subs[ch] = true
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan frame, sendBufferSize),
		format: f,
		subs:   subs,
	}
	c.replay(r.Context(), q.Get("since"))

	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (h *Hub) relays(channel string) bool {
	for _, ch := range h.channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// replay queues past events of each subscribed channel ahead of live
// traffic. With since set, it resumes after that stream ID instead of
// sending the latest events.
func (c *client) replay(ctx context.Context, since string) {
	if c.hub.history == nil {
		return
	}
	for _, ch := range c.hub.channels {
		if !c.isSubscribed(ch) {
			continue
		}
		var (
			msgs []domain.StreamMessage
			err  error
		)
		if since != "" {
			msgs, err = c.hub.history.StreamRead(ctx, ch, since, c.hub.replay)
		} else {
			msgs, err = c.hub.history.Recent(ctx, ch, c.hub.replay)
		}
		if err != nil {
			c.hub.logger.Warn("ws: replay failed", slog.String("channel", ch), slog.String("error", err.Error()))
			continue
		}
		for _, m := range msgs {
			f, err := encode(c.format, event{channel: ch, id: m.ID, payload: m.Payload})
			if err != nil {
				continue
			}
			select {
			case c.send <- f:
			default:
				return
			}
		}
	}
}

// encode frames an event as JSON text or as a binary google.protobuf.Struct.
func encode(f format, ev event) (frame, error) {
	if !json.Valid(ev.payload) {
		return frame{}, fmt.Errorf("ws: payload on %s is not JSON", ev.channel)
	}
	if f == formatJSON {
		data, err := json.Marshal(envelope{Channel: ev.channel, ID: ev.id, Data: ev.payload})
		if err != nil {
			return frame{}, fmt.Errorf("ws: marshal envelope: %w", err)
		}
		return frame{kind: websocket.TextMessage, data: data}, nil
	}

	var data any
	if err := json.Unmarshal(ev.payload, &data); err != nil {
		return frame{}, fmt.Errorf("ws: decode payload: %w", err)
	}
	fields := map[string]any{"channel": ev.channel, "data": data}
	if ev.id != "" {
		fields["id"] = ev.id
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return frame{}, fmt.Errorf("ws: build struct: %w", err)
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return frame{}, fmt.Errorf("ws: marshal proto: %w", err)
	}
	return frame{kind: websocket.BinaryMessage, data: b}, nil
}

// readPump handles subscription changes and keeps the read deadline
// fresh on pongs.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		switch msg.Action {
		case "subscribe":
			if c.hub.relays(ch) {
				c.subs[ch] = true
			}
		case "unsubscribe":
			delete(c.subs, ch)
		}
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

// writePump sends queued frames and periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// originAllowed accepts any origin when none are configured and requests
// without an Origin header (non-browser clients).
func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
