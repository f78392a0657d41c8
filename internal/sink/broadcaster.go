package sink

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 30 * time.Second
	pongDeadline = 10 * time.Second
)

// upgrader handles the HTTP → WebSocket upgrade for /ws?key=<tenant_key>.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscriber is one live dashboard connection, owned by the Broadcaster's
// hub goroutine for its tenant until close or heartbeat failure.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	mu   sync.Mutex
}

// tenantHub runs a single goroutine owning one tenant's subscriber set —
// the same "one goroutine owns the map" idiom the dashboard's wsHub uses,
// generalized from a single global set to one hub per tenant.
type tenantHub struct {
	subs         map[*subscriber]bool
	broadcastCh  chan []byte
	registerCh   chan *subscriber
	unregisterCh chan *subscriber
}

func newTenantHub() *tenantHub {
	return &tenantHub{
		subs:         make(map[*subscriber]bool),
		broadcastCh:  make(chan []byte, 256),
		registerCh:   make(chan *subscriber),
		unregisterCh: make(chan *subscriber),
	}
}

func (h *tenantHub) run() {
	for {
		select {
		case s := <-h.registerCh:
			h.subs[s] = true
		case s := <-h.unregisterCh:
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.send)
			}
		case msg := <-h.broadcastCh:
			for s := range h.subs {
				select {
				case s.send <- msg:
				default:
					delete(h.subs, s)
					close(s.send)
				}
			}
		}
	}
}

// Broadcaster fans out finalized LoggedEvents to each tenant's live
// websocket subscribers, with 30s ping / 10s pong-deadline heartbeats.
type Broadcaster struct {
	mu   sync.RWMutex
	hubs map[string]*tenantHub
}

// NewBroadcaster creates an empty Subscriber Registry.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{hubs: make(map[string]*tenantHub)}
}

func (b *Broadcaster) hubFor(tenantID string) *tenantHub {
	b.mu.RLock()
	h, ok := b.hubs[tenantID]
	b.mu.RUnlock()
	if ok {
		return h
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.hubs[tenantID]; ok {
		return h
	}
	h = newTenantHub()
	b.hubs[tenantID] = h
	go h.run()
	return h
}

// Publish performs best-effort delivery of ev to every open subscriber of
// tenantID, serialized as {type:"event", payload:<LoggedEvent>}.
func (b *Broadcaster) Publish(tenantID string, ev *LoggedEvent) {
	payload, err := json.Marshal(struct {
		Type    string       `json:"type"`
		Payload *LoggedEvent `json:"payload"`
	}{Type: "event", Payload: ev})
	if err != nil {
		slog.Error("broadcaster: marshaling event", "error", err)
		return
	}

	b.mu.RLock()
	h, ok := b.hubs[tenantID]
	b.mu.RUnlock()
	if !ok {
		return // no subscribers for this tenant; nothing to do.
	}

	select {
	case h.broadcastCh <- payload:
	default:
		slog.Warn("broadcaster: dropping event, channel full", "tenant", tenantID)
	}
}

// HandleWebSocket upgrades the connection and registers it as a subscriber
// for tenantID. The caller is responsible for having already authenticated
// the tenant key (invalid key is a 401 before this is ever called).
func (b *Broadcaster) HandleWebSocket(tenantID string, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("broadcaster: websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, 64)}
	hub := b.hubFor(tenantID)
	hub.registerCh <- sub

	go sub.writePump(hub)
	go sub.readPump(hub)
}

// writePump drains send, writes frames, and drives the heartbeat: every
// pingInterval it sends a ping and arms a pongDeadline read deadline,
// force-closing the connection if no pong arrives in time.
func (s *subscriber) writePump(hub *tenantHub) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Time{})
	})

	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			s.mu.Lock()
			err := s.conn.WriteMessage(websocket.TextMessage, msg)
			s.mu.Unlock()
			if err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetReadDeadline(time.Now().Add(pongDeadline))
			s.mu.Lock()
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// readPump drains inbound frames only to detect disconnection and pong
// deadline expiry (ReadMessage returns an error once the deadline set by
// writePump's ping has passed with no pong).
func (s *subscriber) readPump(hub *tenantHub) {
	defer func() {
		hub.unregisterCh <- s
		s.conn.Close()
	}()

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
