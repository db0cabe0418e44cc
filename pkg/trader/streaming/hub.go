// Package streaming pushes live trading events (opportunities, fills, errors)
// to WebSocket subscribers, typically a dashboard.
package streaming

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/phenomenon0/oddsedge/pkg/engine"
	"github.com/phenomenon0/oddsedge/pkg/trader/positions"
)

// EventType tags a streamed event.
type EventType string

const (
	EventOpportunity EventType = "opportunity"
	EventTrade       EventType = "trade"
	EventError       EventType = "error"
	EventHeartbeat   EventType = "heartbeat"
)

var allEventTypes = []EventType{EventOpportunity, EventTrade, EventError, EventHeartbeat}

// Event is the wire envelope sent to subscribers.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// TradeEvent is the payload of an EventTrade: the position after the fill and
// what happened to it.
type TradeEvent struct {
	Action   string             `json:"action"` // "open", "close", or "auto_close"
	Position positions.Position `json:"position"`
}

// ErrorEvent is the payload of an EventError.
type ErrorEvent struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Hub fans events out to connected WebSocket clients. Run drives the hub
// until Stop is called; slow clients are dropped rather than blocking the
// broadcast path.
type Hub struct {
	clients    map[*client]struct{}
	broadcast  chan Event
	register   chan *client
	unregister chan *client
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	upgrader websocket.Upgrader
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subMu sync.RWMutex
	subs  map[EventType]bool
}

// NewHub builds a Hub. Call Run to start it and Stop to shut it down.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan Event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		stop:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run drives registration, broadcast, and heartbeats until Stop.
func (h *Hub) Run() {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			log.Printf("[WS] Client connected (%d total)", h.ClientCount())

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			log.Printf("[WS] Client disconnected (%d remaining)", h.ClientCount())

		case event := <-h.broadcast:
			h.broadcastEvent(event)

		case <-heartbeat.C:
			h.Broadcast(Event{
				Type: EventHeartbeat,
				Data: map[string]int{"clients": h.ClientCount()},
			})
		}
	}
}

// Stop shuts the hub down and disconnects every client. Idempotent.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) broadcastEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WS] Failed to marshal event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if !c.subscribed(event.Type) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client buffer full, drop the connection.
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// Broadcast queues an event for delivery. Never blocks; events are dropped
// when the queue is full.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- event:
	default:
		log.Printf("[WS] Broadcast channel full, dropping event")
	}
}

// BroadcastOpportunity streams a detected opportunity.
func (h *Hub) BroadcastOpportunity(opp engine.Opportunity) {
	h.Broadcast(Event{Type: EventOpportunity, Data: opp})
}

// BroadcastTrade streams a position open or close.
func (h *Hub) BroadcastTrade(action string, pos positions.Position) {
	h.Broadcast(Event{Type: EventTrade, Data: TradeEvent{Action: action, Position: pos}})
}

// BroadcastError streams an error with its source.
func (h *Hub) BroadcastError(err error, source string) {
	h.Broadcast(Event{Type: EventError, Data: ErrorEvent{Source: source, Message: err.Error()}})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and attaches the client to the hub. New
// clients receive every event type until they narrow their subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		subs: make(map[EventType]bool, len(allEventTypes)),
	}
	for _, et := range allEventTypes {
		c.subs[et] = true
	}

	select {
	case h.register <- c:
	case <-h.stop:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) subscribed(eventType EventType) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subs[eventType]
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Read error: %v", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

// handleMessage narrows or widens the client's subscription. The request
// shape mirrors the odds feed protocol: {"action": ..., "types": [...]}.
func (c *client) handleMessage(message []byte) {
	var msg struct {
		Action string   `json:"action"`
		Types  []string `json:"types"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	switch msg.Action {
	case "subscribe":
		c.subMu.Lock()
		for _, t := range msg.Types {
			c.subs[EventType(t)] = true
		}
		c.subMu.Unlock()

	case "unsubscribe":
		c.subMu.Lock()
		for _, t := range msg.Types {
			delete(c.subs, EventType(t))
		}
		c.subMu.Unlock()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
