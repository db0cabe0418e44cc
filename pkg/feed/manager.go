package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/phenomenon0/oddsedge/pkg/wss"
)

// Handler receives game events for one event kind. Handlers registered for
// the same kind run in registration order on the connection's read goroutine.
type Handler func(GameEvent)

// Config configures a feed Manager.
type Config struct {
	URL     string
	Filters Filters

	// Conn overrides the connection settings. When nil the Manager uses
	// wss.DefaultConfig(URL).
	Conn *wss.Config

	// OnError, when set, receives connection and protocol errors. The
	// Manager never stops on these; the connection layer keeps retrying
	// until its budget runs out.
	OnError func(error)
}

// Status is a point-in-time view of the feed connection.
type Status struct {
	Connected bool
	State     string
	Attempts  int
	GaveUp    bool
	Filters   Filters
}

// Manager maintains the feed connection, resubscribes after reconnects, and
// fans typed events out to registered handlers.
type Manager struct {
	cfg Config
	ws  *wss.Client

	mu       sync.RWMutex
	handlers map[EventKind][]Handler
}

// NewManager builds a Manager. Connect must be called before events flow.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:      cfg,
		handlers: make(map[EventKind][]Handler),
	}

	wc := wss.DefaultConfig(cfg.URL)
	if cfg.Conn != nil {
		wc = *cfg.Conn
		wc.URL = cfg.URL
	}

	m.ws = wss.NewClient(wc, wss.Handlers{
		OnMessage: m.handleFrame,
		OnError:   m.reportError,
	})
	m.ws.SetSubscribeMessage(subscribeRequest{
		Action:  "subscribe",
		Filters: cfg.Filters,
	})
	return m
}

// Connect starts the connection. A dial failure is not returned: it feeds the
// reconnect loop, which reports through OnError if the budget is exhausted.
func (m *Manager) Connect(ctx context.Context) {
	if err := m.ws.Connect(ctx); err != nil {
		m.reportError(fmt.Errorf("feed connect: %w", err))
	}
}

// On registers a handler for one event kind. Safe to call at any time.
func (m *Manager) On(kind EventKind, h Handler) {
	m.mu.Lock()
	m.handlers[kind] = append(m.handlers[kind], h)
	m.mu.Unlock()
}

// Status reports the current connection state and active filters.
func (m *Manager) Status() Status {
	return Status{
		Connected: m.ws.IsConnected(),
		State:     m.ws.State().String(),
		Attempts:  m.ws.Attempts(),
		GaveUp:    m.ws.GaveUp(),
		Filters:   m.cfg.Filters,
	}
}

// Close tears the connection down. Idempotent.
func (m *Manager) Close() error {
	return m.ws.Close()
}

func (m *Manager) handleFrame(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.reportError(fmt.Errorf("feed: bad frame: %w", err))
		return
	}

	now := time.Now()

	switch env.Action {
	case ActionSocketConnected, ActionPing, ActionSubscriptionUpdated, ActionBookClear:
		// Control frames carry no game payload.

	case ActionInitialState:
		var st initialStateData
		if err := json.Unmarshal(env.Data, &st); err != nil {
			m.reportError(fmt.Errorf("feed: bad initial_state: %w", err))
			return
		}
		for i := range st.Games {
			g := st.Games[i]
			m.emit(GameEvent{Kind: KindInitialState, Key: DeriveKey(&g), Game: &g, ReceivedAt: now})
		}

	case ActionGameUpdate:
		m.emitGame(KindUpdate, env.Data, now)
	case ActionGameAdded:
		m.emitGame(KindAdded, env.Data, now)
	case ActionGameRemoved:
		m.emitGame(KindRemoved, env.Data, now)
	case ActionLineUpdate:
		m.emitGame(KindLineUpdate, env.Data, now)

	case ActionError:
		var ed errorData
		if err := json.Unmarshal(env.Data, &ed); err != nil {
			ed.Message = string(env.Data)
		}
		m.emit(GameEvent{Kind: KindError, Message: ed.Message, ReceivedAt: now})

	default:
		// Unknown actions are dropped so protocol additions don't break us.
	}
}

func (m *Manager) emitGame(kind EventKind, data json.RawMessage, now time.Time) {
	var g Game
	if err := json.Unmarshal(data, &g); err != nil {
		m.reportError(fmt.Errorf("feed: bad %s payload: %w", kind, err))
		return
	}
	m.emit(GameEvent{Kind: kind, Key: DeriveKey(&g), Game: &g, ReceivedAt: now})
}

// emit delivers an event to every handler for its kind. A panicking handler
// is isolated: it is reported and the remaining handlers still run.
func (m *Manager) emit(ev GameEvent) {
	m.mu.RLock()
	hs := m.handlers[ev.Kind]
	m.mu.RUnlock()

	for _, h := range hs {
		m.callSafe(h, ev)
	}
}

func (m *Manager) callSafe(h Handler, ev GameEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.reportError(fmt.Errorf("feed: handler panic on %s: %v", ev.Kind, r))
		}
	}()
	h(ev)
}

func (m *Manager) reportError(err error) {
	if m.cfg.OnError != nil {
		m.cfg.OnError(err)
	}
}
