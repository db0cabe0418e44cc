package wss

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Test WebSocket server
func newTestServer(handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClientConnect(t *testing.T) {
	server := newTestServer(func(conn *websocket.Conn) {
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(mt, msg)
		}
	})
	defer server.Close()

	config := DefaultConfig(wsURL(server))
	config.ReconnectEnabled = false

	var mu sync.Mutex
	var connected bool

	client := NewClient(config, Handlers{
		OnConnect: func() {
			mu.Lock()
			connected = true
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	mu.Lock()
	if !connected {
		t.Error("OnConnect was not called")
	}
	mu.Unlock()

	if !client.IsConnected() {
		t.Error("client should be connected")
	}
	if client.State() != StateConnected {
		t.Errorf("wrong state: got %v, want %v", client.State(), StateConnected)
	}
	if client.Attempts() != 0 {
		t.Errorf("attempts should be 0 after connect, got %d", client.Attempts())
	}
}

func TestClientSendReceive(t *testing.T) {
	server := newTestServer(func(conn *websocket.Conn) {
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(mt, append([]byte("echo:"), msg...))
		}
	})
	defer server.Close()

	config := DefaultConfig(wsURL(server))
	config.ReconnectEnabled = false

	received := make(chan []byte, 1)
	client := NewClient(config, Handlers{
		OnMessage: func(data []byte) {
			received <- data
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := client.Send([]byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg) != "echo:hello" {
			t.Errorf("wrong message: got %s, want echo:hello", string(msg))
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for message")
	}
}

func TestSubscribeMessageSentOnConnect(t *testing.T) {
	received := make(chan []byte, 1)
	server := newTestServer(func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- msg
		// Keep connection open
		time.Sleep(1 * time.Second)
	})
	defer server.Close()

	config := DefaultConfig(wsURL(server))
	config.ReconnectEnabled = false

	client := NewClient(config, Handlers{})
	client.SetSubscribeMessage(map[string]string{"action": "subscribe"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case msg := <-received:
		var data map[string]string
		if err := json.Unmarshal(msg, &data); err != nil {
			t.Fatalf("failed to parse subscribe message: %v", err)
		}
		if data["action"] != "subscribe" {
			t.Errorf("wrong action: got %q", data["action"])
		}
	case <-time.After(2 * time.Second):
		t.Error("subscribe message was not sent on connect")
	}
}

func TestClientClose(t *testing.T) {
	server := newTestServer(func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	config := DefaultConfig(wsURL(server))
	config.ReconnectEnabled = false

	client := NewClient(config, Handlers{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	client.Close()
	client.Close() // idempotent

	if client.State() != StateClosed {
		t.Errorf("wrong state: got %v, want %v", client.State(), StateClosed)
	}

	if err := client.Send([]byte("test")); err == nil {
		t.Error("Send should fail after close")
	}
}

func TestReconnectBudgetExhausted(t *testing.T) {
	// Server is closed immediately so every dial fails.
	server := newTestServer(func(conn *websocket.Conn) {})
	url := wsURL(server)
	server.Close()

	config := DefaultConfig(url)
	config.ReconnectBaseDelay = 1 * time.Millisecond
	config.ReconnectMaxDelay = 5 * time.Millisecond
	config.ReconnectMaxAttempts = 3

	gaveUp := make(chan struct{})
	client := NewClient(config, Handlers{
		OnError: func(err error) {
			if errors.Is(err, ErrRetryBudgetExhausted) {
				close(gaveUp)
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err == nil {
		t.Fatal("Connect should fail against a closed server")
	}
	defer client.Close()

	select {
	case <-gaveUp:
	case <-time.After(5 * time.Second):
		t.Fatal("client never reported budget exhaustion")
	}

	if !client.GaveUp() {
		t.Error("GaveUp should be true")
	}
	if client.IsConnected() {
		t.Error("client should not be connected")
	}
	if client.State() != StateDisconnected {
		t.Errorf("wrong state: got %v, want %v", client.State(), StateDisconnected)
	}
	if client.Attempts() < config.ReconnectMaxAttempts {
		t.Errorf("attempts = %d, want >= %d", client.Attempts(), config.ReconnectMaxAttempts)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateClosed, "closed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}
