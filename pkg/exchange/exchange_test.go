package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/oddsedge/pkg/book"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGetOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orderbook" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("instrument_id"); got != "celtics-ml" {
			t.Errorf("instrument_id = %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"instrument_id": "celtics-ml",
			"bids":          []map[string]string{{"price": "0.40", "size": "100"}},
			"asks":          []map[string]string{{"price": "0.45", "size": "60"}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	b, err := c.GetOrderBook(testContext(t), "celtics-ml")
	if err != nil {
		t.Fatal(err)
	}
	ask, ok := b.BestAsk()
	if !ok || !ask.Price.Equal(decimal.RequireFromString("0.45")) {
		t.Errorf("BestAsk = %s ok=%v", ask.Price, ok)
	}
}

func TestPlaceOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sekrit" {
			t.Errorf("auth header = %q", auth)
		}
		var req struct {
			InstrumentID string `json:"instrument_id"`
			Side         string `json:"side"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Side != "BUY" {
			t.Errorf("side = %q, want BUY", req.Side)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Order{
			ID:           "ord-1",
			InstrumentID: req.InstrumentID,
			Side:         req.Side,
			Status:       OrderFilled,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, WithAPIKey("sekrit"))
	order, err := c.PlaceOrder(testContext(t), OrderRequest{
		InstrumentID: "celtics-ml",
		Side:         book.SideBuy,
		Price:        decimal.RequireFromString("0.45"),
		Size:         decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if order.ID != "ord-1" || order.Status != OrderFilled {
		t.Errorf("order = %+v", order)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	c := NewHTTPClient("http://unused")
	_, err := c.PlaceOrder(testContext(t), OrderRequest{InstrumentID: "", Size: decimal.NewFromInt(1)})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing instrument error = %v, want ErrInvalidInput", err)
	}
	_, err = c.PlaceOrder(testContext(t), OrderRequest{InstrumentID: "x", Size: decimal.Zero})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero size error = %v, want ErrInvalidInput", err)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"not found", http.StatusNotFound, `{"error":"not_found","message":"no such instrument"}`, ErrNotFound},
		{"no liquidity", http.StatusConflict, `{"error":"no_liquidity","message":"book empty"}`, ErrNoLiquidity},
		{"bad request", http.StatusBadRequest, `{"error":"bad_size","message":"size too small"}`, ErrInvalidInput},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				_, _ = w.Write([]byte(c.body))
			}))
			defer srv.Close()

			client := NewHTTPClient(srv.URL)
			_, err := client.GetOrderBook(testContext(t), "x")
			if !errors.Is(err, c.want) {
				t.Errorf("error = %v, want %v", err, c.want)
			}
		})
	}
}

func TestGetActiveOrdersAndCancel(t *testing.T) {
	var cancelled string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/orders":
			_ = json.NewEncoder(w).Encode([]Order{{ID: "ord-1", Status: OrderOpen}})
		case r.Method == http.MethodDelete:
			cancelled = r.URL.Path
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	orders, err := c.GetActiveOrders(testContext(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || orders[0].ID != "ord-1" {
		t.Errorf("orders = %+v", orders)
	}

	if err := c.CancelOrder(testContext(t), "ord-1"); err != nil {
		t.Fatal(err)
	}
	if cancelled != "/orders/ord-1" {
		t.Errorf("cancel path = %q", cancelled)
	}
}
