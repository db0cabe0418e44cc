// Package exchange defines the trading venue interface and an HTTP client
// implementation for it.
package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/oddsedge/pkg/book"
)

var (
	// ErrNotFound reports an unknown instrument, order, or position.
	ErrNotFound = errors.New("not found")
	// ErrNoLiquidity reports a book too thin to execute against.
	ErrNoLiquidity = errors.New("no liquidity")
	// ErrInvalidInput reports a request the venue rejected as malformed.
	ErrInvalidInput = errors.New("invalid input")
)

// OrderStatus is the venue-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
)

// OrderRequest is a limit order to submit.
type OrderRequest struct {
	InstrumentID string          `json:"instrument_id"`
	Side         book.Side       `json:"-"`
	SideLabel    string          `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
}

// Order is a venue-acknowledged order.
type Order struct {
	ID           string          `json:"id"`
	InstrumentID string          `json:"instrument_id"`
	Side         string          `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	FilledSize   decimal.Decimal `json:"filled_size"`
	Status       OrderStatus     `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Client is the venue surface the trading layer depends on. Implementations
// must be safe for concurrent use.
type Client interface {
	// GetOrderBook fetches the current book for an instrument.
	GetOrderBook(ctx context.Context, instrumentID string) (*book.Book, error)
	// PlaceOrder submits a limit order. It is called at most once per
	// intent; callers never retry a failed submission.
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	// CancelOrder cancels an open order by id.
	CancelOrder(ctx context.Context, orderID string) error
	// GetActiveOrders lists the caller's open orders.
	GetActiveOrders(ctx context.Context) ([]Order, error)
}
