// Package book provides an L2 order book for priced instruments, aggregated
// by price level. Books are safe for concurrent use.
package book

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoLiquidity is returned when the book cannot cover a requested size.
var ErrNoLiquidity = errors.New("insufficient liquidity")

// Side of an order or quote.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "BUY"
	}
	return "SELL"
}

// Level is an aggregated price level.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Book holds the resting liquidity for one instrument. Bids are kept best
// (highest) first, asks best (lowest) first.
type Book struct {
	InstrumentID string

	mu        sync.RWMutex
	bids      []Level
	asks      []Level
	updatedAt time.Time
}

// New returns an empty book for an instrument.
func New(instrumentID string) *Book {
	return &Book{InstrumentID: instrumentID}
}

// Replace swaps in a full set of levels for both sides, sorting each into
// canonical order, and stamps the update time.
func (b *Book) Replace(bids, asks []Level) {
	bs := make([]Level, len(bids))
	copy(bs, bids)
	sort.Slice(bs, func(i, j int) bool { return bs[i].Price.GreaterThan(bs[j].Price) })

	as := make([]Level, len(asks))
	copy(as, asks)
	sort.Slice(as, func(i, j int) bool { return as[i].Price.LessThan(as[j].Price) })

	b.mu.Lock()
	b.bids = bs
	b.asks = as
	b.updatedAt = time.Now()
	b.mu.Unlock()
}

// BestBid returns the highest bid. ok is false when the side is empty.
func (b *Book) BestBid() (level Level, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 {
		return Level{}, false
	}
	return b.bids[0], true
}

// BestAsk returns the lowest ask. ok is false when the side is empty.
func (b *Book) BestAsk() (level Level, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.asks) == 0 {
		return Level{}, false
	}
	return b.asks[0], true
}

// Midpoint returns the mid of best bid and ask, or zero when either side is
// empty.
func (b *Book) Midpoint() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return decimal.Zero
	}
	return b.bids[0].Price.Add(b.asks[0].Price).Div(decimal.NewFromInt(2))
}

// Spread returns ask minus bid at the top of book, or zero when either side
// is empty.
func (b *Book) Spread() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return decimal.Zero
	}
	return b.asks[0].Price.Sub(b.bids[0].Price)
}

// Depth reports the level counts on each side.
func (b *Book) Depth() (bids, asks int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bids), len(b.asks)
}

// UpdatedAt returns when the book was last replaced.
func (b *Book) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

// Levels returns copies of both sides, best first.
func (b *Book) Levels() (bids, asks []Level) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bids = make([]Level, len(b.bids))
	copy(bids, b.bids)
	asks = make([]Level, len(b.asks))
	copy(asks, b.asks)
	return bids, asks
}

// FillCost walks the book for the given side and size and returns the total
// cost and volume-weighted average price. Buying consumes asks, selling
// consumes bids. Returns ErrNoLiquidity when the book cannot cover the size.
func (b *Book) FillCost(side Side, size decimal.Decimal) (cost, avgPrice decimal.Decimal, err error) {
	if size.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("size must be positive, got %s", size)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := b.asks
	if side == SideSell {
		levels = b.bids
	}

	remaining := size
	cost = decimal.Zero
	for _, level := range levels {
		if remaining.IsZero() {
			break
		}
		fill := level.Size
		if fill.GreaterThan(remaining) {
			fill = remaining
		}
		cost = cost.Add(level.Price.Mul(fill))
		remaining = remaining.Sub(fill)
	}

	if remaining.GreaterThan(decimal.Zero) {
		return decimal.Zero, decimal.Zero,
			fmt.Errorf("%w: %s of %s unfilled on %s", ErrNoLiquidity, remaining, size, side)
	}
	return cost, cost.Div(size), nil
}

func (b *Book) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fmt.Sprintf("Book{instrument=%s, bids=%d, asks=%d}",
		b.InstrumentID, len(b.bids), len(b.asks))
}
