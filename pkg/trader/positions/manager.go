package positions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phenomenon0/oddsedge/pkg/book"
	"github.com/phenomenon0/oddsedge/pkg/engine"
	"github.com/phenomenon0/oddsedge/pkg/exchange"
)

// Hooks receive lifecycle notifications. All callbacks are optional and run
// synchronously while the manager lock is held, so they must not call back
// into the Manager.
type Hooks struct {
	OnOpen  func(*Position)
	OnClose func(*Position, decimal.Decimal) // runs on every sell fill, partial included; second arg is the realized pnl
	OnSkip  func(opp engine.Opportunity, reason error)
}

// Manager owns all open positions and the trade history. A single lock
// serializes every mutation, including the venue calls made while opening
// and closing, so at most one order is ever in flight per manager.
type Manager struct {
	policy PolicyConfig
	venue  exchange.Client
	hooks  Hooks

	mu          sync.Mutex
	open        map[string]*Position // keyed by instrument id
	history     []HistoryEntry
	realizedPnL decimal.Decimal
	opened      int
	closed      int

	now func() time.Time
}

// NewManager builds a Manager trading through the given venue.
func NewManager(policy PolicyConfig, venue exchange.Client, hooks Hooks) *Manager {
	return &Manager{
		policy: policy,
		venue:  venue,
		hooks:  hooks,
		open:   make(map[string]*Position),
		now:    time.Now,
	}
}

// EvaluateOpportunity decides whether to trade an opportunity and, if policy
// allows, buys at the best ask. Policy refusals return a nil position and one
// of the package's sentinel errors. An empty or missing ask abandons the
// attempt with exchange.ErrNoLiquidity; order submission is never retried.
func (m *Manager) EvaluateOpportunity(ctx context.Context, opp engine.Opportunity) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.admit(opp); err != nil {
		if m.hooks.OnSkip != nil {
			m.hooks.OnSkip(opp, err)
		}
		return nil, err
	}

	ob, err := m.venue.GetOrderBook(ctx, opp.InstrumentID)
	if err != nil {
		return nil, fmt.Errorf("fetch book for %s: %w", opp.InstrumentID, err)
	}
	ask, ok := ob.BestAsk()
	if !ok || ask.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: no ask for %s", exchange.ErrNoLiquidity, opp.InstrumentID)
	}

	notional := m.policy.tradeNotional()
	if headroom := m.policy.PortfolioCap.Sub(m.exposureLocked()); notional.GreaterThan(headroom) {
		notional = headroom
	}
	size := notional.Div(ask.Price).RoundDown(2)
	if size.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: allocation too small at ask %s", ErrExposureCap, ask.Price)
	}
	if _, _, err := ob.FillCost(book.SideBuy, size); err != nil {
		return nil, fmt.Errorf("%w: ask depth cannot fill %s of %s", exchange.ErrNoLiquidity, size, opp.InstrumentID)
	}

	order, err := m.venue.PlaceOrder(ctx, exchange.OrderRequest{
		InstrumentID: opp.InstrumentID,
		Side:         book.SideBuy,
		Price:        ask.Price,
		Size:         size,
	})
	if err != nil {
		return nil, fmt.Errorf("place order for %s: %w", opp.InstrumentID, err)
	}

	now := m.now()
	pos := &Position{
		ID:           uuid.NewString(),
		InstrumentID: opp.InstrumentID,
		EventKey:     opp.Key,
		Team:         opp.Team,
		Size:         size,
		EntryPrice:   ask.Price,
		Notional:     ask.Price.Mul(size),
		Edge:         opp.Edge,
		Confidence:   opp.Confidence,
		OrderID:      order.ID,
		OpenedAt:     now,
	}
	m.open[pos.InstrumentID] = pos
	m.opened++
	m.appendHistory(HistoryEntry{
		PositionID:   pos.ID,
		Kind:         HistoryOpen,
		InstrumentID: pos.InstrumentID,
		Team:         pos.Team,
		Size:         pos.Size,
		Price:        pos.EntryPrice,
		Notional:     pos.Notional,
		At:           now,
	})
	if m.hooks.OnOpen != nil {
		m.hooks.OnOpen(pos)
	}

	out := *pos
	return &out, nil
}

// admit applies the pure policy checks. Caller holds the lock.
func (m *Manager) admit(opp engine.Opportunity) error {
	if opp.Confidence < m.policy.MinConfidence {
		return fmt.Errorf("%w: %s", ErrConfidenceTooLow, opp.Confidence)
	}
	if _, exists := m.open[opp.InstrumentID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePosition, opp.InstrumentID)
	}
	if m.exposureLocked().GreaterThanOrEqual(m.policy.PortfolioCap) {
		return fmt.Errorf("%w: exposure %s of %s", ErrExposureCap,
			m.exposureLocked(), m.policy.PortfolioCap)
	}
	return nil
}

// SellPosition sells from the open position on the given instrument at the
// best bid. A zero amount sells everything; a positive amount smaller than
// the held size is a partial close that decrements the position, and any
// larger amount is clamped to the held size. Returns exchange.ErrNotFound
// when no position is open on the instrument, exchange.ErrInvalidInput for a
// negative amount, and exchange.ErrNoLiquidity when there is no bid; the
// position is untouched in every failure case.
func (m *Manager) SellPosition(ctx context.Context, instrumentID string, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sellLocked(ctx, instrumentID, amount, HistoryClose)
}

func (m *Manager) sellLocked(ctx context.Context, instrumentID string, amount decimal.Decimal, kind HistoryKind) (decimal.Decimal, error) {
	pos, ok := m.open[instrumentID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no open position on %s", exchange.ErrNotFound, instrumentID)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: sell amount %s", exchange.ErrInvalidInput, amount)
	}
	size := pos.Size
	if amount.IsPositive() && amount.LessThan(pos.Size) {
		size = amount
	}

	ob, err := m.venue.GetOrderBook(ctx, pos.InstrumentID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch book for %s: %w", pos.InstrumentID, err)
	}
	bid, ok := ob.BestBid()
	if !ok || bid.Price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: no bid for %s", exchange.ErrNoLiquidity, pos.InstrumentID)
	}

	_, err = m.venue.PlaceOrder(ctx, exchange.OrderRequest{
		InstrumentID: pos.InstrumentID,
		Side:         book.SideSell,
		Price:        bid.Price,
		Size:         size,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("place sell for %s: %w", pos.InstrumentID, err)
	}

	proceeds := bid.Price.Mul(size)
	costBasis := pos.EntryPrice.Mul(size)
	pnl := proceeds.Sub(costBasis)

	pos.Size = pos.Size.Sub(size)
	pos.Notional = pos.Notional.Sub(costBasis)
	if pos.Size.LessThanOrEqual(decimal.Zero) {
		delete(m.open, pos.InstrumentID)
		m.closed++
	}
	m.realizedPnL = m.realizedPnL.Add(pnl)
	m.appendHistory(HistoryEntry{
		PositionID:   pos.ID,
		Kind:         kind,
		InstrumentID: pos.InstrumentID,
		Team:         pos.Team,
		Size:         size,
		Price:        bid.Price,
		Notional:     proceeds,
		PnL:          pnl,
		At:           m.now(),
	})
	if m.hooks.OnClose != nil {
		m.hooks.OnClose(pos, pnl)
	}
	return pnl, nil
}

// AutoSellSweep closes every position held longer than MaxHoldDuration. A
// failed sell leaves that position open and the sweep moves on; all failures
// are joined into the returned error. Returns the number of positions closed.
func (m *Manager) AutoSellSweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.policy.MaxHoldDuration)

	expired := make([]*Position, 0)
	for _, p := range m.open {
		if p.OpenedAt.Before(cutoff) {
			expired = append(expired, p)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].OpenedAt.Before(expired[j].OpenedAt) })

	var errs []error
	closed := 0
	for _, p := range expired {
		if _, err := m.sellLocked(ctx, p.InstrumentID, decimal.Zero, HistoryAutoClose); err != nil {
			errs = append(errs, fmt.Errorf("auto-sell %s: %w", p.InstrumentID, err))
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

// ActivePositions returns copies of the open positions, oldest first.
func (m *Manager) ActivePositions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// History returns a copy of the trade log in append order.
func (m *Manager) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// Status summarizes the portfolio.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		OpenPositions: len(m.open),
		Exposure:      m.exposureLocked(),
		PortfolioCap:  m.policy.PortfolioCap,
		RealizedPnL:   m.realizedPnL,
		TradesOpened:  m.opened,
		TradesClosed:  m.closed,
	}
}

func (m *Manager) exposureLocked() decimal.Decimal {
	total := decimal.Zero
	for _, p := range m.open {
		total = total.Add(p.Notional)
	}
	return total
}

func (m *Manager) appendHistory(e HistoryEntry) {
	e.ID = uuid.NewString()
	m.history = append(m.history, e)
}
