// Package positions manages the lifecycle of open positions: entry against
// detected opportunities, exits, and the append-only trade history.
package positions

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/oddsedge/pkg/engine"
	"github.com/phenomenon0/oddsedge/pkg/feed"
)

var (
	// ErrConfidenceTooLow reports an opportunity below the tradable tier.
	ErrConfidenceTooLow = errors.New("confidence below tradable tier")
	// ErrDuplicatePosition reports an instrument that already has an open
	// position.
	ErrDuplicatePosition = errors.New("position already open for instrument")
	// ErrExposureCap reports a trade that would push total exposure past
	// the portfolio cap.
	ErrExposureCap = errors.New("portfolio exposure cap reached")
)

// PolicyConfig bounds what the manager is willing to trade.
type PolicyConfig struct {
	// PortfolioCap is the maximum total notional across open positions.
	PortfolioCap decimal.Decimal
	// TradeFraction of the cap allocated per trade, before TradeCeiling.
	TradeFraction decimal.Decimal
	// TradeCeiling is the absolute per-trade notional limit.
	TradeCeiling decimal.Decimal
	// MinConfidence is the lowest tier the manager will trade.
	MinConfidence engine.Confidence
	// MaxHoldDuration is how long a position may stay open before the
	// auto-sell sweep closes it.
	MaxHoldDuration time.Duration
}

// DefaultPolicyConfig returns the standard trading limits.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		PortfolioCap:    decimal.NewFromInt(500),
		TradeFraction:   decimal.RequireFromString("0.10"),
		TradeCeiling:    decimal.NewFromInt(50),
		MinConfidence:   engine.ConfidenceMedium,
		MaxHoldDuration: 2 * time.Hour,
	}
}

// tradeNotional returns the per-trade dollar allocation: the configured
// fraction of the cap, clamped to the ceiling.
func (p PolicyConfig) tradeNotional() decimal.Decimal {
	n := p.PortfolioCap.Mul(p.TradeFraction)
	if n.GreaterThan(p.TradeCeiling) {
		return p.TradeCeiling
	}
	return n
}

// Position is an open holding in one instrument. Size and Notional shrink on
// partial sells; the position leaves the active set when Size reaches zero.
type Position struct {
	ID           string
	InstrumentID string
	EventKey     feed.EventKey
	Team         string
	Size         decimal.Decimal // contracts still held
	EntryPrice   decimal.Decimal
	Notional     decimal.Decimal // entry cost of the remaining size
	Edge         float64
	Confidence   engine.Confidence
	OrderID      string
	OpenedAt     time.Time
}

// HistoryKind tags a history entry.
type HistoryKind string

const (
	HistoryOpen      HistoryKind = "open"
	HistoryClose     HistoryKind = "close"
	HistoryAutoClose HistoryKind = "auto_close"
)

// HistoryEntry is one immutable record in the trade log.
type HistoryEntry struct {
	ID           string
	PositionID   string
	Kind         HistoryKind
	InstrumentID string
	Team         string
	Size         decimal.Decimal
	Price        decimal.Decimal
	Notional     decimal.Decimal
	PnL          decimal.Decimal // zero for opens
	At           time.Time
}

// Status is a point-in-time portfolio summary.
type Status struct {
	OpenPositions int
	Exposure      decimal.Decimal
	PortfolioCap  decimal.Decimal
	RealizedPnL   decimal.Decimal
	TradesOpened  int
	TradesClosed  int
}
