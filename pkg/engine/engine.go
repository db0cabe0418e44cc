package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/phenomenon0/oddsedge/pkg/odds"
)

// Config tunes opportunity detection.
type Config struct {
	// MinEdge is the smallest edge worth reporting.
	MinEdge float64
	// MediumEdge and HighEdge are the confidence-tier boundaries (exclusive).
	MediumEdge float64
	HighEdge   float64
	// Sports restricts matching to these sports. Empty matches all.
	Sports []string
	// MarketTypes restricts matching to these market types.
	MarketTypes []string
	// MaxAge is the default staleness horizon for ClearOldData.
	MaxAge time.Duration

	Correlator Correlator
}

// DefaultConfig returns the standard detection thresholds.
func DefaultConfig() Config {
	return Config{
		MinEdge:     0.05,
		MediumEdge:  0.10,
		HighEdge:    0.15,
		MarketTypes: []string{"moneyline"},
		MaxAge:      10 * time.Minute,
		Correlator:  PairAll{},
	}
}

// Engine holds the reconciled odds and price state. All mutation is
// serialized behind a single lock so detection always sees a consistent
// snapshot of both stores.
type Engine struct {
	cfg Config

	mu     sync.RWMutex
	odds   map[string]*OddsSnapshot // keyed by string(snap.Key)
	prices map[string]*PriceSnapshot

	now func() time.Time
}

// New builds an Engine. Zero-value fields in cfg fall back to defaults.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MinEdge == 0 {
		cfg.MinEdge = def.MinEdge
	}
	if cfg.MediumEdge == 0 {
		cfg.MediumEdge = def.MediumEdge
	}
	if cfg.HighEdge == 0 {
		cfg.HighEdge = def.HighEdge
	}
	if len(cfg.MarketTypes) == 0 {
		cfg.MarketTypes = def.MarketTypes
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.Correlator == nil {
		cfg.Correlator = def.Correlator
	}
	return &Engine{
		cfg:    cfg,
		odds:   make(map[string]*OddsSnapshot),
		prices: make(map[string]*PriceSnapshot),
		now:    time.Now,
	}
}

// IngestOdds stores or replaces the odds snapshot for an event.
func (e *Engine) IngestOdds(snap OddsSnapshot) {
	snap.UpdatedAt = e.now()
	e.mu.Lock()
	e.odds[string(snap.Key)] = &snap
	e.mu.Unlock()
}

// RemoveOdds drops the odds for an event, typically on game_removed.
func (e *Engine) RemoveOdds(key string) {
	e.mu.Lock()
	delete(e.odds, key)
	e.mu.Unlock()
}

// IngestPrice stores or replaces the price for an instrument. Prices outside
// (0, 1) are rejected with ErrInvalidPrice and leave the store untouched.
func (e *Engine) IngestPrice(instrumentID string, price float64) error {
	if price <= 0 || price >= 1 {
		return ErrInvalidPrice
	}
	e.mu.Lock()
	e.prices[instrumentID] = &PriceSnapshot{
		InstrumentID: instrumentID,
		Price:        price,
		UpdatedAt:    e.now(),
	}
	e.mu.Unlock()
	return nil
}

// FindOpportunities crosses every stored odds snapshot against every stored
// price and reports at most one opportunity per (event, instrument) pair,
// carrying the best edge across the event's qualifying lines. A pair is
// reported only when that best edge strictly exceeds the minimum threshold.
// The result is sorted by edge descending, with event key and instrument as
// tiebreakers so equal inputs always produce equal output.
func (e *Engine) FindOpportunities() []Opportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()

	oddsKeys := make([]string, 0, len(e.odds))
	for k := range e.odds {
		oddsKeys = append(oddsKeys, k)
	}
	sort.Strings(oddsKeys)

	priceKeys := make([]string, 0, len(e.prices))
	for k := range e.prices {
		priceKeys = append(priceKeys, k)
	}
	sort.Strings(priceKeys)

	now := e.now()
	var out []Opportunity
	for _, ok := range oddsKeys {
		snap := e.odds[ok]
		if !e.sportAllowed(snap.Sport) {
			continue
		}
		for _, pk := range priceKeys {
			price := e.prices[pk]
			dec, err := odds.PriceToDecimal(price.Price)
			if err != nil {
				continue
			}
			var best Opportunity
			found := false
			for _, line := range snap.Lines {
				if !e.marketAllowed(line.MarketType) {
					continue
				}
				if !e.cfg.Correlator.Matches(snap, line, price) {
					continue
				}
				prob, err := odds.AmericanToImpliedProbability(line.American)
				if err != nil {
					continue
				}
				edge := prob - 1/dec
				// Ties keep the earlier line; snapshot line order is stable.
				if found && edge <= best.Edge {
					continue
				}
				best = Opportunity{
					Key:          snap.Key,
					InstrumentID: price.InstrumentID,
					Team:         line.Team,
					MarketType:   line.MarketType,
					American:     line.American,
					ImpliedProb:  prob,
					Price:        price.Price,
					Edge:         edge,
					Confidence:   e.confidence(edge),
					DetectedAt:   now,
				}
				found = true
			}
			if !found || best.Edge <= e.cfg.MinEdge {
				continue
			}
			out = append(out, best)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Edge != out[j].Edge {
			return out[i].Edge > out[j].Edge
		}
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].InstrumentID < out[j].InstrumentID
	})
	return out
}

// ClearOldData evicts odds and prices not refreshed within maxAge. A maxAge
// of zero uses the configured default. Returns the eviction counts.
func (e *Engine) ClearOldData(maxAge time.Duration) (oddsRemoved, pricesRemoved int) {
	if maxAge == 0 {
		maxAge = e.cfg.MaxAge
	}
	cutoff := e.now().Add(-maxAge)

	e.mu.Lock()
	defer e.mu.Unlock()

	for k, snap := range e.odds {
		if snap.UpdatedAt.Before(cutoff) {
			delete(e.odds, k)
			oddsRemoved++
		}
	}
	for k, price := range e.prices {
		if price.UpdatedAt.Before(cutoff) {
			delete(e.prices, k)
			pricesRemoved++
		}
	}
	return oddsRemoved, pricesRemoved
}

// Odds returns a copy of the stored odds snapshots, sorted by event key.
func (e *Engine) Odds() []OddsSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]OddsSnapshot, 0, len(e.odds))
	for _, snap := range e.odds {
		out = append(out, *snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Prices returns a copy of the stored price snapshots, sorted by instrument.
func (e *Engine) Prices() []PriceSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]PriceSnapshot, 0, len(e.prices))
	for _, p := range e.prices {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out
}

// Counts reports store sizes for status surfaces.
func (e *Engine) Counts() (oddsCount, priceCount int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.odds), len(e.prices)
}

func (e *Engine) sportAllowed(sport string) bool {
	if len(e.cfg.Sports) == 0 {
		return true
	}
	for _, s := range e.cfg.Sports {
		if s == sport {
			return true
		}
	}
	return false
}

func (e *Engine) marketAllowed(marketType string) bool {
	for _, m := range e.cfg.MarketTypes {
		if m == marketType {
			return true
		}
	}
	return false
}

func (e *Engine) confidence(edge float64) Confidence {
	switch {
	case edge > e.cfg.HighEdge:
		return ConfidenceHigh
	case edge > e.cfg.MediumEdge:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
