// Package runner wires the feed, the reconciliation engine, and the position
// manager into the periodic trading loops.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/phenomenon0/oddsedge/pkg/engine"
	"github.com/phenomenon0/oddsedge/pkg/exchange"
	"github.com/phenomenon0/oddsedge/pkg/feed"
	"github.com/phenomenon0/oddsedge/pkg/trader/metrics"
	"github.com/phenomenon0/oddsedge/pkg/trader/positions"
)

// Config sets the loop cadence.
type Config struct {
	// EvaluateInterval is how often prices are refreshed, opportunities
	// detected, and positions evaluated.
	EvaluateInterval time.Duration
	// CleanupInterval is how often stale store entries are evicted.
	CleanupInterval time.Duration
	// StaleMaxAge is the eviction horizon passed to the engine.
	StaleMaxAge time.Duration
	// Instruments to poll venue prices for.
	Instruments []string
}

// DefaultConfig returns the standard loop cadence.
func DefaultConfig() Config {
	return Config{
		EvaluateInterval: 30 * time.Second,
		CleanupInterval:  5 * time.Minute,
		StaleMaxAge:      10 * time.Minute,
	}
}

// Runner owns the background loops. Construct with New, then Start.
type Runner struct {
	config Config
	feed   *feed.Manager
	engine *engine.Engine
	venue  exchange.Client
	trader *positions.Manager
	met    *metrics.TradingMetrics

	mu          sync.RWMutex
	running     bool
	stopCh      chan struct{}
	instruments map[string]struct{}

	onOpportunity func(engine.Opportunity)
	onTrade       func(*positions.Position, string)
	onError       func(error)
}

// New builds a Runner. The feed handlers are registered here; events start
// flowing once Start connects the feed.
func New(config Config, fm *feed.Manager, eng *engine.Engine, venue exchange.Client, trader *positions.Manager, met *metrics.TradingMetrics) *Runner {
	def := DefaultConfig()
	if config.EvaluateInterval == 0 {
		config.EvaluateInterval = def.EvaluateInterval
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.StaleMaxAge == 0 {
		config.StaleMaxAge = def.StaleMaxAge
	}

	r := &Runner{
		config:      config,
		feed:        fm,
		engine:      eng,
		venue:       venue,
		trader:      trader,
		met:         met,
		stopCh:      make(chan struct{}),
		instruments: make(map[string]struct{}),
	}
	for _, id := range config.Instruments {
		r.instruments[id] = struct{}{}
	}
	r.wireFeed()
	return r
}

// OnOpportunity sets a callback invoked for every detected opportunity.
func (r *Runner) OnOpportunity(fn func(engine.Opportunity)) {
	r.onOpportunity = fn
}

// OnTrade sets a callback invoked when a position opens or closes. The
// second argument is "open", "close", or "auto_close".
func (r *Runner) OnTrade(fn func(*positions.Position, string)) {
	r.onTrade = fn
}

// OnError sets a callback for errors.
func (r *Runner) OnError(fn func(error)) {
	r.onError = fn
}

// TrackInstrument adds an instrument to the price polling set.
func (r *Runner) TrackInstrument(id string) {
	r.mu.Lock()
	r.instruments[id] = struct{}{}
	r.mu.Unlock()
}

// Start connects the feed and launches the evaluate and cleanup loops.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runner already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.feed.Connect(ctx)

	go r.evaluateLoop(ctx)
	go r.cleanupLoop(ctx)

	return nil
}

// Stop halts the loops and closes the feed.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		close(r.stopCh)
		r.running = false
		_ = r.feed.Close()
	}
}

// IsRunning returns true while the loops are live.
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Opportunities runs detection against the current store state.
func (r *Runner) Opportunities() []engine.Opportunity {
	return r.engine.FindOpportunities()
}

func (r *Runner) wireFeed() {
	ingest := func(ev feed.GameEvent) {
		r.met.RecordFeedEvent(ev.Kind.String())
		r.engine.IngestOdds(engine.SnapshotFromGame(ev.Game))
	}
	for _, kind := range []feed.EventKind{
		feed.KindInitialState, feed.KindAdded, feed.KindUpdate, feed.KindLineUpdate,
	} {
		r.feed.On(kind, ingest)
	}
	r.feed.On(feed.KindRemoved, func(ev feed.GameEvent) {
		r.met.RecordFeedEvent(ev.Kind.String())
		r.engine.RemoveOdds(string(ev.Key))
	})
	r.feed.On(feed.KindError, func(ev feed.GameEvent) {
		r.met.RecordFeedError()
		r.handleError(fmt.Errorf("feed error: %s", ev.Message))
	})
}

func (r *Runner) evaluateLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.EvaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.EvaluateOnce(ctx)
		}
	}
}

func (r *Runner) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.cleanupOnce()
		}
	}
}

// EvaluateOnce runs one full pass: refresh venue prices, detect
// opportunities, evaluate them for entry, then sweep expired positions.
func (r *Runner) EvaluateOnce(ctx context.Context) {
	start := time.Now()

	r.refreshPrices(ctx)

	st := r.feed.Status()
	r.met.UpdateFeed(st.Connected, st.Attempts)

	opps := r.engine.FindOpportunities()
	for _, opp := range opps {
		r.met.RecordOpportunity(opp.Confidence.String(), opp.Edge)
		if r.onOpportunity != nil {
			r.onOpportunity(opp)
		}

		pos, err := r.trader.EvaluateOpportunity(ctx, opp)
		if err != nil {
			if reason, skipped := skipReason(err); skipped {
				r.met.RecordPolicySkip(reason)
			} else {
				r.handleError(fmt.Errorf("evaluate %s: %w", opp.InstrumentID, err))
			}
			continue
		}
		r.met.RecordTrade("open")
		if r.onTrade != nil {
			r.onTrade(pos, "open")
		}
	}

	closed, err := r.trader.AutoSellSweep(ctx)
	for i := 0; i < closed; i++ {
		r.met.RecordTrade("auto_close")
	}
	if err != nil {
		r.handleError(fmt.Errorf("auto-sell sweep: %w", err))
	}

	ts := r.trader.Status()
	r.met.UpdatePortfolio(ts.OpenPositions, ts.Exposure, ts.RealizedPnL)

	oddsCount, priceCount := r.engine.Counts()
	r.met.UpdateStores(oddsCount, priceCount)

	r.met.RecordEvaluation(time.Since(start).Seconds())
}

// refreshPrices polls the venue book for every tracked instrument and feeds
// the midpoint into the price store.
func (r *Runner) refreshPrices(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.instruments))
	for id := range r.instruments {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		ob, err := r.venue.GetOrderBook(ctx, id)
		if err != nil {
			r.handleError(fmt.Errorf("poll book %s: %w", id, err))
			continue
		}
		mid := ob.Midpoint()
		if mid.IsZero() {
			continue
		}
		price, _ := mid.Float64()
		if err := r.engine.IngestPrice(id, price); err != nil {
			r.handleError(fmt.Errorf("ingest price %s: %w", id, err))
		}
	}
}

func (r *Runner) cleanupOnce() {
	oddsRemoved, pricesRemoved := r.engine.ClearOldData(r.config.StaleMaxAge)
	r.met.RecordEvictions(oddsRemoved, pricesRemoved)

	oddsCount, priceCount := r.engine.Counts()
	r.met.UpdateStores(oddsCount, priceCount)
}

func (r *Runner) handleError(err error) {
	if r.onError != nil {
		r.onError(err)
	}
}

// skipReason maps a policy refusal to a metrics label. Non-policy errors
// return false.
func skipReason(err error) (string, bool) {
	switch {
	case errors.Is(err, positions.ErrConfidenceTooLow):
		return "confidence", true
	case errors.Is(err, positions.ErrDuplicatePosition):
		return "duplicate", true
	case errors.Is(err, positions.ErrExposureCap):
		return "exposure_cap", true
	default:
		return "", false
	}
}
