package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/phenomenon0/oddsedge/pkg/book"
	"github.com/phenomenon0/oddsedge/pkg/engine"
	"github.com/phenomenon0/oddsedge/pkg/exchange"
	"github.com/phenomenon0/oddsedge/pkg/feed"
	"github.com/phenomenon0/oddsedge/pkg/trader/metrics"
	"github.com/phenomenon0/oddsedge/pkg/trader/positions"
)

type fakeVenue struct {
	mu    sync.Mutex
	books map[string]*book.Book
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{books: make(map[string]*book.Book)}
}

func (v *fakeVenue) setBook(id string, bids, asks []book.Level) {
	b := book.New(id)
	b.Replace(bids, asks)
	v.mu.Lock()
	v.books[id] = b
	v.mu.Unlock()
}

func (v *fakeVenue) GetOrderBook(_ context.Context, id string) (*book.Book, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	b, ok := v.books[id]
	if !ok {
		return nil, exchange.ErrNotFound
	}
	return b, nil
}

func (v *fakeVenue) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	return &exchange.Order{
		ID:           "ord-" + req.InstrumentID,
		InstrumentID: req.InstrumentID,
		Side:         req.Side.String(),
		Price:        req.Price,
		Size:         req.Size,
		Status:       exchange.OrderFilled,
	}, nil
}

func (v *fakeVenue) CancelOrder(context.Context, string) error { return nil }

func (v *fakeVenue) GetActiveOrders(context.Context) ([]exchange.Order, error) { return nil, nil }

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestRunner(venue *fakeVenue, instruments ...string) (*Runner, *positions.Manager, *engine.Engine) {
	eng := engine.New(engine.DefaultConfig())

	policy := positions.DefaultPolicyConfig()
	policy.PortfolioCap = decimal.NewFromInt(1000)
	trader := positions.NewManager(policy, venue, positions.Hooks{})

	fm := feed.NewManager(feed.Config{URL: "ws://unused"})

	cfg := DefaultConfig()
	cfg.Instruments = instruments
	r := New(cfg, fm, eng, venue, trader, metrics.NewTradingMetrics())
	return r, trader, eng
}

func TestEvaluateOncePipeline(t *testing.T) {
	venue := newFakeVenue()
	// Midpoint 0.30 against +100 odds (implied 0.50) is a 0.20 edge.
	venue.setBook("celtics-ml",
		[]book.Level{{Price: d("0.25"), Size: d("1000")}},
		[]book.Level{{Price: d("0.35"), Size: d("1000")}},
	)

	r, trader, eng := newTestRunner(venue, "celtics-ml")
	eng.IngestOdds(engine.OddsSnapshot{
		Key:   "evt",
		Sport: "NBA",
		Lines: []engine.OddsLine{{Team: "Boston Celtics", MarketType: "moneyline", American: 100}},
	})

	var sawOpp bool
	var opened []*positions.Position
	r.OnOpportunity(func(engine.Opportunity) { sawOpp = true })
	r.OnTrade(func(p *positions.Position, action string) {
		if action == "open" {
			opened = append(opened, p)
		}
	})

	r.EvaluateOnce(context.Background())

	if !sawOpp {
		t.Error("opportunity callback never fired")
	}
	if len(opened) != 1 || opened[0].InstrumentID != "celtics-ml" {
		t.Fatalf("opened = %+v", opened)
	}
	if st := trader.Status(); st.OpenPositions != 1 {
		t.Errorf("status = %+v", st)
	}

	// Repeat pass: same instrument is refused as a duplicate, nothing new
	// opens and no error surfaces.
	var errs []error
	r.OnError(func(err error) { errs = append(errs, err) })
	r.EvaluateOnce(context.Background())

	if st := trader.Status(); st.OpenPositions != 1 {
		t.Errorf("duplicate pass changed positions: %+v", st)
	}
	if len(errs) != 0 {
		t.Errorf("policy refusals must not surface as errors: %v", errs)
	}
}

func TestRefreshPricesIngestsMidpoint(t *testing.T) {
	venue := newFakeVenue()
	venue.setBook("heat-ml",
		[]book.Level{{Price: d("0.40"), Size: d("10")}},
		[]book.Level{{Price: d("0.50"), Size: d("10")}},
	)

	r, _, eng := newTestRunner(venue, "heat-ml", "missing-instrument")

	var errs []error
	r.OnError(func(err error) { errs = append(errs, err) })

	r.refreshPrices(context.Background())

	prices := eng.Prices()
	if len(prices) != 1 || prices[0].InstrumentID != "heat-ml" {
		t.Fatalf("prices = %+v", prices)
	}
	if prices[0].Price != 0.45 {
		t.Errorf("price = %v, want 0.45", prices[0].Price)
	}
	if len(errs) != 1 {
		t.Errorf("missing instrument should report one error, got %v", errs)
	}
}

func TestStartStop(t *testing.T) {
	venue := newFakeVenue()
	r, _, _ := newTestRunner(venue)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(ctx); err == nil {
		t.Error("second Start should fail while running")
	}
	if !r.IsRunning() {
		t.Error("IsRunning = false after Start")
	}

	r.Stop()
	if r.IsRunning() {
		t.Error("IsRunning = true after Stop")
	}
	r.Stop() // idempotent
}

func TestCleanupOnceEvicts(t *testing.T) {
	venue := newFakeVenue()
	r, _, eng := newTestRunner(venue)

	eng.IngestOdds(engine.OddsSnapshot{Key: "evt", Lines: []engine.OddsLine{
		{Team: "Boston Celtics", MarketType: "moneyline", American: 100},
	}})

	// Nothing is stale yet.
	r.cleanupOnce()
	if oddsCount, _ := eng.Counts(); oddsCount != 1 {
		t.Errorf("fresh odds evicted, count = %d", oddsCount)
	}
}
