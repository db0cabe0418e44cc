// oddsedged is the odds-edge trading daemon. It streams sportsbook odds,
// reconciles them against venue prices, and trades the divergences.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/phenomenon0/oddsedge/pkg/engine"
	"github.com/phenomenon0/oddsedge/pkg/exchange"
	"github.com/phenomenon0/oddsedge/pkg/feed"
	"github.com/phenomenon0/oddsedge/pkg/runner"
	"github.com/phenomenon0/oddsedge/pkg/trader/metrics"
	"github.com/phenomenon0/oddsedge/pkg/trader/positions"
	"github.com/phenomenon0/oddsedge/pkg/trader/streaming"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var (
	// Flags
	feedURL     = flag.String("feed", "wss://feed.oddsedge.local/ws", "Odds feed WebSocket URL")
	venueURL    = flag.String("venue", "https://venue.oddsedge.local", "Trading venue REST base URL")
	httpAddr    = flag.String("http", ":8080", "HTTP server address for status API")
	sports      = flag.String("sports", "", "Comma-separated sports filter (empty = all)")
	sportsbooks = flag.String("sportsbooks", "", "Comma-separated sportsbooks filter (empty = all)")
	markets     = flag.String("markets", "moneyline", "Comma-separated markets filter")
	instruments = flag.String("instruments", "", "Comma-separated instrument ids to poll prices for")
	portfolio   = flag.Float64("cap", 500, "Portfolio exposure cap in USD")
	minEdge     = flag.Float64("min-edge", 0.05, "Minimum edge to report")
	verbose     = flag.Bool("verbose", false, "Verbose logging")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("Starting odds-edge trading daemon")

	// Context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d, err := newDaemon()
	if err != nil {
		log.Fatalf("Failed to initialize daemon: %v", err)
	}

	// Set up callbacks
	d.run.OnOpportunity(func(opp engine.Opportunity) {
		if *verbose || opp.Confidence >= engine.ConfidenceMedium {
			log.Printf("[OPPORTUNITY] %s %s edge=%.3f conf=%s (odds %+d vs price %.3f)",
				opp.Team, opp.InstrumentID, opp.Edge, opp.Confidence,
				opp.American, opp.Price)
		}
		d.streamHub.BroadcastOpportunity(opp)
	})
	d.run.OnTrade(func(pos *positions.Position, action string) {
		log.Printf("[TRADE] %s %s %s @ %s (notional $%s)",
			action, pos.Team, pos.InstrumentID, pos.EntryPrice, pos.Notional)
		d.streamHub.BroadcastTrade(action, *pos)
	})
	d.run.OnError(func(err error) {
		log.Printf("[ERROR] %v", err)
		d.streamHub.BroadcastError(err, "runner")
	})

	// Start HTTP server
	go d.startHTTP()

	// Start trading loops
	if err := d.run.Start(ctx); err != nil {
		log.Fatalf("Failed to start runner: %v", err)
	}

	// Interactive command loop
	go d.commandLoop(ctx, sigCh)

	log.Printf("Daemon running (feed=%s, http=%s)", *feedURL, *httpAddr)
	log.Printf("WebSocket streaming available at ws://%s/ws", *httpAddr)
	log.Println("Type 'help' for commands, Ctrl+C to stop")

	// Wait for signal
	<-sigCh
	log.Println("Shutting down...")

	d.run.Stop()
	d.streamHub.Stop()
	cancel()

	st := d.trader.Status()
	log.Printf("Final Stats: PnL=$%s, Opened=%d, Closed=%d",
		st.RealizedPnL, st.TradesOpened, st.TradesClosed)

	log.Println("Goodbye!")
}

type daemon struct {
	feed      *feed.Manager
	engine    *engine.Engine
	venue     exchange.Client
	trader    *positions.Manager
	run       *runner.Runner
	metrics   *metrics.TradingMetrics
	streamHub *streaming.Hub
}

func newDaemon() (*daemon, error) {
	d := &daemon{
		metrics:   metrics.NewTradingMetrics(),
		streamHub: streaming.NewHub(),
	}

	go d.streamHub.Run()

	d.engine = engine.New(engine.Config{
		MinEdge:     *minEdge,
		Sports:      splitList(*sports),
		MarketTypes: splitList(*markets),
	})

	var opts []exchange.Option
	if key := os.Getenv("ODDSEDGE_VENUE_API_KEY"); key != "" {
		opts = append(opts, exchange.WithAPIKey(key))
	} else {
		log.Println("No venue API key set - orders will likely be rejected")
	}
	d.venue = exchange.NewHTTPClient(*venueURL, opts...)

	policy := positions.DefaultPolicyConfig()
	policy.PortfolioCap = decimal.NewFromFloat(*portfolio)
	d.trader = positions.NewManager(policy, d.venue, positions.Hooks{
		OnClose: func(pos *positions.Position, pnl decimal.Decimal) {
			d.metrics.RecordTrade("close")
			log.Printf("[TRADE] close %s %s pnl=$%s", pos.Team, pos.InstrumentID, pnl)
		},
	})

	d.feed = feed.NewManager(feed.Config{
		URL: *feedURL,
		Filters: feed.Filters{
			Sports:      splitList(*sports),
			Sportsbooks: splitList(*sportsbooks),
			Markets:     splitList(*markets),
		},
		OnError: func(err error) {
			d.metrics.RecordFeedError()
			log.Printf("[FEED] %v", err)
		},
	})

	cfg := runner.DefaultConfig()
	cfg.Instruments = splitList(*instruments)
	d.run = runner.New(cfg, d.feed, d.engine, d.venue, d.trader, d.metrics)

	return d, nil
}

func (d *daemon) startHTTP() {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Status endpoint
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(d.statusSummary())
	})

	// Positions endpoint
	mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(d.trader.ActivePositions())
	})

	// History endpoint
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(d.trader.History())
	})

	// Opportunities endpoint
	mux.HandleFunc("/opportunities", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(d.run.Opportunities())
	})

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(d.metrics.Registry(), promhttp.HandlerOpts{}))

	// WebSocket streaming endpoint
	mux.HandleFunc("/ws", d.streamHub.ServeWS)

	server := &http.Server{
		Addr:         *httpAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("HTTP server listening on %s", *httpAddr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Printf("HTTP server error: %v", err)
	}
}

// commandLoop reads operator commands from stdin until exit or EOF.
func (d *daemon) commandLoop(ctx context.Context, sigCh chan os.Signal) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, args := strings.ToLower(fields[0]), fields[1:]

		switch cmd {
		case "status":
			st := d.trader.Status()
			fs := d.feed.Status()
			fmt.Printf("feed: %s (attempts=%d)\n", fs.State, fs.Attempts)
			fmt.Printf("positions: %d open, exposure $%s of $%s, pnl $%s\n",
				st.OpenPositions, st.Exposure, st.PortfolioCap, st.RealizedPnL)

		case "positions":
			active := d.trader.ActivePositions()
			if len(active) == 0 {
				fmt.Println("no open positions")
			}
			for _, p := range active {
				fmt.Printf("%s  %s %s  size=%s entry=%s notional=$%s opened=%s\n",
					p.ID, p.Team, p.InstrumentID, p.Size, p.EntryPrice,
					p.Notional, p.OpenedAt.Format(time.RFC3339))
			}

		case "history":
			for _, h := range d.trader.History() {
				fmt.Printf("%s  %-10s %s  size=%s price=%s pnl=$%s\n",
					h.At.Format(time.RFC3339), h.Kind, h.InstrumentID,
					h.Size, h.Price, h.PnL)
			}

		case "odds":
			for _, snap := range d.engine.Odds() {
				fmt.Printf("%s  %s vs %s\n", snap.Key, snap.HomeTeam, snap.AwayTeam)
				for _, line := range snap.Lines {
					fmt.Printf("    %-25s %-10s %+d\n", line.Team, line.MarketType, line.American)
				}
			}

		case "opportunities":
			opps := d.run.Opportunities()
			if len(opps) == 0 {
				fmt.Println("no opportunities")
			}
			for _, o := range opps {
				fmt.Printf("%s %s  edge=%.3f conf=%s\n",
					o.Team, o.InstrumentID, o.Edge, o.Confidence)
			}

		case "sell":
			if len(args) < 1 || len(args) > 2 {
				fmt.Println("usage: sell <instrument-id> [amount]")
				continue
			}
			amount := decimal.Zero
			if len(args) == 2 {
				var err error
				if amount, err = decimal.NewFromString(args[1]); err != nil {
					fmt.Printf("bad amount %q\n", args[1])
					continue
				}
			}
			pnl, err := d.trader.SellPosition(ctx, args[0], amount)
			switch {
			case errors.Is(err, exchange.ErrNotFound):
				fmt.Printf("no open position on %s\n", args[0])
			case errors.Is(err, exchange.ErrNoLiquidity):
				fmt.Printf("no bids for %s, position stays open\n", args[0])
			case err != nil:
				fmt.Printf("sell failed: %v\n", err)
			default:
				fmt.Printf("sold, pnl $%s\n", pnl)
			}

		case "book":
			if len(args) != 1 {
				fmt.Println("usage: book <instrument-id>")
				continue
			}
			ob, err := d.venue.GetOrderBook(ctx, args[0])
			if err != nil {
				fmt.Printf("fetch book failed: %v\n", err)
				continue
			}
			nbids, nasks := ob.Depth()
			fmt.Printf("%s  spread=%s  depth=%d/%d  updated=%s\n",
				ob.InstrumentID, ob.Spread(), nbids, nasks,
				ob.UpdatedAt().Format(time.RFC3339))
			bids, asks := ob.Levels()
			for _, lv := range asks {
				fmt.Printf("    ask %s x %s\n", lv.Price, lv.Size)
			}
			for _, lv := range bids {
				fmt.Printf("    bid %s x %s\n", lv.Price, lv.Size)
			}

		case "help":
			fmt.Println("commands: status, positions, history, odds, opportunities, book <instrument-id>, sell <instrument-id> [amount], help, exit")

		case "exit", "quit":
			sigCh <- syscall.SIGTERM
			return

		default:
			fmt.Printf("unknown command %q (try 'help')\n", cmd)
		}
	}
}

func (d *daemon) statusSummary() map[string]interface{} {
	st := d.trader.Status()
	fs := d.feed.Status()
	oddsCount, priceCount := d.engine.Counts()
	return map[string]interface{}{
		"feed": map[string]interface{}{
			"connected": fs.Connected,
			"state":     fs.State,
			"attempts":  fs.Attempts,
			"gave_up":   fs.GaveUp,
		},
		"stores": map[string]int{
			"odds":   oddsCount,
			"prices": priceCount,
		},
		"portfolio": map[string]interface{}{
			"open_positions": st.OpenPositions,
			"exposure":       st.Exposure,
			"cap":            st.PortfolioCap,
			"realized_pnl":   st.RealizedPnL,
			"trades_opened":  st.TradesOpened,
			"trades_closed":  st.TradesClosed,
		},
		"running": d.run.IsRunning(),
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
