// Package metrics provides Prometheus metrics for the trading system.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// TradingMetrics collects and exposes trading-related Prometheus metrics.
type TradingMetrics struct {
	registry *prometheus.Registry

	// Feed metrics
	FeedEventsTotal *prometheus.CounterVec
	FeedErrorsTotal *prometheus.CounterVec
	FeedConnected   *prometheus.GaugeVec
	FeedReconnects  *prometheus.GaugeVec

	// Engine metrics
	OpportunitiesTotal *prometheus.CounterVec
	OpportunityEdge    *prometheus.HistogramVec
	StoredOdds         *prometheus.GaugeVec
	StoredPrices       *prometheus.GaugeVec
	EvictionsTotal     *prometheus.CounterVec

	// Position metrics
	OpenPositions *prometheus.GaugeVec
	TotalExposure *prometheus.GaugeVec
	RealizedPnL   *prometheus.GaugeVec
	TradesTotal   *prometheus.CounterVec
	PolicySkips   *prometheus.CounterVec

	// Loop metrics
	EvaluationDuration *prometheus.HistogramVec
}

// NewTradingMetrics creates a new trading metrics collector.
func NewTradingMetrics() *TradingMetrics {
	registry := prometheus.NewRegistry()

	tm := &TradingMetrics{
		registry: registry,

		FeedEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oddsedge_feed_events_total",
				Help: "Total number of feed events processed",
			},
			[]string{"kind"},
		),
		FeedErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oddsedge_feed_errors_total",
				Help: "Total number of feed and connection errors",
			},
			[]string{},
		),
		FeedConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oddsedge_feed_connected",
				Help: "Whether the feed is connected (1=yes, 0=no)",
			},
			[]string{},
		),
		FeedReconnects: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oddsedge_feed_reconnect_attempts",
				Help: "Reconnect attempts since the last successful connect",
			},
			[]string{},
		),

		OpportunitiesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oddsedge_opportunities_total",
				Help: "Total number of opportunities detected",
			},
			[]string{"confidence"},
		),
		OpportunityEdge: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oddsedge_opportunity_edge",
				Help:    "Detected opportunity edge",
				Buckets: []float64{0.05, 0.075, 0.10, 0.125, 0.15, 0.20, 0.30, 0.50},
			},
			[]string{},
		),
		StoredOdds: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oddsedge_stored_odds",
				Help: "Number of events with stored odds",
			},
			[]string{},
		),
		StoredPrices: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oddsedge_stored_prices",
				Help: "Number of instruments with stored prices",
			},
			[]string{},
		),
		EvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oddsedge_evictions_total",
				Help: "Total stale entries evicted from the stores",
			},
			[]string{"store"},
		),

		OpenPositions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oddsedge_open_positions",
				Help: "Current number of open positions",
			},
			[]string{},
		),
		TotalExposure: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oddsedge_total_exposure_usd",
				Help: "Total open notional in USD",
			},
			[]string{},
		),
		RealizedPnL: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oddsedge_realized_pnl_usd",
				Help: "Cumulative realized P&L in USD",
			},
			[]string{},
		),
		TradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oddsedge_trades_total",
				Help: "Total trades executed",
			},
			[]string{"action"},
		),
		PolicySkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oddsedge_policy_skips_total",
				Help: "Opportunities refused by trading policy",
			},
			[]string{"reason"},
		),

		EvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oddsedge_evaluation_duration_seconds",
				Help:    "Duration of one opportunity evaluation pass",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{},
		),
	}

	tm.registerAll()
	return tm
}

func (tm *TradingMetrics) registerAll() {
	tm.registry.MustRegister(
		tm.FeedEventsTotal,
		tm.FeedErrorsTotal,
		tm.FeedConnected,
		tm.FeedReconnects,
		tm.OpportunitiesTotal,
		tm.OpportunityEdge,
		tm.StoredOdds,
		tm.StoredPrices,
		tm.EvictionsTotal,
		tm.OpenPositions,
		tm.TotalExposure,
		tm.RealizedPnL,
		tm.TradesTotal,
		tm.PolicySkips,
		tm.EvaluationDuration,
	)
}

// Registry returns the prometheus registry.
func (tm *TradingMetrics) Registry() *prometheus.Registry {
	return tm.registry
}

// --- Helper methods for recording metrics ---

// RecordFeedEvent records one processed feed event.
func (tm *TradingMetrics) RecordFeedEvent(kind string) {
	tm.FeedEventsTotal.WithLabelValues(kind).Inc()
}

// RecordFeedError records a feed or connection error.
func (tm *TradingMetrics) RecordFeedError() {
	tm.FeedErrorsTotal.WithLabelValues().Inc()
}

// UpdateFeed updates the connection gauges.
func (tm *TradingMetrics) UpdateFeed(connected bool, attempts int) {
	if connected {
		tm.FeedConnected.WithLabelValues().Set(1)
	} else {
		tm.FeedConnected.WithLabelValues().Set(0)
	}
	tm.FeedReconnects.WithLabelValues().Set(float64(attempts))
}

// RecordOpportunity records a detected opportunity.
func (tm *TradingMetrics) RecordOpportunity(confidence string, edge float64) {
	tm.OpportunitiesTotal.WithLabelValues(confidence).Inc()
	tm.OpportunityEdge.WithLabelValues().Observe(edge)
}

// UpdateStores updates the store-size gauges.
func (tm *TradingMetrics) UpdateStores(oddsCount, priceCount int) {
	tm.StoredOdds.WithLabelValues().Set(float64(oddsCount))
	tm.StoredPrices.WithLabelValues().Set(float64(priceCount))
}

// RecordEvictions records a cleanup pass.
func (tm *TradingMetrics) RecordEvictions(oddsRemoved, pricesRemoved int) {
	tm.EvictionsTotal.WithLabelValues("odds").Add(float64(oddsRemoved))
	tm.EvictionsTotal.WithLabelValues("prices").Add(float64(pricesRemoved))
}

// RecordTrade records an executed trade.
func (tm *TradingMetrics) RecordTrade(action string) {
	tm.TradesTotal.WithLabelValues(action).Inc()
}

// RecordPolicySkip records a refused opportunity.
func (tm *TradingMetrics) RecordPolicySkip(reason string) {
	tm.PolicySkips.WithLabelValues(reason).Inc()
}

// UpdatePortfolio updates the portfolio gauges.
func (tm *TradingMetrics) UpdatePortfolio(openPositions int, exposure, realizedPnL decimal.Decimal) {
	tm.OpenPositions.WithLabelValues().Set(float64(openPositions))
	tm.TotalExposure.WithLabelValues().Set(DecimalToFloat64(exposure))
	tm.RealizedPnL.WithLabelValues().Set(DecimalToFloat64(realizedPnL))
}

// RecordEvaluation records the duration of an evaluation pass.
func (tm *TradingMetrics) RecordEvaluation(durationSec float64) {
	tm.EvaluationDuration.WithLabelValues().Observe(durationSec)
}

// DecimalToFloat64 safely converts decimal.Decimal to float64 for metrics.
func DecimalToFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Global instance for convenience
var defaultMetrics *TradingMetrics
var once sync.Once

// Default returns the default global metrics instance.
func Default() *TradingMetrics {
	once.Do(func() {
		defaultMetrics = NewTradingMetrics()
	})
	return defaultMetrics
}
