// Package engine reconciles sportsbook odds with market prices and surfaces
// value opportunities where the book-implied probability exceeds the price.
package engine

import (
	"errors"
	"sort"
	"time"

	"github.com/phenomenon0/oddsedge/pkg/feed"
	"github.com/phenomenon0/oddsedge/pkg/odds"
)

// ErrInvalidPrice is returned when a market price is outside (0, 1).
var ErrInvalidPrice = errors.New("price must be in (0, 1)")

// Confidence buckets an opportunity by edge size.
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	default:
		return "low"
	}
}

// OddsLine is one priced outcome within an event's odds.
type OddsLine struct {
	Team       string
	MarketType string
	American   int
}

// OddsSnapshot is the latest book state for one event.
type OddsSnapshot struct {
	Key       feed.EventKey
	Sport     string
	HomeTeam  string
	AwayTeam  string
	StartTime time.Time
	Lines     []OddsLine
	UpdatedAt time.Time
}

// SnapshotFromGame converts a feed game into an odds snapshot. Outcomes whose
// odds do not parse as American odds are skipped rather than failing the
// whole snapshot. Lines are ordered by outcome name so repeated conversions
// of the same game are identical.
func SnapshotFromGame(g *feed.Game) OddsSnapshot {
	snap := OddsSnapshot{
		Key:       feed.DeriveKey(g),
		Sport:     g.Sport,
		HomeTeam:  g.HomeTeam,
		AwayTeam:  g.AwayTeam,
		StartTime: g.StartTime,
	}
	names := make([]string, 0, len(g.Outcomes))
	for name := range g.Outcomes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out := g.Outcomes[name]
		american, err := odds.ParseAmerican(out.Odds)
		if err != nil {
			continue
		}
		snap.Lines = append(snap.Lines, OddsLine{
			Team:       out.Team,
			MarketType: out.MarketType,
			American:   american,
		})
	}
	return snap
}

// PriceSnapshot is the latest traded price for one instrument. Price is the
// cost of a contract paying 1 on the outcome, so it lives in (0, 1).
type PriceSnapshot struct {
	InstrumentID string
	Price        float64
	UpdatedAt    time.Time
}

// Opportunity is a detected divergence between book odds and a market price.
type Opportunity struct {
	Key          feed.EventKey
	InstrumentID string
	Team         string
	MarketType   string
	American     int
	ImpliedProb  float64
	Price        float64
	Edge         float64
	Confidence   Confidence
	DetectedAt   time.Time
}

// Correlator decides whether an odds line and a priced instrument refer to
// the same underlying market. The zero-value engine pairs every line with
// every instrument, which overreports; production deployments plug in a
// mapping-backed implementation.
type Correlator interface {
	Matches(snap *OddsSnapshot, line OddsLine, price *PriceSnapshot) bool
}

// PairAll is the default Correlator: it accepts every pairing.
type PairAll struct{}

func (PairAll) Matches(*OddsSnapshot, OddsLine, *PriceSnapshot) bool { return true }
