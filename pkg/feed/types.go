// Package feed implements the client side of the odds-feed streaming
// protocol: a persistent connection that converts raw frames into typed
// game events and fans them out to subscribed handlers.
package feed

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Feed actions as they appear on the wire.
const (
	ActionSocketConnected     = "socket_connected"
	ActionInitialState        = "initial_state"
	ActionGameUpdate          = "game_update"
	ActionGameAdded           = "game_added"
	ActionGameRemoved         = "game_removed"
	ActionLineUpdate          = "line_update"
	ActionBookClear           = "book_clear"
	ActionPing                = "ping"
	ActionError               = "error"
	ActionSubscriptionUpdated = "subscription_updated"
)

// Envelope is the wire format of every feed message.
type Envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Filters narrows the subscription. An empty list places no filter on that
// dimension.
type Filters struct {
	Sports      []string `json:"sports"`
	Sportsbooks []string `json:"sportsbooks"`
	Games       []string `json:"games"`
	Markets     []string `json:"markets"`
}

// subscribeRequest is sent after every successful connect.
type subscribeRequest struct {
	Action  string  `json:"action"`
	Filters Filters `json:"filters"`
}

// Outcome is a single priced outcome within a game.
type Outcome struct {
	Team       string `json:"team"`
	Odds       string `json:"odds"` // raw American odds, e.g. "+150"
	MarketType string `json:"market_type"`
	Link       string `json:"link,omitempty"`
}

// Game is the feed's representation of a live sporting event.
type Game struct {
	Sport     string             `json:"sport"`
	HomeTeam  string             `json:"home_team"`
	AwayTeam  string             `json:"away_team"`
	StartTime time.Time          `json:"start_time"`
	Outcomes  map[string]Outcome `json:"outcomes"`
}

// initialStateData is the payload of an initial_state frame.
type initialStateData struct {
	Games []Game `json:"games"`
}

// errorData is the payload of an error frame.
type errorData struct {
	Message string `json:"message"`
}

// EventKind tags a GameEvent variant.
type EventKind int

const (
	KindInitialState EventKind = iota
	KindUpdate
	KindAdded
	KindRemoved
	KindLineUpdate
	KindError
)

func (k EventKind) String() string {
	switch k {
	case KindInitialState:
		return "initial_state"
	case KindUpdate:
		return "update"
	case KindAdded:
		return "added"
	case KindRemoved:
		return "removed"
	case KindLineUpdate:
		return "line_update"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// EventKey is the derived identity of a game: sport, normalized matchup, and
// the scheduled start acting as a discriminator. Two games map to the same
// key only when all four parts are identical.
type EventKey string

// GameEvent is a typed domain event produced by the Manager. It is immutable
// once emitted.
type GameEvent struct {
	Kind       EventKind
	Key        EventKey
	Game       *Game  // nil for KindError
	Message    string // set for KindError
	ReceivedAt time.Time
}

// DeriveKey computes the identity of a game.
func DeriveKey(g *Game) EventKey {
	parts := []string{
		strings.ToLower(strings.TrimSpace(g.Sport)),
		NormalizeTeam(g.HomeTeam),
		NormalizeTeam(g.AwayTeam),
		g.StartTime.UTC().Format("2006-01-02T15:04"),
	}
	return EventKey(strings.Join(parts, "|"))
}

// NormalizeTeam lowercases a team name, strips diacritics, and collapses
// whitespace so feed-side spelling variants derive the same identity.
func NormalizeTeam(name string) string {
	name = strings.ToLower(name)

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	name, _, _ = transform.String(t, name)

	return strings.Join(strings.Fields(name), " ")
}
