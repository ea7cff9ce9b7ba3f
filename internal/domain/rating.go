package domain

import (
	"math"
	"time"
)

// Rating defaults.
const (
	DefaultKFactor   = 32
	DefaultRating    = 1200
	RatingFloor      = 100
	RecentFormLength = 10
	OutcomeWin       = 1.0
	OutcomeDraw      = 0.5
	OutcomeLoss      = 0.0
)

// RatingConfig holds the Elo parameters.
type RatingConfig struct {
	KFactor    int
	Initial    int
	Floor      int
	FormLength int
}

// DefaultRatingConfig returns the production Elo parameters.
func DefaultRatingConfig() RatingConfig {
	return RatingConfig{
		KFactor:    DefaultKFactor,
		Initial:    DefaultRating,
		Floor:      RatingFloor,
		FormLength: RecentFormLength,
	}
}

// ExpectedScore is the Elo win expectancy of player against opponent.
func ExpectedScore(player, opponent int) float64 {
	return 1 / (1 + math.Pow(10, float64(opponent-player)/400))
}

// RatingDelta is round(k * (actual - expected)).
func RatingDelta(player, opponent int, actual float64, k int) int {
	return int(math.Round(float64(k) * (actual - ExpectedScore(player, opponent))))
}

// ApplyDelta adds delta to rating, never going below floor.
func ApplyDelta(rating, delta, floor int) int {
	if next := rating + delta; next > floor {
		return next
	}
	return floor
}

// OutcomeKind is the result of a session from one player's point of view.
type OutcomeKind string

const (
	OutcomeKindWin  OutcomeKind = "win"
	OutcomeKindLoss OutcomeKind = "loss"
	OutcomeKindDraw OutcomeKind = "draw"
)

// Actual is the Elo actual score for the outcome.
func (k OutcomeKind) Actual() float64 {
	switch k {
	case OutcomeKindWin:
		return OutcomeWin
	case OutcomeKindDraw:
		return OutcomeDraw
	default:
		return OutcomeLoss
	}
}

// FormEntry is one item of a player's recent form.
type FormEntry struct {
	SessionID  string      `json:"sessionId"`
	OpponentID string      `json:"opponentId"`
	Kind       OutcomeKind `json:"kind"`
	Change     int         `json:"change"`
	At         time.Time   `json:"at"`
}

// Outcome is one player's side of a finished session, folded into their rating.
type Outcome struct {
	UserID      string
	SessionID   string
	OpponentID  string
	Kind        OutcomeKind
	RatingAfter int
	Change      int
	At          time.Time
}

// Rating is a user's persistent per-mode skill record.
type Rating struct {
	UserID     string      `json:"userId"`
	Mode       Mode        `json:"mode"`
	Rating     int         `json:"rating"`
	Played     int         `json:"played"`
	Won        int         `json:"won"`
	Lost       int         `json:"lost"`
	Tied       int         `json:"tied"`
	RecentForm []FormEntry `json:"recentForm"`
}

// NewRating returns the record of a user that never played mode.
func NewRating(userID string, mode Mode, initial int) Rating {
	return Rating{UserID: userID, Mode: mode, Rating: initial}
}

// Apply folds an outcome into the record, keeping at most formLength recent entries.
func (r Rating) Apply(o Outcome, formLength int) Rating {
	r.Rating = o.RatingAfter
	r.Played++
	switch o.Kind {
	case OutcomeKindWin:
		r.Won++
	case OutcomeKindLoss:
		r.Lost++
	case OutcomeKindDraw:
		r.Tied++
	}
	form := append(append([]FormEntry(nil), r.RecentForm...), FormEntry{
		SessionID:  o.SessionID,
		OpponentID: o.OpponentID,
		Kind:       o.Kind,
		Change:     o.Change,
		At:         o.At,
	})
	if formLength > 0 && len(form) > formLength {
		form = form[len(form)-formLength:]
	}
	r.RecentForm = form
	return r
}
