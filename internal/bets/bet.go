package bets

import (
	"time"

	"github.com/shopspring/decimal"
)

// Column names shared by raw records, normalized records and the assistant snippet.
const (
	ColID             = "id"
	ColPlayer         = "player"
	ColGameweek       = "gameweek"
	ColGameweekNum    = "gameweek_num"
	ColStake          = "betNok"
	ColOdds           = "odds"
	ColPayout         = "payout"
	ColWon            = "won"
	ColExpectedPayout = "expected_payout"
	ColDescription    = "description"
	ColDate           = "date"
)

// Bet is one normalized wagering event.
type Bet struct {
	ID          string              `json:"id,omitempty"`
	Player      string              `json:"player"`
	Gameweek    string              `json:"gameweek"`
	GameweekNum int                 `json:"gameweek_num"`
	Stake       decimal.Decimal     `json:"betNok"`
	Odds        decimal.NullDecimal `json:"odds"`
	Payout      decimal.NullDecimal `json:"payout"`
	Won         bool                `json:"won"`
	Description string              `json:"description,omitempty"`
	Date        time.Time           `json:"date,omitempty"`

	// ExpectedPayout is stake/odds; invalid when odds is missing or not positive.
	ExpectedPayout decimal.NullDecimal `json:"expected_payout"`
}

// PayoutOrZero returns the payout with a missing value read as 0.
func (b Bet) PayoutOrZero() decimal.Decimal {
	if b.Payout.Valid {
		return b.Payout.Decimal
	}
	return decimal.Zero
}

// HasDate reports whether the source carried a bet date.
func (b Bet) HasDate() bool {
	return !b.Date.IsZero()
}

// Record returns the normalized flat form of the bet. Feeding it back into
// Normalize yields the same Bet.
func (b Bet) Record() Record {
	r := Record{
		ColPlayer:      b.Player,
		ColGameweek:    b.Gameweek,
		ColGameweekNum: b.GameweekNum,
		ColStake:       b.Stake,
		ColWon:         b.Won,
		ColOdds:        nullable(b.Odds),
		ColPayout:      nullable(b.Payout),

		ColExpectedPayout: nullable(b.ExpectedPayout),
	}
	if b.ID != "" {
		r[ColID] = b.ID
	}
	if b.Description != "" {
		r[ColDescription] = b.Description
	}
	if b.HasDate() {
		r[ColDate] = b.Date
	}
	return r
}

// Records converts normalized bets back to records.
func Records(bets []Bet) []Record {
	out := make([]Record, len(bets))
	for i, b := range bets {
		out[i] = b.Record()
	}
	return out
}

// Players returns the distinct players in first-seen order.
func Players(bets []Bet) []string {
	seen := make(map[string]struct{})
	var players []string
	for _, b := range bets {
		if _, ok := seen[b.Player]; ok {
			continue
		}
		seen[b.Player] = struct{}{}
		players = append(players, b.Player)
	}
	return players
}

// LatestGameweek returns the highest gameweek number, or false for no bets.
func LatestGameweek(bets []Bet) (int, bool) {
	if len(bets) == 0 {
		return 0, false
	}
	latest := bets[0].GameweekNum
	for _, b := range bets[1:] {
		if b.GameweekNum > latest {
			latest = b.GameweekNum
		}
	}
	return latest, true
}

func nullable(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal
}
