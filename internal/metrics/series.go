package metrics

import (
	"sort"
	"time"

	"tippelaget/internal/bets"

	"github.com/shopspring/decimal"
)

// PlayerPoint is one bet on a player's running payout curve.
type PlayerPoint struct {
	Player      string          `json:"player"`
	GameweekNum int             `json:"gameweek_num"`
	Date        time.Time       `json:"date,omitempty"`
	Payout      decimal.Decimal `json:"payout"`
	Cumulative  decimal.Decimal `json:"cumulative_payout"`
}

// PlayerWeek is a player's weekly totals with the running payout.
type PlayerWeek struct {
	Player           string          `json:"player"`
	GameweekNum      int             `json:"gameweek_num"`
	Payout           decimal.Decimal `json:"payout"`
	Stake            decimal.Decimal `json:"betNok"`
	CumulativePayout decimal.Decimal `json:"cumulative_payout"`
}

// TeamWeek is the whole team's weekly totals with running sums.
type TeamWeek struct {
	GameweekNum      int             `json:"gameweek_num"`
	Payout           decimal.Decimal `json:"payout"`
	Stake            decimal.Decimal `json:"betNok"`
	CumulativePayout decimal.Decimal `json:"cumulative_payout"`
	CumulativeStake  decimal.Decimal `json:"cumulative_stake"`
}

// TeamDiff is the team's standing at one gameweek.
type TeamDiff struct {
	GameweekNum      int             `json:"gameweek_num"`
	CumulativePayout decimal.Decimal `json:"cumulative_payout"`
	CumulativeStake  decimal.Decimal `json:"cumulative_stake"`
	Diff             decimal.Decimal `json:"diff"`
}

// PlayerCumulativePayout orders bets by (player, gameweek, date) and keeps a
// running payout per player. Undated bets sort last within their gameweek.
func PlayerCumulativePayout(bs []bets.Bet) []PlayerPoint {
	sorted := make([]bets.Bet, len(bs))
	copy(sorted, bs)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Player != b.Player {
			return a.Player < b.Player
		}
		if a.GameweekNum != b.GameweekNum {
			return a.GameweekNum < b.GameweekNum
		}
		if a.HasDate() != b.HasDate() {
			return a.HasDate()
		}
		return a.Date.Before(b.Date)
	})

	out := make([]PlayerPoint, 0, len(sorted))
	running := make(map[string]decimal.Decimal)
	for _, b := range sorted {
		payout := b.PayoutOrZero()
		running[b.Player] = running[b.Player].Add(payout)
		out = append(out, PlayerPoint{
			Player:      b.Player,
			GameweekNum: b.GameweekNum,
			Date:        b.Date,
			Payout:      payout,
			Cumulative:  running[b.Player],
		})
	}
	return out
}

// PlayerWeeklyCumulative groups by (player, gameweek) and keeps a running
// payout per player across gameweeks.
func PlayerWeeklyCumulative(bs []bets.Bet) []PlayerWeek {
	type key struct {
		player string
		gw     int
	}
	totals := make(map[key]*PlayerWeek)
	var keys []key
	for _, b := range bs {
		k := key{b.Player, b.GameweekNum}
		w, ok := totals[k]
		if !ok {
			w = &PlayerWeek{Player: b.Player, GameweekNum: b.GameweekNum}
			totals[k] = w
			keys = append(keys, k)
		}
		w.Payout = w.Payout.Add(b.PayoutOrZero())
		w.Stake = w.Stake.Add(b.Stake)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].player != keys[j].player {
			return keys[i].player < keys[j].player
		}
		return keys[i].gw < keys[j].gw
	})

	out := make([]PlayerWeek, 0, len(keys))
	running := make(map[string]decimal.Decimal)
	for _, k := range keys {
		w := totals[k]
		running[k.player] = running[k.player].Add(w.Payout)
		w.CumulativePayout = running[k.player]
		out = append(out, *w)
	}
	return out
}

// TeamCumulative sums payout and stake per gameweek across all players and
// keeps running sums in gameweek order.
func TeamCumulative(bs []bets.Bet) []TeamWeek {
	byWeek := make(map[int]*TeamWeek)
	for _, b := range bs {
		w, ok := byWeek[b.GameweekNum]
		if !ok {
			w = &TeamWeek{GameweekNum: b.GameweekNum}
			byWeek[b.GameweekNum] = w
		}
		w.Payout = w.Payout.Add(b.PayoutOrZero())
		w.Stake = w.Stake.Add(b.Stake)
	}

	gws := make([]int, 0, len(byWeek))
	for gw := range byWeek {
		gws = append(gws, gw)
	}
	sort.Ints(gws)

	out := make([]TeamWeek, 0, len(gws))
	var payout, stake decimal.Decimal
	for _, gw := range gws {
		w := byWeek[gw]
		payout = payout.Add(w.Payout)
		stake = stake.Add(w.Stake)
		w.CumulativePayout = payout
		w.CumulativeStake = stake
		out = append(out, *w)
	}
	return out
}

// TeamDifference returns the standing at the latest gameweek, or false when
// there are no weeks.
func TeamDifference(weeks []TeamWeek) (TeamDiff, bool) {
	if len(weeks) == 0 {
		return TeamDiff{}, false
	}
	last := weeks[len(weeks)-1]
	return TeamDiff{
		GameweekNum:      last.GameweekNum,
		CumulativePayout: last.CumulativePayout,
		CumulativeStake:  last.CumulativeStake,
		Diff:             last.CumulativePayout.Sub(last.CumulativeStake),
	}, true
}
