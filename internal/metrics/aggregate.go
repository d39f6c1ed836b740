package metrics

import (
	"sort"

	"tippelaget/internal/bets"

	"github.com/shopspring/decimal"
)

// PlayerAmount is a money total for one player.
type PlayerAmount struct {
	Player string          `json:"player"`
	Amount decimal.Decimal `json:"amount"`
}

// PlayerOdds is the mean of a player's valid odds. Mean is null when the
// player has no bet with usable odds.
type PlayerOdds struct {
	Player string              `json:"player"`
	Mean   decimal.NullDecimal `json:"mean_odds"`
	Bets   int                 `json:"bets"`
}

// PlayerRate is the share of a player's gameweeks where payout covered stake.
type PlayerRate struct {
	Player   string  `json:"player"`
	Weeks    int     `json:"weeks"`
	WonWeeks int     `json:"won_weeks"`
	Rate     float64 `json:"win_rate"`
}

// LuckRatio compares actual payout with the odds-implied expected payout.
type LuckRatio struct {
	Player        string              `json:"player"`
	TotalPayout   decimal.Decimal     `json:"total_payout"`
	TotalExpected decimal.Decimal     `json:"total_expected"`
	Ratio         decimal.NullDecimal `json:"luck_ratio"`
	// ExcludedBets counts bets left out because odds were missing or not positive.
	ExcludedBets int `json:"excluded_bets,omitempty"`
}

// Defined reports whether the ratio has a non-zero denominator.
func (l LuckRatio) Defined() bool {
	return l.Ratio.Valid
}

// Value returns the ratio as a float, or *UndefinedRatioError.
func (l LuckRatio) Value() (float64, error) {
	if !l.Ratio.Valid {
		return 0, &UndefinedRatioError{Player: l.Player}
	}
	return l.Ratio.Decimal.InexactFloat64(), nil
}

// LuckRanking orders defined luck ratios from luckiest to unluckiest.
type LuckRanking struct {
	Ratios     []LuckRatio `json:"ratios"`
	Undefined  []LuckRatio `json:"undefined,omitempty"`
	Luckiest   *LuckRatio  `json:"luckiest,omitempty"`
	Unluckiest *LuckRatio  `json:"unluckiest,omitempty"`
}

// TotalPayout sums payout per player; missing payouts count as 0.
func TotalPayout(bs []bets.Bet) []PlayerAmount {
	totals := make(map[string]decimal.Decimal)
	for _, b := range bs {
		totals[b.Player] = totals[b.Player].Add(b.PayoutOrZero())
	}

	out := make([]PlayerAmount, 0, len(totals))
	for _, p := range sortedKeys(totals) {
		out = append(out, PlayerAmount{Player: p, Amount: totals[p]})
	}
	return out
}

// AverageOdds is the arithmetic mean of valid odds per player.
func AverageOdds(bs []bets.Bet) []PlayerOdds {
	type acc struct {
		sum   decimal.Decimal
		count int
	}
	byPlayer := make(map[string]*acc)
	for _, b := range bs {
		a, ok := byPlayer[b.Player]
		if !ok {
			a = &acc{}
			byPlayer[b.Player] = a
		}
		if !b.Odds.Valid {
			continue
		}
		a.sum = a.sum.Add(b.Odds.Decimal)
		a.count++
	}

	out := make([]PlayerOdds, 0, len(byPlayer))
	for _, p := range sortedKeys(byPlayer) {
		a := byPlayer[p]
		po := PlayerOdds{Player: p, Bets: a.count}
		if a.count > 0 {
			po.Mean = decimal.NewNullDecimal(a.sum.Div(decimal.NewFromInt(int64(a.count))))
		}
		out = append(out, po)
	}
	return out
}

// WinRate marks a (player, gameweek) as won when the week's summed payout is
// at least the week's summed stake, then averages per player.
func WinRate(bs []bets.Bet) []PlayerRate {
	type weekKey struct {
		player string
		gw     int
	}
	type weekTotals struct {
		payout decimal.Decimal
		stake  decimal.Decimal
	}

	weeks := make(map[weekKey]*weekTotals)
	for _, b := range bs {
		k := weekKey{b.Player, b.GameweekNum}
		w, ok := weeks[k]
		if !ok {
			w = &weekTotals{}
			weeks[k] = w
		}
		w.payout = w.payout.Add(b.PayoutOrZero())
		w.stake = w.stake.Add(b.Stake)
	}

	rates := make(map[string]*PlayerRate)
	for k, w := range weeks {
		r, ok := rates[k.player]
		if !ok {
			r = &PlayerRate{Player: k.player}
			rates[k.player] = r
		}
		r.Weeks++
		if w.payout.GreaterThanOrEqual(w.stake) {
			r.WonWeeks++
		}
	}

	out := make([]PlayerRate, 0, len(rates))
	for _, p := range sortedKeys(rates) {
		r := rates[p]
		if r.Weeks > 0 {
			r.Rate = float64(r.WonWeeks) / float64(r.Weeks)
		}
		out = append(out, *r)
	}
	return out
}

// LuckRatios computes sum(payout) / sum(stake/odds) per player, dividing per
// bet before summing. Bets without a defined expected payout are excluded from
// both sums.
func LuckRatios(bs []bets.Bet) []LuckRatio {
	byPlayer := make(map[string]*LuckRatio)
	for _, b := range bs {
		l, ok := byPlayer[b.Player]
		if !ok {
			l = &LuckRatio{Player: b.Player}
			byPlayer[b.Player] = l
		}
		if !b.ExpectedPayout.Valid {
			l.ExcludedBets++
			continue
		}
		l.TotalPayout = l.TotalPayout.Add(b.PayoutOrZero())
		l.TotalExpected = l.TotalExpected.Add(b.ExpectedPayout.Decimal)
	}

	out := make([]LuckRatio, 0, len(byPlayer))
	for _, p := range sortedKeys(byPlayer) {
		l := byPlayer[p]
		if !l.TotalExpected.IsZero() {
			l.Ratio = decimal.NewNullDecimal(l.TotalPayout.Div(l.TotalExpected))
		}
		out = append(out, *l)
	}
	return out
}

// RankLuck sorts defined ratios descending and picks the extremes.
func RankLuck(ratios []LuckRatio) LuckRanking {
	ranking := LuckRanking{Ratios: []LuckRatio{}}
	for _, l := range ratios {
		if l.Defined() {
			ranking.Ratios = append(ranking.Ratios, l)
		} else {
			ranking.Undefined = append(ranking.Undefined, l)
		}
	}

	sort.SliceStable(ranking.Ratios, func(i, j int) bool {
		c := ranking.Ratios[i].Ratio.Decimal.Cmp(ranking.Ratios[j].Ratio.Decimal)
		if c != 0 {
			return c > 0
		}
		return ranking.Ratios[i].Player < ranking.Ratios[j].Player
	})

	if n := len(ranking.Ratios); n > 0 {
		luckiest := ranking.Ratios[0]
		unluckiest := ranking.Ratios[n-1]
		ranking.Luckiest = &luckiest
		ranking.Unluckiest = &unluckiest
	}
	return ranking
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
