package metrics

import (
	"sort"
	"time"

	"tippelaget/internal/bets"

	"github.com/shopspring/decimal"
)

// BaselinePoint is one gameweek on a comparison curve.
type BaselinePoint struct {
	GameweekNum int             `json:"gameweek_num"`
	Value       decimal.Decimal `json:"value"`
}

// Deposit is one scheduled contribution into the team fund.
type Deposit struct {
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

// FundWeek is one gameweek of the fund simulation.
type FundWeek struct {
	GameweekNum int             `json:"gameweek_num"`
	Payout      decimal.Decimal `json:"payout"`
	Stake       decimal.Decimal `json:"betNok"`
	Deposit     decimal.Decimal `json:"deposit"`

	// Running sums of payout+deposit and stake+deposit.
	CumulativePayoutPlusDeposit decimal.Decimal `json:"cumulative_payout_plus_deposit"`
	CumulativeStakePlusDeposit  decimal.Decimal `json:"cumulative_stake_plus_deposit"`
}

// FundSeries is the result of Tippekassa.
type FundSeries struct {
	Weeks []FundWeek `json:"weeks"`
	// Unmapped holds deposits skipped under TippekassaOptions.SkipUnmappable.
	Unmapped []Deposit `json:"unmapped,omitempty"`
}

type TippekassaOptions struct {
	SkipUnmappable bool
}

// EqualShareBaseline is the team's running stake divided by the number of
// distinct players.
func EqualShareBaseline(bs []bets.Bet) []BaselinePoint {
	players := len(bets.Players(bs))
	if players == 0 {
		return []BaselinePoint{}
	}
	n := decimal.NewFromInt(int64(players))

	weeks := TeamCumulative(bs)
	out := make([]BaselinePoint, len(weeks))
	for i, w := range weeks {
		out[i] = BaselinePoint{GameweekNum: w.GameweekNum, Value: w.CumulativeStake.Div(n)}
	}
	return out
}

// TeamStakeBaseline is the team's running stake per gameweek.
func TeamStakeBaseline(bs []bets.Bet) []BaselinePoint {
	weeks := TeamCumulative(bs)
	out := make([]BaselinePoint, len(weeks))
	for i, w := range weeks {
		out[i] = BaselinePoint{GameweekNum: w.GameweekNum, Value: w.CumulativeStake}
	}
	return out
}

// MonthlyDeposits places one deposit per calendar month: for every month start
// m with start <= m <= end, a deposit of amount dated m plus offsetDays.
func MonthlyDeposits(start, end time.Time, offsetDays int, amount decimal.Decimal) []Deposit {
	m := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
	if m.Before(start) {
		m = m.AddDate(0, 1, 0)
	}

	var out []Deposit
	for !m.After(end) {
		out = append(out, Deposit{Date: m.AddDate(0, 0, offsetDays), Amount: amount})
		m = m.AddDate(0, 1, 0)
	}
	return out
}

// Tippekassa simulates a shared fund. Each deposit lands in the latest
// gameweek whose earliest bet date is on or before the deposit date. Weekly
// deposit totals are added to team payout and stake before the running sums.
//
// A deposit dated before every gameweek fails with *UnmappableDepositError
// unless opts.SkipUnmappable is set, in which case it is reported in Unmapped.
func Tippekassa(bs []bets.Bet, deposits []Deposit, opts TippekassaOptions) (FundSeries, error) {
	weeks := TeamCumulative(bs)
	if len(weeks) == 0 {
		return FundSeries{Weeks: []FundWeek{}}, nil
	}

	starts := gameweekStarts(bs)

	perWeek := make(map[int]decimal.Decimal)
	var unmapped []Deposit
	for _, d := range deposits {
		gw, ok := mapDeposit(starts, d.Date)
		if !ok {
			unmapped = append(unmapped, d)
			continue
		}
		perWeek[gw] = perWeek[gw].Add(d.Amount)
	}

	if len(unmapped) > 0 && !opts.SkipUnmappable {
		err := &UnmappableDepositError{}
		for _, d := range unmapped {
			err.Dates = append(err.Dates, d.Date)
		}
		if len(starts) > 0 {
			err.FirstGameweekDate = starts[0].date
		}
		return FundSeries{}, err
	}

	series := FundSeries{Weeks: make([]FundWeek, 0, len(weeks)), Unmapped: unmapped}
	var payout, stake decimal.Decimal
	for _, w := range weeks {
		dep := perWeek[w.GameweekNum]
		payout = payout.Add(w.Payout).Add(dep)
		stake = stake.Add(w.Stake).Add(dep)
		series.Weeks = append(series.Weeks, FundWeek{
			GameweekNum:                 w.GameweekNum,
			Payout:                      w.Payout,
			Stake:                       w.Stake,
			Deposit:                     dep,
			CumulativePayoutPlusDeposit: payout,
			CumulativeStakePlusDeposit:  stake,
		})
	}
	return series, nil
}

type gameweekStart struct {
	gw   int
	date time.Time
}

// gameweekStarts returns the earliest bet date per gameweek, ordered by date.
// Gameweeks without any dated bet are omitted.
func gameweekStarts(bs []bets.Bet) []gameweekStart {
	earliest := make(map[int]time.Time)
	for _, b := range bs {
		if !b.HasDate() {
			continue
		}
		if cur, ok := earliest[b.GameweekNum]; !ok || b.Date.Before(cur) {
			earliest[b.GameweekNum] = b.Date
		}
	}

	out := make([]gameweekStart, 0, len(earliest))
	for gw, d := range earliest {
		out = append(out, gameweekStart{gw: gw, date: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].date.Equal(out[j].date) {
			return out[i].date.Before(out[j].date)
		}
		return out[i].gw < out[j].gw
	})
	return out
}

// mapDeposit picks the highest gameweek number whose start is not after date.
func mapDeposit(starts []gameweekStart, date time.Time) (int, bool) {
	best, found := 0, false
	for _, s := range starts {
		if s.date.After(date) {
			continue
		}
		if !found || s.gw > best {
			best, found = s.gw, true
		}
	}
	return best, found
}
