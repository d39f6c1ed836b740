package metrics

import (
	"fmt"
	"sort"
	"time"

	"tippelaget/internal/bets"
)

// Table names, one per dashboard tab.
const (
	TableTotalPayout          = "total-payout"
	TableAverageOdds          = "average-odds"
	TableCumulativePayout     = "cumulative-payout"
	TableWinRate              = "win-rate"
	TableCumulativeVsBaseline = "cumulative-vs-baseline"
	TableTeamTotal            = "team-total"
	TableLuck                 = "luck"
	TableTippekassa           = "tippekassa"
)

// TableNames lists every table in dashboard order.
var TableNames = []string{
	TableTotalPayout,
	TableAverageOdds,
	TableCumulativePayout,
	TableWinRate,
	TableCumulativeVsBaseline,
	TableTeamTotal,
	TableLuck,
	TableTippekassa,
}

// BaselineComparison pairs each player's weekly running payout with the
// equal-share and team-stake curves.
type BaselineComparison struct {
	Players    []PlayerWeek    `json:"players"`
	EqualShare []BaselinePoint `json:"equal_share"`
	TeamStake  []BaselinePoint `json:"team_stake"`
}

type TeamTotal struct {
	Weeks      []TeamWeek `json:"weeks"`
	Difference *TeamDiff  `json:"difference,omitempty"`
}

// Snapshot holds every table computed from one set of bets.
type Snapshot struct {
	GeneratedAt    time.Time `json:"generated_at"`
	BetCount       int       `json:"bet_count"`
	Players        []string  `json:"players"`
	LatestGameweek int       `json:"latest_gameweek"`

	TotalPayout          []PlayerAmount     `json:"total_payout"`
	AverageOdds          []PlayerOdds       `json:"average_odds"`
	CumulativePayout     []PlayerPoint      `json:"cumulative_payout"`
	WinRate              []PlayerRate       `json:"win_rate"`
	CumulativeVsBaseline BaselineComparison `json:"cumulative_vs_baseline"`
	TeamTotal            TeamTotal          `json:"team_total"`
	Luck                 LuckRanking        `json:"luck"`
	Tippekassa           FundSeries         `json:"tippekassa"`

	// TippekassaError is set instead of failing the whole snapshot.
	TippekassaError string `json:"tippekassa_error,omitempty"`
}

type Options struct {
	Tippekassa TippekassaOptions
	Now        func() time.Time

	// DepositsErr reports that the deposit list could not be read. The fund
	// table is then replaced by the error.
	DepositsErr error
}

// Compute builds every table. A Tippekassa failure is carried inline so the
// other tables stay available.
func Compute(bs []bets.Bet, deposits []Deposit, opts Options) Snapshot {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	players := bets.Players(bs)
	if players == nil {
		players = []string{}
	}
	sort.Strings(players)

	snap := Snapshot{
		GeneratedAt:      now(),
		BetCount:         len(bs),
		Players:          players,
		TotalPayout:      TotalPayout(bs),
		AverageOdds:      AverageOdds(bs),
		CumulativePayout: PlayerCumulativePayout(bs),
		WinRate:          WinRate(bs),
		CumulativeVsBaseline: BaselineComparison{
			Players:    PlayerWeeklyCumulative(bs),
			EqualShare: EqualShareBaseline(bs),
			TeamStake:  TeamStakeBaseline(bs),
		},
		Luck: RankLuck(LuckRatios(bs)),
	}
	if latest, ok := bets.LatestGameweek(bs); ok {
		snap.LatestGameweek = latest
	}

	snap.TeamTotal.Weeks = TeamCumulative(bs)
	if diff, ok := TeamDifference(snap.TeamTotal.Weeks); ok {
		snap.TeamTotal.Difference = &diff
	}

	fund, err := Tippekassa(bs, deposits, opts.Tippekassa)
	if opts.DepositsErr != nil {
		err = fmt.Errorf("deposits unavailable: %w", opts.DepositsErr)
	}
	if err != nil {
		snap.TippekassaError = err.Error()
		snap.Tippekassa = FundSeries{Weeks: []FundWeek{}}
	} else {
		snap.Tippekassa = fund
	}
	return snap
}

// Table returns one named table, or false for an unknown name.
func (s Snapshot) Table(name string) (any, bool) {
	switch name {
	case TableTotalPayout:
		return s.TotalPayout, true
	case TableAverageOdds:
		return s.AverageOdds, true
	case TableCumulativePayout:
		return s.CumulativePayout, true
	case TableWinRate:
		return s.WinRate, true
	case TableCumulativeVsBaseline:
		return s.CumulativeVsBaseline, true
	case TableTeamTotal:
		return s.TeamTotal, true
	case TableLuck:
		return s.Luck, true
	case TableTippekassa:
		if s.TippekassaError != "" {
			return map[string]string{"error": s.TippekassaError}, true
		}
		return s.Tippekassa, true
	default:
		return nil, false
	}
}
