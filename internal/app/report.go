package app

import (
	"tippelaget/clients/notifier"
	"tippelaget/internal/metrics"

	"github.com/shopspring/decimal"
)

// BuildReport summarizes snap for the chat channels.
func BuildReport(snap metrics.Snapshot, dashboardURL string) notifier.Report {
	r := notifier.Report{
		Gameweek:     snap.LatestGameweek,
		BetCount:     snap.BetCount,
		DashboardURL: dashboardURL,
		Timestamp:    snap.GeneratedAt,
	}

	if d := snap.TeamTotal.Difference; d != nil {
		r.TeamPayout = d.CumulativePayout
		r.TeamStake = d.CumulativeStake
		r.TeamDiff = d.Diff
	}

	var top *notifier.PlayerFigure
	for _, p := range snap.TotalPayout {
		if top == nil || p.Amount.GreaterThan(top.Value) {
			top = &notifier.PlayerFigure{Player: p.Player, Value: p.Amount}
		}
	}
	r.TopEarner = top

	if l := snap.Luck.Luckiest; l != nil {
		r.Luckiest = &notifier.PlayerFigure{Player: l.Player, Value: l.Ratio.Decimal}
	}
	if l := snap.Luck.Unluckiest; l != nil {
		r.Unluckiest = &notifier.PlayerFigure{Player: l.Player, Value: l.Ratio.Decimal}
	}

	switch weeks := snap.Tippekassa.Weeks; {
	case snap.TippekassaError != "":
		r.FundNote = snap.TippekassaError
	case len(weeks) > 0:
		last := weeks[len(weeks)-1]
		r.FundPayout = decimal.NewNullDecimal(last.CumulativePayoutPlusDeposit)
		r.FundStake = decimal.NewNullDecimal(last.CumulativeStakePlusDeposit)
	}
	return r
}
