package notifier

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlayerFigure is one named player with the number that put them in the report.
type PlayerFigure struct {
	Player string
	Value  decimal.Decimal
}

// Report is the end-of-gameweek summary pushed to chat channels.
type Report struct {
	Gameweek int
	BetCount int

	// Team standing after Gameweek
	TeamPayout decimal.Decimal
	TeamStake  decimal.Decimal
	TeamDiff   decimal.Decimal

	// Luck ratios; nil when no player has a defined ratio
	Luckiest   *PlayerFigure
	Unluckiest *PlayerFigure

	// Highest season payout; nil for an empty season
	TopEarner *PlayerFigure

	// Fund position after deposits. FundNote carries the reason when the
	// fund could not be simulated.
	FundPayout decimal.NullDecimal
	FundStake  decimal.NullDecimal
	FundNote   string

	DashboardURL string
	Timestamp    time.Time
}

// Notifier is the interface for sending reports to various channels.
type Notifier interface {
	// SendReport delivers a report; delivery failures are logged, not returned.
	SendReport(report Report)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts reports to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier, dropping nil entries.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

func (m *MultiNotifier) SendReport(report Report) {
	for _, n := range m.notifiers {
		n.SendReport(report)
	}
}

// Close closes all registered notifiers and returns the last error.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}

// FormatNOK renders an amount as whole kroner with a sign for negatives.
func FormatNOK(d decimal.Decimal) string {
	return d.StringFixed(0) + " NOK"
}

// FormatSignedNOK renders an amount with an explicit + for gains.
func FormatSignedNOK(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + FormatNOK(d)
	}
	return FormatNOK(d)
}
