package metrics

import (
	"fmt"
	"strings"
	"time"
)

// UndefinedRatioError is returned for a luck ratio whose expected payout sums to zero.
type UndefinedRatioError struct {
	Player string
}

func (e *UndefinedRatioError) Error() string {
	return fmt.Sprintf("luck ratio for %s is undefined: total expected payout is 0", e.Player)
}

// UnmappableDepositError lists deposits dated before every known gameweek.
type UnmappableDepositError struct {
	Dates []time.Time
	// FirstGameweekDate is the earliest gameweek start; zero when no bet carries a date.
	FirstGameweekDate time.Time
}

func (e *UnmappableDepositError) Error() string {
	dates := make([]string, len(e.Dates))
	for i, d := range e.Dates {
		dates[i] = d.Format(time.DateOnly)
	}
	if e.FirstGameweekDate.IsZero() {
		return fmt.Sprintf("%d deposit(s) cannot be mapped, no gameweek has a dated bet: %s",
			len(e.Dates), strings.Join(dates, ", "))
	}
	return fmt.Sprintf("%d deposit(s) dated before the first gameweek (%s): %s",
		len(e.Dates), e.FirstGameweekDate.Format(time.DateOnly), strings.Join(dates, ", "))
}
