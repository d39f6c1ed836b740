package bets

import "fmt"

// MalformedGameweekError is returned when a gameweek label does not match GW_<n>.
type MalformedGameweekError struct {
	Index int    // position of the record in the input
	ID    string // record id, if the source provided one
	Label string
}

func (e *MalformedGameweekError) Error() string {
	return fmt.Sprintf("%s: malformed gameweek %q (expected GW_<number>)", recordRef(e.Index, e.ID), e.Label)
}

// RecordError reports a record that could not be normalized for a reason
// other than its gameweek label.
type RecordError struct {
	Index int
	ID    string
	Field string
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: field %s: %v", recordRef(e.Index, e.ID), e.Field, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func recordRef(index int, id string) string {
	if id != "" {
		return fmt.Sprintf("record %d (%s)", index, id)
	}
	return fmt.Sprintf("record %d", index)
}
