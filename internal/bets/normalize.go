package bets

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one raw bet: a flat or one-level-nested key/value map. Nested
// references may arrive either as dotted keys ("player.externalId") or as
// objects ({"player": {"externalId": ...}}).
type Record map[string]any

var gameweekPattern = regexp.MustCompile(`^GW_(\d+)$`)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var (
	errMissing   = errors.New("missing value")
	errNotNumber = errors.New("not a number")
	errBadDate   = errors.New("unrecognised date format")
)

// Normalize turns raw records into typed bets. Input order is preserved.
// An empty input yields an empty result and no error.
func Normalize(records []Record) ([]Bet, error) {
	out := make([]Bet, 0, len(records))
	for i, raw := range records {
		b, err := normalizeOne(i, flatten(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ParseGameweek extracts the number from a GW_<n> label.
func ParseGameweek(label string) (int, bool) {
	m := gameweekPattern.FindStringSubmatch(strings.TrimSpace(label))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Identity returns the id, player and gameweek label of a raw record without
// validating it.
func (r Record) Identity() (id, player, gameweek string) {
	f := flatten(r)
	return firstString(f, ColID, "externalId"),
		firstString(f, "player.externalId", ColPlayer),
		firstString(f, "gameweek.externalId", ColGameweek)
}

func normalizeOne(index int, r Record) (Bet, error) {
	var b Bet

	b.ID = firstString(r, ColID, "externalId")

	player := firstString(r, "player.externalId", ColPlayer)
	if player == "" {
		return Bet{}, &RecordError{Index: index, ID: b.ID, Field: ColPlayer, Err: errMissing}
	}
	b.Player = player

	b.Gameweek = firstString(r, "gameweek.externalId", ColGameweek)
	num, ok := ParseGameweek(b.Gameweek)
	if !ok {
		return Bet{}, &MalformedGameweekError{Index: index, ID: b.ID, Label: b.Gameweek}
	}
	b.GameweekNum = num

	stake, err := parseDecimal(r[ColStake])
	if err != nil {
		return Bet{}, &RecordError{Index: index, ID: b.ID, Field: ColStake, Err: err}
	}
	if stake.Valid {
		b.Stake = stake.Decimal
	}

	payout, err := parseDecimal(r[ColPayout])
	if err != nil {
		return Bet{}, &RecordError{Index: index, ID: b.ID, Field: ColPayout, Err: err}
	}
	b.Payout = payout
	b.Won = b.PayoutOrZero().IsPositive()

	// Unparsable or non-finite odds are treated as missing.
	if odds, err := parseDecimal(r[ColOdds]); err == nil {
		b.Odds = odds
	}
	if b.Odds.Valid && b.Odds.Decimal.IsPositive() {
		b.ExpectedPayout = decimal.NewNullDecimal(b.Stake.Div(b.Odds.Decimal))
	}

	if s, ok := r[ColDescription].(string); ok {
		b.Description = s
	}

	date, err := parseDate(r[ColDate])
	if err != nil {
		return Bet{}, &RecordError{Index: index, ID: b.ID, Field: ColDate, Err: err}
	}
	b.Date = date

	return b, nil
}

// flatten expands one level of nested objects into dotted keys and drops
// namespace qualifiers ("*.space").
func flatten(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		switch nested := v.(type) {
		case map[string]any:
			for sk, sv := range nested {
				out[k+"."+sk] = sv
			}
		case Record:
			for sk, sv := range nested {
				out[k+"."+sk] = sv
			}
		default:
			out[k] = v
		}
	}
	for k := range out {
		if strings.HasSuffix(k, ".space") {
			delete(out, k)
		}
	}
	return out
}

func firstString(r Record, keys ...string) string {
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case fmt.Stringer:
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// parseDecimal returns an invalid NullDecimal for missing or non-finite
// values and an error for values that are present but not numeric.
func parseDecimal(v any) (decimal.NullDecimal, error) {
	switch n := v.(type) {
	case nil:
		return decimal.NullDecimal{}, nil
	case decimal.Decimal:
		return decimal.NewNullDecimal(n), nil
	case decimal.NullDecimal:
		return n, nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.NullDecimal{}, nil
		}
		return decimal.NewNullDecimal(decimal.NewFromFloat(n)), nil
	case float32:
		return parseDecimal(float64(n))
	case int:
		return decimal.NewNullDecimal(decimal.NewFromInt(int64(n))), nil
	case int64:
		return decimal.NewNullDecimal(decimal.NewFromInt(n)), nil
	case json.Number:
		return parseDecimal(string(n))
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return decimal.NullDecimal{}, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return decimal.NullDecimal{}, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("%w: %q", errNotNumber, s)
		}
		return decimal.NewNullDecimal(d), nil
	default:
		return decimal.NullDecimal{}, fmt.Errorf("%w: %T", errNotNumber, v)
	}
}

func parseDate(v any) (time.Time, error) {
	switch d := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return d, nil
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: %q", errBadDate, s)
	default:
		return time.Time{}, fmt.Errorf("%w: %T", errBadDate, v)
	}
}
