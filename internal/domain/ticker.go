package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const tickerDateLayout = "06Jan02"

// EventTicker builds "<SERIES>-<YYMONDD>", e.g. "KXHIGHNY-26FEB15".
func EventTicker(series string, date time.Time) string {
	return series + "-" + strings.ToUpper(date.Format(tickerDateLayout))
}

// ParseEventDate extracts the settlement date from an event or market ticker.
func ParseEventDate(ticker string, loc *time.Location) (time.Time, error) {
	parts := strings.Split(ticker, "-")
	if len(parts) < 2 || len(parts[1]) != 7 {
		return time.Time{}, fmt.Errorf("domain.ParseEventDate: malformed ticker %q", ticker)
	}
	raw := parts[1]
	// time.Parse quiere "Feb", no "FEB"
	norm := raw[:2] + raw[2:3] + strings.ToLower(raw[3:5]) + raw[5:]
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(tickerDateLayout, norm, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("domain.ParseEventDate: %q: %w", ticker, err)
	}
	return d, nil
}

// Strike types as published by the exchange.
const (
	StrikeBetween = "between"
	StrikeGreater = "greater"
	StrikeLess    = "less"
)

// BoundsFromStrikes maps exchange strikes on integer settlement values to a
// half-open continuous range with a half-degree continuity correction:
// between(36,37) → [35.5, 37.5), greater(40) → [40.5, +Inf), less(30) → (−Inf, 29.5).
func BoundsFromStrikes(strikeType string, floor, cap *float64) (float64, float64, error) {
	switch {
	case strikeType == StrikeGreater && floor != nil,
		strikeType == "" && floor != nil && cap == nil:
		return *floor + 0.5, math.Inf(1), nil
	case strikeType == StrikeLess && cap != nil,
		strikeType == "" && cap != nil && floor == nil:
		return math.Inf(-1), *cap - 0.5, nil
	case floor != nil && cap != nil:
		if *cap < *floor {
			return 0, 0, fmt.Errorf("domain.BoundsFromStrikes: cap %.1f below floor %.1f", *cap, *floor)
		}
		return *floor - 0.5, *cap + 0.5, nil
	}
	return 0, 0, fmt.Errorf("domain.BoundsFromStrikes: no usable strikes (type %q)", strikeType)
}

// BoundsFromTicker parses a bracket suffix when the API omits strikes.
// "B36.5" is the 36..37 bracket; threshold suffixes need the strike type.
func BoundsFromTicker(ticker string) (float64, float64, error) {
	idx := strings.LastIndex(ticker, "-")
	if idx < 0 || idx == len(ticker)-1 {
		return 0, 0, fmt.Errorf("domain.BoundsFromTicker: malformed ticker %q", ticker)
	}
	suffix := ticker[idx+1:]
	if suffix[0] != 'B' && suffix[0] != 'b' {
		return 0, 0, fmt.Errorf("domain.BoundsFromTicker: %q is not a bracket ticker", ticker)
	}
	mid, err := strconv.ParseFloat(suffix[1:], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("domain.BoundsFromTicker: %q: %w", ticker, err)
	}
	lo := math.Floor(mid - 0.5)
	hi := math.Floor(mid + 0.5)
	return BoundsFromStrikes(StrikeBetween, &lo, &hi)
}
