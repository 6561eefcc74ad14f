package domain

import (
	"fmt"
	"time"
)

// CycleID names the trading cycle containing t: "<date>-AM" before the
// boundary hour in loc, "<date>-PM" from it on.
func CycleID(t time.Time, loc *time.Location, boundaryHour int) string {
	if loc != nil {
		t = t.In(loc)
	}
	half := "AM"
	if t.Hour() >= boundaryHour {
		half = "PM"
	}
	return fmt.Sprintf("%s-%s", t.Format("2006-01-02"), half)
}

// DateKey is the canonical calendar-date key used in storage and comparisons.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
