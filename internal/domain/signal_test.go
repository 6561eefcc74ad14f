package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupKey_EntryPerCycle(t *testing.T) {
	sig := Signal{
		Subject: "NYC", Period: PeriodHigh, CycleID: "2026-07-10-PM",
		Bracket: Bracket{Ticker: "KXHIGHNYC-26JUL10-T95"},
		Action:  ActionOpen, CreatedAt: t0,
	}
	assert.Equal(t, "NYC|high|KXHIGHNYC-26JUL10-T95|2026-07-10-PM", sig.DedupKey())

	later := sig
	later.CreatedAt = t0.Add(time.Hour)
	later.Side = SideNo
	assert.Equal(t, sig.DedupKey(), later.DedupKey())
}

func TestDedupKey_CloseNeverCollidesWithEntry(t *testing.T) {
	open := Signal{
		Subject: "NYC", Period: PeriodHigh, CycleID: "2026-07-10-PM",
		Bracket: Bracket{Ticker: "KXHIGHNYC-26JUL10-T95"},
		Action:  ActionOpen, CreatedAt: t0,
	}
	cl := open
	cl.Action, cl.Contracts, cl.Reason = ActionClose, 10, "cut_loss"
	assert.NotEqual(t, open.DedupKey(), cl.DedupKey())

	// Mismo tick: mismo intento.
	same := cl
	same.CreatedAt = t0.Add(20 * time.Second)
	assert.Equal(t, cl.DedupKey(), same.DedupKey())

	retry := cl
	retry.CreatedAt = t0.Add(15 * time.Minute)
	assert.NotEqual(t, cl.DedupKey(), retry.DedupKey())

	rolling := cl
	rolling.Reason = "rolling_profit"
	assert.NotEqual(t, cl.DedupKey(), rolling.DedupKey())
}
