package notify_test

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/wxbot/internal/adapters/notify"
	"github.com/alejandrodnm/wxbot/internal/domain"
)

func makeResult(ticker string, side domain.Side, action domain.Action, outcome domain.Outcome, reason string) domain.SignalResult {
	return domain.SignalResult{
		Signal: domain.Signal{
			Subject:    "NYC",
			Period:     domain.PeriodHigh,
			Bracket:    domain.Bracket{Ticker: ticker, Floor: 88.5, Cap: math.Inf(1)},
			Side:       side,
			Action:     action,
			EdgePct:    0.253,
			Basis:      domain.BasisModel,
			LimitPrice: 74,
			Contracts:  10,
		},
		Outcome:   outcome,
		Reason:    reason,
		Contracts: 10,
	}
}

func TestConsole_NotifyCycle_Table(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	results := []domain.SignalResult{
		makeResult("KXHIGHNY-26JUL10-T88", domain.SideNo, domain.ActionOpen, domain.OutcomeExecuted, "model"),
		makeResult("KXHIGHNY-26JUL10-B84.5", domain.SideYes, domain.ActionOpen, domain.OutcomeSkipped, "duplicate"),
	}
	err := n.NotifyCycle(context.Background(), "2026-07-10-PM", results)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "2026-07-10-PM")
	assert.Contains(t, out, "KXHIGHNY-26JUL10-T88")
	assert.Contains(t, out, "executed 1, skipped 1, rejected 0")
	assert.Contains(t, out, "+25.3%")
	assert.Contains(t, out, "74¢")
	assert.Contains(t, out, "duplicate")
}

func TestConsole_NotifyCycle_Compact(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	results := []domain.SignalResult{
		makeResult("KXHIGHNY-26JUL10-T88", domain.SideNo, domain.ActionOpen, domain.OutcomeExecuted, "model"),
		makeResult("KXHIGHNY-26JUL10-T81", domain.SideYes, domain.ActionOpen, domain.OutcomeRejected, "order_rejected"),
	}
	require.NoError(t, n.NotifyCycle(context.Background(), "2026-07-10-PM", results))

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "exec:1 skip:0 rej:1")
	assert.Contains(t, out, "open NO 26JUL10-T88 x10 @74¢")
	assert.NotContains(t, out, "T81")
}

func TestConsole_NotifyCycle_Empty(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	require.NoError(t, n.NotifyCycle(context.Background(), "2026-07-10-AM", nil))
	assert.Contains(t, buf.String(), "2026-07-10-AM: no signals")
}

func TestConsole_PrintPositions(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	b := domain.Bracket{Ticker: "KXHIGHNY-26JUL10-T88", Subject: "NYC", Period: domain.PeriodHigh, Floor: 88.5, Cap: math.Inf(1)}
	p, err := domain.NewPosition("p1", b, domain.SideNo, 10, 74, time.Now())
	require.NoError(t, err)
	mean := 89.2

	n.PrintPositions([]notify.PositionRow{
		{Position: p, Bid: 60, Mean: &mean, Margin: "DANGER", Unrealized: -140},
	}, domain.CapitalState{Balance: 99260, OpenExposure: 740})

	out := buf.String()
	assert.Contains(t, out, "OPEN POSITIONS (1)")
	assert.Contains(t, out, "89.2°F")
	assert.Contains(t, out, "-$1.40")
	assert.Contains(t, out, "$7.40 of $992.60")
	assert.Contains(t, out, "1 position(s) in DANGER")
}

func TestConsole_PrintPositions_Empty(t *testing.T) {
	var buf bytes.Buffer
	notify.NewConsoleWriter(&buf, true).PrintPositions(nil, domain.CapitalState{})
	assert.Contains(t, buf.String(), "(none)")
}

func TestConsole_PrintCycle(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	n.PrintCycle(notify.CycleSummary{
		CycleID:        "2026-07-10-PM",
		Duration:       1500 * time.Millisecond,
		Capital:        domain.CapitalState{Balance: 100000},
		EntriesBlocked: "kill switch",
		Warnings:       []string{"KILL SWITCH: /tmp/stop present, no entries"},
		Violations: []domain.Violation{{
			Subject: "NYC", Period: domain.PeriodHigh, TargetDate: "2026-07-10",
			Check: "forecast_divergence", Observed: 7, Limit: 3,
		}},
		Mismatches: []domain.Mismatch{{
			Subject: "NYC", Period: domain.PeriodHigh, TargetDate: "2026-07-09",
			SettledValue: 85, TrackedValue: 83, Tolerance: 1, Tickers: []string{"KXHIGHNY-26JUL09-B84.5"},
		}},
	})

	out := buf.String()
	assert.Contains(t, out, "CYCLE 2026-07-10-PM (1.5s)")
	assert.Contains(t, out, "$1000.00")
	assert.Contains(t, out, "BLOCKED (kill switch)")
	assert.Contains(t, out, "SANITY VIOLATIONS (1)")
	assert.Contains(t, out, "forecast_divergence")
	assert.Contains(t, out, "SETTLEMENT MISMATCHES (1, review manually)")
	assert.Contains(t, out, "85.0°F")
}

func TestConsole_PrintSettlement_Nothing(t *testing.T) {
	var buf bytes.Buffer
	notify.NewConsoleWriter(&buf, true).PrintSettlement(0, 0, nil)
	assert.Contains(t, buf.String(), "nothing to settle")
}
