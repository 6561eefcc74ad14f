// Package notify prints cycle, position and settlement reports to a terminal.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
	now   func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, now: time.Now}
}

// NewConsoleWriter crea un notificador sobre w (tests, ficheros).
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, now: time.Now}
}

// NotifyCycle imprime las señales del ciclo en el modo configurado.
func (c *Console) NotifyCycle(_ context.Context, cycleID string, results []domain.SignalResult) error {
	stamp := c.now().Format("15:04:05")
	if len(results) == 0 {
		fmt.Fprintf(c.out, "[%s] %s: no signals\n", stamp, cycleID)
		return nil
	}
	if c.table {
		c.printSignals(stamp, cycleID, results)
	} else {
		c.printCompact(stamp, cycleID, results)
	}
	return nil
}

// printCompact imprime una línea: recuentos y hasta 4 ejecuciones.
func (c *Console) printCompact(stamp, cycleID string, results []domain.SignalResult) {
	exec, skip, rej := countOutcomes(results)

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s → exec:%d skip:%d rej:%d", stamp, cycleID, exec, skip, rej)

	shown := 0
	for _, r := range results {
		if shown >= 4 {
			break
		}
		if r.Outcome != domain.OutcomeExecuted {
			continue
		}
		s := r.Signal
		fmt.Fprintf(&sb, " | %s %s %s x%d @%d¢",
			s.Action, strings.ToUpper(s.Side.String()), compactTicker(s.Bracket.Ticker), r.Contracts, s.LimitPrice)
		shown++
	}
	fmt.Fprintln(c.out, sb.String())
}

func (c *Console) printSignals(stamp, cycleID string, results []domain.SignalResult) {
	exec, skip, rej := countOutcomes(results)
	fmt.Fprintf(c.out, "\n[%s] cycle %s: %d signals (executed %d, skipped %d, rejected %d)\n",
		stamp, cycleID, len(results), exec, skip, rej)

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Ticker", "Side", "Action", "Qty", "Limit", "Edge", "Basis", "Outcome", "Reason")
	for i, r := range results {
		s := r.Signal
		edge := "-"
		if s.Action == domain.ActionOpen {
			edge = fmt.Sprintf("%+.1f%%", s.EdgePct*100)
		}
		qty := r.Contracts
		if qty == 0 {
			qty = s.Contracts
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			truncate(s.Bracket.Ticker, 28),
			strings.ToUpper(s.Side.String()),
			s.Action.String(),
			fmt.Sprintf("%d", qty),
			fmt.Sprintf("%d¢", s.LimitPrice),
			edge,
			string(s.Basis),
			string(r.Outcome),
			truncate(r.Reason, 30),
		)
	}
	table.Render()
}

func countOutcomes(results []domain.SignalResult) (exec, skip, rej int) {
	for _, r := range results {
		switch r.Outcome {
		case domain.OutcomeExecuted:
			exec++
		case domain.OutcomeSkipped:
			skip++
		case domain.OutcomeRejected:
			rej++
		}
	}
	return
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// compactTicker quita el prefijo de serie: "KXHIGHNY-26JUL10-T88" → "26JUL10-T88".
func compactTicker(t string) string {
	if i := strings.Index(t, "-"); i >= 0 && i < len(t)-1 {
		return t[i+1:]
	}
	return t
}
