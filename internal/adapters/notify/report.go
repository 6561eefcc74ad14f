package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// CycleSummary agrupa los totales de un ciclo para el informe.
type CycleSummary struct {
	CycleID         string
	Duration        time.Duration
	Capital         domain.CapitalState
	Violations      []domain.Violation
	Mismatches      []domain.Mismatch
	Settled         int
	SettledPnL      domain.Cents
	RealizedPnL     domain.Cents
	SkippedSubjects int
	EntriesBlocked  string
	Warnings        []string
}

// PrintCycle imprime el resumen de un ciclo: capital, bloqueos y avisos.
func (c *Console) PrintCycle(s CycleSummary) {
	fmt.Fprintf(c.out, "\n── CYCLE %s (%s) ──\n", s.CycleID, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(c.out, "  Balance:   %s\n", s.Capital.Balance)
	fmt.Fprintf(c.out, "  Exposure:  %s (reserved %s)\n", s.Capital.OpenExposure, s.Capital.Reserved)
	fmt.Fprintf(c.out, "  Realized:  %s\n", s.RealizedPnL)
	if s.Settled > 0 {
		fmt.Fprintf(c.out, "  Settled:   %d positions, %s\n", s.Settled, s.SettledPnL)
	}
	if s.SkippedSubjects > 0 {
		fmt.Fprintf(c.out, "  Skipped:   %d subjects (cycle budget spent)\n", s.SkippedSubjects)
	}
	if s.EntriesBlocked != "" {
		fmt.Fprintf(c.out, "  Entries:   BLOCKED (%s)\n", s.EntriesBlocked)
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(c.out, "  ⚠ %s\n", w)
	}
	if len(s.Violations) > 0 {
		c.PrintViolations(s.Violations)
	}
	if len(s.Mismatches) > 0 {
		c.PrintMismatches(s.Mismatches)
	}
}

// PrintViolations imprime los bloqueos del sanity gate.
func (c *Console) PrintViolations(vs []domain.Violation) {
	fmt.Fprintf(c.out, "\n── SANITY VIOLATIONS (%d) ──\n", len(vs))
	table := tablewriter.NewWriter(c.out)
	table.Header("Subject", "Period", "Date", "Check", "Observed", "Limit", "Cause")
	for _, v := range vs {
		table.Append(
			v.Subject,
			string(v.Period),
			v.TargetDate,
			v.Check,
			fmt.Sprintf("%.2f", v.Observed),
			fmt.Sprintf("%.2f", v.Limit),
			truncate(v.Cause, 40),
		)
	}
	table.Render()
}

// PrintMismatches imprime las liquidaciones pendientes de revisión manual.
func (c *Console) PrintMismatches(ms []domain.Mismatch) {
	fmt.Fprintf(c.out, "\n── SETTLEMENT MISMATCHES (%d, review manually) ──\n", len(ms))
	table := tablewriter.NewWriter(c.out)
	table.Header("Subject", "Period", "Date", "Settled", "Tracked", "Tolerance", "Tickers")
	for _, m := range ms {
		table.Append(
			m.Subject,
			string(m.Period),
			m.TargetDate,
			fmt.Sprintf("%.1f°F", m.SettledValue),
			fmt.Sprintf("%.1f°F", m.TrackedValue),
			fmt.Sprintf("%.1f", m.Tolerance),
			truncate(strings.Join(m.Tickers, ","), 40),
		)
	}
	table.Render()
}

// PositionRow es una posición viva con su margen ya calculado.
type PositionRow struct {
	Position   *domain.Position
	Bid        domain.Cents
	Mean       *float64
	Running    *float64
	Margin     string
	Unrealized domain.Cents
}

// PrintPositions imprime la cartera viva ordenada como llega.
func (c *Console) PrintPositions(rows []PositionRow, capital domain.CapitalState) {
	fmt.Fprintf(c.out, "\n── OPEN POSITIONS (%d) ──\n", len(rows))
	if len(rows) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		return
	}

	var unrealized domain.Cents
	danger := 0
	table := tablewriter.NewWriter(c.out)
	table.Header("Ticker", "Side", "Qty", "Entry", "Bid", "Est", "Running", "Margin", "Unrealized", "State")
	for _, r := range rows {
		p := r.Position
		margin := r.Margin
		if margin == "" {
			margin = "?"
		}
		if margin == "DANGER" {
			danger++
		}
		bid := "-"
		if r.Bid > 0 {
			bid = fmt.Sprintf("%d¢", r.Bid)
		}
		unrealized += r.Unrealized
		table.Append(
			truncate(p.Ticker, 28),
			strings.ToUpper(p.Side.String()),
			fmt.Sprintf("%d", p.Contracts),
			fmt.Sprintf("%.1f¢", p.AvgEntry),
			bid,
			degrees(r.Mean),
			degrees(r.Running),
			margin,
			r.Unrealized.String(),
			p.State(),
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "  Exposure:   %s of %s balance\n", capital.OpenExposure, capital.Balance)
	fmt.Fprintf(c.out, "  Unrealized: %s\n", unrealized)
	if danger > 0 {
		fmt.Fprintf(c.out, "  ⚠ %d position(s) in DANGER\n", danger)
	}
}

// PrintSettlement imprime el resultado de una pasada de liquidación.
func (c *Console) PrintSettlement(settled int, pnl domain.Cents, mismatches []domain.Mismatch) {
	fmt.Fprintf(c.out, "\n── SETTLEMENT ──\n")
	if settled == 0 {
		fmt.Fprintln(c.out, "  nothing to settle")
	} else {
		fmt.Fprintf(c.out, "  Settled: %d positions, P&L %s\n", settled, pnl)
	}
	if len(mismatches) > 0 {
		c.PrintMismatches(mismatches)
	}
}

func degrees(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f°F", *v)
}
