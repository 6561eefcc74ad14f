package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// JournalEntry is one persisted signal outcome.
type JournalEntry struct {
	CycleID    string
	SignalID   string
	Subject    string
	Period     domain.Period
	TargetDate string
	Ticker     string
	Side       string
	Action     string
	Reason     string
	Basis      string
	EdgePct    float64
	LimitPrice domain.Cents
	Outcome    domain.Outcome
	Note       string
	Contracts  int
	OrderID    string
	RecordedAt time.Time
}

// ─── Journal ─────────────────────────────────────────────────────────────────

// Record appends one signal outcome. Rows are never updated.
func (s *SQLiteStorage) Record(ctx context.Context, res domain.SignalResult, at time.Time) error {
	sig := res.Signal
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal
		  (cycle_id, signal_id, subject, period, target_date, ticker, side, action, reason, basis,
		   edge, model_prob, market_prob, limit_price, outcome, outcome_note, contracts, order_id, recorded_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sig.CycleID, sig.ID, sig.Subject, string(sig.Period), domain.DateKey(sig.TargetDate),
		sig.Bracket.Ticker, sig.Side.String(), sig.Action.String(), sig.Reason, string(sig.Basis),
		sig.EdgePct, sig.ModelProb, sig.MarketProb, int64(sig.LimitPrice),
		string(res.Outcome), res.Reason, res.Contracts, res.OrderID, ts(at),
	)
	if err != nil {
		return fmt.Errorf("storage.Record: %s %s: %w", sig.CycleID, sig.Bracket.Ticker, err)
	}
	return nil
}

// CycleJournal returns the entries of one cycle in insertion order.
func (s *SQLiteStorage) CycleJournal(ctx context.Context, cycleID string) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cycle_id, signal_id, subject, period, target_date, ticker, side, action, reason, basis,
		       edge, limit_price, outcome, outcome_note, contracts, order_id, recorded_at
		FROM journal WHERE cycle_id=? ORDER BY id ASC`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("storage.CycleJournal: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var period, outcome, recordedAt string
		var limit int64
		if err := rows.Scan(&e.CycleID, &e.SignalID, &e.Subject, &period, &e.TargetDate, &e.Ticker,
			&e.Side, &e.Action, &e.Reason, &e.Basis, &e.EdgePct, &limit, &outcome, &e.Note,
			&e.Contracts, &e.OrderID, &recordedAt); err != nil {
			return nil, fmt.Errorf("storage.CycleJournal: scan: %w", err)
		}
		e.Period = domain.Period(period)
		e.Outcome = domain.Outcome(outcome)
		e.LimitPrice = domain.Cents(limit)
		e.RecordedAt = parseTime(recordedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ─── Violations ──────────────────────────────────────────────────────────────

// SaveViolation records a sanity-gate block with its cause.
func (s *SQLiteStorage) SaveViolation(ctx context.Context, v domain.Violation, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO violations
		  (cycle_id, subject, period, target_date, check_name, cause, observed, limit_value, ticker, recorded_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		v.CycleID, v.Subject, string(v.Period), v.TargetDate, v.Check, v.Cause,
		v.Observed, v.Limit, v.Ticker, ts(at),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveViolation: %s %s: %w", v.Subject, v.Check, err)
	}
	return nil
}

// Violations returns the blocks recorded at or after since, newest first.
func (s *SQLiteStorage) Violations(ctx context.Context, since time.Time) ([]domain.Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cycle_id, subject, period, target_date, check_name, cause, observed, limit_value, ticker
		FROM violations WHERE recorded_at >= ? ORDER BY recorded_at DESC, id DESC`, ts(since))
	if err != nil {
		return nil, fmt.Errorf("storage.Violations: %w", err)
	}
	defer rows.Close()

	var out []domain.Violation
	for rows.Next() {
		var v domain.Violation
		var period string
		if err := rows.Scan(&v.CycleID, &v.Subject, &period, &v.TargetDate, &v.Check, &v.Cause,
			&v.Observed, &v.Limit, &v.Ticker); err != nil {
			return nil, fmt.Errorf("storage.Violations: scan: %w", err)
		}
		v.Period = domain.Period(period)
		out = append(out, v)
	}
	return out, rows.Err()
}

// ─── Settlement mismatches ───────────────────────────────────────────────────

// SaveMismatch flags a settlement for manual review.
func (s *SQLiteStorage) SaveMismatch(ctx context.Context, m domain.Mismatch, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement_mismatches
		  (subject, period, target_date, settled_value, tracked_value, tolerance, tickers, recorded_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		m.Subject, string(m.Period), m.TargetDate, m.SettledValue, m.TrackedValue, m.Tolerance,
		strings.Join(m.Tickers, ","), ts(at),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveMismatch: %s %s: %w", m.Subject, m.TargetDate, err)
	}
	return nil
}

// Mismatches returns every flagged settlement, oldest first.
func (s *SQLiteStorage) Mismatches(ctx context.Context) ([]domain.Mismatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, period, target_date, settled_value, tracked_value, tolerance, tickers
		FROM settlement_mismatches ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.Mismatches: %w", err)
	}
	defer rows.Close()

	var out []domain.Mismatch
	for rows.Next() {
		var m domain.Mismatch
		var period, tickers string
		if err := rows.Scan(&m.Subject, &period, &m.TargetDate, &m.SettledValue, &m.TrackedValue,
			&m.Tolerance, &tickers); err != nil {
			return nil, fmt.Errorf("storage.Mismatches: scan: %w", err)
		}
		m.Period = domain.Period(period)
		if tickers != "" {
			m.Tickers = strings.Split(tickers, ",")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
