package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/wxbot/internal/domain"
	"github.com/alejandrodnm/wxbot/internal/ports"
)

// ─── Dedup ───────────────────────────────────────────────────────────────────

// Claim stores key if absent. Only the call that inserted the row gets true,
// so concurrent claimers of the same key see exactly one winner.
func (s *SQLiteStorage) Claim(ctx context.Context, key string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO dedup_claims (key, claimed_at) VALUES (?,?)`, key, ts(at))
	if err != nil {
		return false, fmt.Errorf("storage.Claim: %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage.Claim: rows affected: %w", err)
	}
	return n == 1, nil
}

// PruneClaims borra claves anteriores a before. El ciclo va en la clave, así
// que una clave vieja nunca vuelve a competir.
func (s *SQLiteStorage) PruneClaims(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dedup_claims WHERE claimed_at < ?`, ts(before))
	if err != nil {
		return 0, fmt.Errorf("storage.PruneClaims: %w", err)
	}
	return res.RowsAffected()
}

// ─── Daily extremes ──────────────────────────────────────────────────────────

// RecordObservation folds one reading into the running high/low. A reading
// no newer than the last one folded still updates the extremes but is not
// counted again.
func (s *SQLiteStorage) RecordObservation(ctx context.Context, station string, date time.Time, value float64, at time.Time) (domain.DailyExtreme, error) {
	key := domain.DateKey(date)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_extremes (station, date, high, low, last_observed_at, count)
		VALUES (?,?,?,?,?,1)
		ON CONFLICT(station, date) DO UPDATE SET
		  high             = MAX(high, excluded.high),
		  low              = MIN(low, excluded.low),
		  count            = count + (excluded.last_observed_at > last_observed_at),
		  last_observed_at = MAX(last_observed_at, excluded.last_observed_at)`,
		station, key, value, value, ts(at),
	)
	if err != nil {
		return domain.DailyExtreme{}, fmt.Errorf("storage.RecordObservation: %s %s: %w", station, key, err)
	}
	ext, _, err := s.DailyExtreme(ctx, station, date)
	return ext, err
}

// DailyExtreme returns the running extreme of station for the local date.
func (s *SQLiteStorage) DailyExtreme(ctx context.Context, station string, date time.Time) (domain.DailyExtreme, bool, error) {
	ext := domain.DailyExtreme{Station: station, Date: date}
	var last string
	err := s.db.QueryRowContext(ctx, `
		SELECT high, low, last_observed_at, count FROM daily_extremes
		WHERE station=? AND date=?`, station, domain.DateKey(date)).
		Scan(&ext.High, &ext.Low, &last, &ext.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DailyExtreme{}, false, nil
	}
	if err != nil {
		return domain.DailyExtreme{}, false, fmt.Errorf("storage.DailyExtreme: %s: %w", station, err)
	}
	ext.LastObservedAt = parseTime(last)
	return ext, true, nil
}

// ─── Rolling profit-take ─────────────────────────────────────────────────────

// RollingState loads the trigger of a session; ok=false if never saved.
func (s *SQLiteStorage) RollingState(ctx context.Context, session string) (ports.RollingState, bool, error) {
	st := ports.RollingState{Session: session}
	var next, realized int64
	var lastFired sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT next_threshold, realized_pnl, fired, last_fired_at
		FROM rolling_state WHERE session=?`, session).
		Scan(&next, &realized, &st.Fired, &lastFired)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.RollingState{}, false, nil
	}
	if err != nil {
		return ports.RollingState{}, false, fmt.Errorf("storage.RollingState: %s: %w", session, err)
	}
	st.NextThreshold = domain.Cents(next)
	st.RealizedPnL = domain.Cents(realized)
	if lastFired.Valid && lastFired.String != "" {
		t := parseTime(lastFired.String)
		st.LastFiredAt = &t
	}
	return st, true, nil
}

// SaveRollingState upserts the trigger of a session.
func (s *SQLiteStorage) SaveRollingState(ctx context.Context, st ports.RollingState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rolling_state (session, next_threshold, realized_pnl, fired, last_fired_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(session) DO UPDATE SET
		  next_threshold = excluded.next_threshold,
		  realized_pnl   = excluded.realized_pnl,
		  fired          = excluded.fired,
		  last_fired_at  = excluded.last_fired_at`,
		st.Session, int64(st.NextThreshold), int64(st.RealizedPnL), st.Fired, nullTime(st.LastFiredAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveRollingState: %s: %w", st.Session, err)
	}
	return nil
}

// ─── Circuit Breaker ─────────────────────────────────────────────────────────

// SaveCircuitBreaker persists the current circuit breaker state.
func (s *SQLiteStorage) SaveCircuitBreaker(ctx context.Context, cb domain.CircuitBreaker) error {
	var cooldownUntil *time.Time
	if !cb.CooldownUntil.IsZero() {
		t := cb.CooldownUntil.UTC()
		cooldownUntil = &t
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE circuit_breaker SET
		  consecutive_losses=?, max_losses=?, cooldown_until=?,
		  cooldown_duration_s=?, session_pnl=?, max_drawdown=?,
		  triggered=?, triggered_reason=?
		WHERE id=1`,
		cb.ConsecutiveLosses, cb.MaxLosses, nullTime(cooldownUntil),
		int(cb.CooldownDuration.Seconds()), int64(cb.SessionPnL), int64(cb.MaxDrawdown),
		boolToInt(cb.Triggered), cb.TriggeredReason,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveCircuitBreaker: %w", err)
	}
	return nil
}

// CircuitBreaker loads the persisted circuit breaker state.
func (s *SQLiteStorage) CircuitBreaker(ctx context.Context) (domain.CircuitBreaker, error) {
	var cb domain.CircuitBreaker
	var triggeredInt, cooldownDurationS int
	var sessionPnL, maxDrawdown int64
	var cooldownUntilStr sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT consecutive_losses, max_losses, cooldown_until, cooldown_duration_s,
		       session_pnl, max_drawdown, triggered, triggered_reason
		FROM circuit_breaker WHERE id=1`).Scan(
		&cb.ConsecutiveLosses, &cb.MaxLosses, &cooldownUntilStr, &cooldownDurationS,
		&sessionPnL, &maxDrawdown, &triggeredInt, &cb.TriggeredReason,
	)
	if err != nil {
		return cb, fmt.Errorf("storage.CircuitBreaker: %w", err)
	}

	cb.Triggered = triggeredInt != 0
	cb.CooldownDuration = time.Duration(cooldownDurationS) * time.Second
	cb.SessionPnL = domain.Cents(sessionPnL)
	cb.MaxDrawdown = domain.Cents(maxDrawdown)
	if cooldownUntilStr.Valid && cooldownUntilStr.String != "" {
		cb.CooldownUntil = parseTime(cooldownUntilStr.String)
	}
	return cb, nil
}
