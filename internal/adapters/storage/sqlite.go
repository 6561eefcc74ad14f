package storage

// sqlite.go: persistencia del bot en un único fichero SQLite.
//
// Tablas:
//   positions            : una fila por (ticker, lado). Nunca se borran: las
//                          liquidadas quedan como auditoría.
//   dedup_claims         : claves (sujeto, periodo, bracket, ciclo) ya actuadas
//   journal              : append-only, un registro por resultado de señal
//   violations           : bloqueos del sanity gate con su causa
//   settlement_mismatches: liquidaciones para revisión manual
//   daily_extremes       : máximo/mínimo corrido por estación y día local
//   rolling_state        : trigger de profit-take rolling por sesión
//   circuit_breaker      : estado del breaker de pérdidas (una sola fila)

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/wxbot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    id            TEXT PRIMARY KEY,
    ticker        TEXT    NOT NULL,
    event_ticker  TEXT    NOT NULL DEFAULT '',
    subject       TEXT    NOT NULL,
    period        TEXT    NOT NULL,
    target_date   TEXT    NOT NULL,   -- medianoche local del sujeto, RFC3339
    side          TEXT    NOT NULL,   -- yes / no
    contracts     INTEGER NOT NULL DEFAULT 0,
    avg_entry     REAL    NOT NULL DEFAULT 0,
    status        TEXT    NOT NULL,
    adjusted      INTEGER NOT NULL DEFAULT 0,
    realized_pnl  INTEGER NOT NULL DEFAULT 0,
    floor         REAL,               -- NULL = bracket abierto por abajo
    cap           REAL,               -- NULL = bracket abierto por arriba
    outcome       TEXT    NOT NULL DEFAULT '',
    opened_at     TEXT    NOT NULL,
    updated_at    TEXT    NOT NULL,
    settled_at    TEXT
);

CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_positions_ticker ON positions(ticker);

CREATE TABLE IF NOT EXISTS dedup_claims (
    key        TEXT PRIMARY KEY,
    claimed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS journal (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id     TEXT    NOT NULL,
    signal_id    TEXT    NOT NULL,
    subject      TEXT    NOT NULL,
    period       TEXT    NOT NULL,
    target_date  TEXT    NOT NULL,
    ticker       TEXT    NOT NULL,
    side         TEXT    NOT NULL,
    action       TEXT    NOT NULL,
    reason       TEXT    NOT NULL DEFAULT '',
    basis        TEXT    NOT NULL DEFAULT '',
    edge         REAL    NOT NULL DEFAULT 0,
    model_prob   REAL    NOT NULL DEFAULT 0,
    market_prob  REAL    NOT NULL DEFAULT 0,
    limit_price  INTEGER NOT NULL DEFAULT 0,
    outcome      TEXT    NOT NULL,
    outcome_note TEXT    NOT NULL DEFAULT '',
    contracts    INTEGER NOT NULL DEFAULT 0,
    order_id     TEXT    NOT NULL DEFAULT '',
    recorded_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_cycle ON journal(cycle_id);

CREATE TABLE IF NOT EXISTS violations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id    TEXT NOT NULL DEFAULT '',
    subject     TEXT NOT NULL,
    period      TEXT NOT NULL,
    target_date TEXT NOT NULL,
    check_name  TEXT NOT NULL,
    cause       TEXT NOT NULL,
    observed    REAL NOT NULL DEFAULT 0,
    limit_value REAL NOT NULL DEFAULT 0,
    ticker      TEXT NOT NULL DEFAULT '',
    recorded_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settlement_mismatches (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    subject       TEXT NOT NULL,
    period        TEXT NOT NULL,
    target_date   TEXT NOT NULL,
    settled_value REAL NOT NULL,
    tracked_value REAL NOT NULL,
    tolerance     REAL NOT NULL,
    tickers       TEXT NOT NULL DEFAULT '',
    recorded_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_extremes (
    station          TEXT    NOT NULL,
    date             TEXT    NOT NULL,
    high             REAL    NOT NULL,
    low              REAL    NOT NULL,
    last_observed_at TEXT    NOT NULL,
    count            INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (station, date)
);

CREATE TABLE IF NOT EXISTS rolling_state (
    session        TEXT PRIMARY KEY,
    next_threshold INTEGER NOT NULL,
    realized_pnl   INTEGER NOT NULL DEFAULT 0,
    fired          INTEGER NOT NULL DEFAULT 0,
    last_fired_at  TEXT
);

CREATE TABLE IF NOT EXISTS circuit_breaker (
    id                  INTEGER PRIMARY KEY DEFAULT 1,
    consecutive_losses  INTEGER NOT NULL DEFAULT 0,
    max_losses          INTEGER NOT NULL DEFAULT 3,
    cooldown_until      TEXT,
    cooldown_duration_s INTEGER NOT NULL DEFAULT 1800,
    session_pnl         INTEGER NOT NULL DEFAULT 0,
    max_drawdown        INTEGER NOT NULL DEFAULT 0,
    triggered           INTEGER NOT NULL DEFAULT 0,
    triggered_reason    TEXT    NOT NULL DEFAULT ''
);

-- Exactamente una fila de breaker
INSERT OR IGNORE INTO circuit_breaker (id) VALUES (1);
`

// tsLayout es de ancho fijo en UTC: las comparaciones de texto en SQL
// ordenan igual que los instantes.
const tsLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStorage implementa los puertos de persistencia usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Close cierra la conexión.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// ─── Positions ───────────────────────────────────────────────────────────────

// SavePosition hace upsert por id. Las posiciones nunca se borran.
func (s *SQLiteStorage) SavePosition(ctx context.Context, p *domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions
		  (id, ticker, event_ticker, subject, period, target_date, side, contracts, avg_entry,
		   status, adjusted, realized_pnl, floor, cap, outcome, opened_at, updated_at, settled_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
		  contracts    = excluded.contracts,
		  avg_entry    = excluded.avg_entry,
		  status       = excluded.status,
		  adjusted     = excluded.adjusted,
		  realized_pnl = excluded.realized_pnl,
		  outcome      = excluded.outcome,
		  updated_at   = excluded.updated_at,
		  settled_at   = excluded.settled_at`,
		p.ID, p.Ticker, p.Bracket.EventTicker, p.Subject, string(p.Period),
		p.TargetDate.Format(time.RFC3339), p.Side.String(), p.Contracts, p.AvgEntry,
		string(p.Status), boolToInt(p.Adjusted), int64(p.RealizedPnL),
		nullBound(p.Bracket.Floor), nullBound(p.Bracket.Cap), outcomeString(p.Outcome),
		ts(p.OpenedAt), ts(p.UpdatedAt), nullTime(p.SettledAt),
	)
	if err != nil {
		return fmt.Errorf("storage.SavePosition: %s: %w", p.Ticker, err)
	}
	return nil
}

// LivePositions devuelve las posiciones OPEN y CLOSING.
func (s *SQLiteStorage) LivePositions(ctx context.Context) ([]*domain.Position, error) {
	return s.queryPositions(ctx, `WHERE status IN ('open','closing')`)
}

// UnsettledPositions devuelve todo lo que todavía espera liquidación, cerradas incluidas.
func (s *SQLiteStorage) UnsettledPositions(ctx context.Context) ([]*domain.Position, error) {
	return s.queryPositions(ctx, `WHERE status <> 'settled'`)
}

// AllPositions devuelve el histórico completo.
func (s *SQLiteStorage) AllPositions(ctx context.Context) ([]*domain.Position, error) {
	return s.queryPositions(ctx, ``)
}

func (s *SQLiteStorage) queryPositions(ctx context.Context, where string, args ...any) ([]*domain.Position, error) {
	q := `SELECT id, ticker, event_ticker, subject, period, target_date, side, contracts, avg_entry,
		         status, adjusted, realized_pnl, floor, cap, outcome, opened_at, updated_at, settled_at
		  FROM positions ` + where + ` ORDER BY opened_at ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.queryPositions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.queryPositions: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPosition(rows *sql.Rows) (*domain.Position, error) {
	var (
		p                   domain.Position
		period, side        string
		status, outcome     string
		targetDate          string
		openedAt, updatedAt string
		settledAt           sql.NullString
		floor, cap          sql.NullFloat64
		adjusted            int
		realized            int64
	)
	err := rows.Scan(
		&p.ID, &p.Ticker, &p.Bracket.EventTicker, &p.Subject, &period, &targetDate, &side,
		&p.Contracts, &p.AvgEntry, &status, &adjusted, &realized, &floor, &cap, &outcome,
		&openedAt, &updatedAt, &settledAt,
	)
	if err != nil {
		return nil, err
	}

	p.Period = domain.Period(period)
	if p.Side, err = domain.ParseSide(side); err != nil {
		return nil, err
	}
	if outcome != "" {
		if p.Outcome, err = domain.ParseSide(outcome); err != nil {
			return nil, err
		}
	}
	p.Status = domain.PositionStatus(status)
	p.Adjusted = adjusted != 0
	p.RealizedPnL = domain.Cents(realized)
	p.TargetDate = parseTime(targetDate)
	p.OpenedAt = parseTime(openedAt)
	p.UpdatedAt = parseTime(updatedAt)
	if settledAt.Valid && settledAt.String != "" {
		t := parseTime(settledAt.String)
		p.SettledAt = &t
	}

	p.Bracket.Ticker = p.Ticker
	p.Bracket.Subject = p.Subject
	p.Bracket.Period = p.Period
	p.Bracket.Date = p.TargetDate
	p.Bracket.Floor = math.Inf(-1)
	if floor.Valid {
		p.Bracket.Floor = floor.Float64
	}
	p.Bracket.Cap = math.Inf(1)
	if cap.Valid {
		p.Bracket.Cap = cap.Float64
	}
	return &p, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// nullTime returns nil for a nil pointer, formatted string otherwise.
func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return ts(*t)
}

// parseTime acepta el layout propio, RFC3339 y el formato por defecto de SQLite.
func parseTime(s string) time.Time {
	for _, layout := range []string{tsLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// nullBound guarda los límites infinitos como NULL.
func nullBound(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}

func outcomeString(s domain.Side) string {
	if !s.Valid() {
		return ""
	}
	return s.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
