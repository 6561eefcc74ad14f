// Package risk sizes or rejects entries against the per-trade and aggregate
// exposure caps. Approval and reservation happen under the ledger lock, so
// two signals can never spend the same headroom; the lock is never held while
// an order is in flight.
package risk

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/alejandrodnm/wxbot/internal/domain"
	"github.com/alejandrodnm/wxbot/internal/ports"
)

// Config holds the capital limits.
type Config struct {
	MaxTradePct           float64 // fraction of balance per order
	MaxExposurePct        float64 // fraction of balance across all open positions
	MaxContractsPerTicker int     // 0 = unlimited
	DefaultContracts      int
}

// Reservation is approved headroom waiting for the exchange's answer.
type Reservation struct {
	id        uint64
	Ticker    string
	Contracts int
	Price     domain.Cents
	Cost      domain.Cents
	Requested int
}

// Resized reports whether the caps shrank the order.
func (r Reservation) Resized() bool { return r.Contracts < r.Requested }

// Manager applies the caps to open signals.
type Manager struct {
	cfg     Config
	ledger  *Ledger
	metrics ports.Metrics
}

// NewManager creates a Manager over ledger. metrics may be nil.
func NewManager(cfg Config, ledger *Ledger, metrics ports.Metrics) *Manager {
	if cfg.MaxTradePct <= 0 {
		cfg.MaxTradePct = 0.10
	}
	if cfg.MaxExposurePct <= 0 {
		cfg.MaxExposurePct = 0.40
	}
	if cfg.DefaultContracts <= 0 {
		cfg.DefaultContracts = 10
	}
	return &Manager{cfg: cfg, ledger: ledger, metrics: metrics}
}

// Ledger returns the ledger the manager guards.
func (m *Manager) Ledger() *Ledger { return m.ledger }

// Reserve sizes an entry and holds its cost. It returns an error wrapping
// domain.ErrCapitalExceeded when not even one contract fits; that is an
// expected outcome, not a fault.
func (m *Manager) Reserve(sig domain.Signal, requested int) (Reservation, error) {
	if sig.Action != domain.ActionOpen {
		return Reservation{}, fmt.Errorf("risk.Reserve: %s: only entries consume capital", sig.Bracket.Ticker)
	}
	price := sig.LimitPrice
	if price <= 0 || price >= domain.Payout {
		return Reservation{}, fmt.Errorf("risk.Reserve: %s: invalid price %d", sig.Bracket.Ticker, price)
	}
	if requested <= 0 {
		requested = m.cfg.DefaultContracts
	}
	ticker := sig.Bracket.Ticker

	l := m.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	n, reason := m.size(ticker, price, requested)
	if n <= 0 {
		slog.Info("risk: capital exceeded",
			"ticker", ticker,
			"reason", reason,
			"price", price,
			"requested", requested,
			"balance", l.balance.String(),
			"exposure", l.exposure.String(),
			"reserved", l.reserved.String(),
		)
		return Reservation{}, fmt.Errorf("risk.Reserve: %s: %s: %w", ticker, reason, domain.ErrCapitalExceeded)
	}

	l.seq++
	r := Reservation{
		id:        l.seq,
		Ticker:    ticker,
		Contracts: n,
		Price:     price,
		Cost:      price * domain.Cents(n),
		Requested: requested,
	}
	l.holds[r.id] = hold{ticker: ticker, contracts: n, cost: r.Cost}
	l.reserved += r.Cost
	l.tickers[ticker] += n
	if r.Resized() {
		slog.Info("risk: order resized", "ticker", ticker, "requested", requested, "approved", n)
	}
	m.report(l.snapshotLocked())
	return r, nil
}

// size applies the rules in order. Caller holds the ledger lock.
func (m *Manager) size(ticker string, price domain.Cents, requested int) (int, string) {
	l := m.ledger
	n := requested

	// 1. Per-trade cap
	tradeCap := domain.Cents(math.Floor(float64(l.balance) * m.cfg.MaxTradePct))
	if price > tradeCap {
		return 0, "per-trade cap"
	}
	n = min(n, int(tradeCap/price))

	// 2. Aggregate exposure cap
	headroom := domain.Cents(math.Floor(float64(l.balance)*m.cfg.MaxExposurePct)) - l.exposure - l.reserved
	if headroom < price {
		return 0, "aggregate exposure cap"
	}
	n = min(n, int(headroom/price))

	// 3. Cash
	cash := l.balance - l.reserved
	if cash < price {
		return 0, "insufficient balance"
	}
	n = min(n, int(cash/price))

	// 4. Per-ticker contracts
	if m.cfg.MaxContractsPerTicker > 0 {
		room := m.cfg.MaxContractsPerTicker - l.tickers[ticker]
		if room <= 0 {
			return 0, "per-ticker contracts"
		}
		n = min(n, room)
	}
	return n, ""
}

// Commit turns a reservation into exposure for the filled contracts and
// returns the unfilled remainder to the headroom.
func (m *Manager) Commit(r Reservation, filled int, price domain.Cents) {
	l := m.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.holds[r.id]; !ok {
		return
	}
	m.releaseLocked(r)
	if filled <= 0 {
		m.report(l.snapshotLocked())
		return
	}
	filled = min(filled, r.Contracts)
	if price <= 0 {
		price = r.Price
	}
	cost := price * domain.Cents(filled)
	l.exposure += cost
	l.balance -= cost
	l.tickers[r.Ticker] += filled
	m.report(l.snapshotLocked())
}

// Release drops a reservation whose order was rejected or never sent.
func (m *Manager) Release(r Reservation) {
	l := m.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.holds[r.id]; !ok {
		return
	}
	m.releaseLocked(r)
	m.report(l.snapshotLocked())
}

func (m *Manager) releaseLocked(r Reservation) {
	l := m.ledger
	h := l.holds[r.id]
	delete(l.holds, r.id)
	l.reserved -= h.cost
	l.tickers[h.ticker] -= h.contracts
	if l.tickers[h.ticker] <= 0 {
		delete(l.tickers, h.ticker)
	}
}

func (m *Manager) report(st domain.CapitalState) {
	if m.metrics != nil {
		m.metrics.Capital(st)
	}
}
