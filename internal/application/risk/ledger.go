package risk

import (
	"sync"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// Ledger is the single process-wide capital state. It is passed by reference
// to the risk and position managers; every mutation takes mu.
type Ledger struct {
	mu       sync.Mutex
	balance  domain.Cents
	exposure domain.Cents
	reserved domain.Cents
	tickers  map[string]int // contratos vivos + reservados por ticker
	holds    map[uint64]hold
	seq      uint64
}

type hold struct {
	ticker    string
	contracts int
	cost      domain.Cents
}

// NewLedger creates an empty ledger; call Sync before the first reservation.
func NewLedger() *Ledger {
	return &Ledger{
		tickers: make(map[string]int),
		holds:   make(map[uint64]hold),
	}
}

// Snapshot returns a copy of the capital state.
func (l *Ledger) Snapshot() domain.CapitalState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Contracts returns live plus reserved contracts on ticker.
func (l *Ledger) Contracts(ticker string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tickers[ticker]
}

// Sync replaces balance and exposure with the exchange balance and the live
// positions. In-flight reservations survive the sync.
func (l *Ledger) Sync(balance domain.Cents, live []*domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balance = balance
	l.exposure = 0
	l.tickers = make(map[string]int, len(live))
	for _, p := range live {
		if !p.Live() {
			continue
		}
		l.exposure += p.Exposure()
		l.tickers[p.Ticker] += p.Contracts
	}
	for _, h := range l.holds {
		l.tickers[h.ticker] += h.contracts
	}
}

// Closed books a closing fill: exposure freed at entry cost, proceeds back to cash.
func (l *Ledger) Closed(ticker string, contracts int, freed, proceeds domain.Cents) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exposure -= freed
	if l.exposure < 0 {
		l.exposure = 0
	}
	l.balance += proceeds
	l.tickers[ticker] -= contracts
	if l.tickers[ticker] <= 0 {
		delete(l.tickers, ticker)
	}
}

// Settled books a settlement payout for the remaining contracts.
func (l *Ledger) Settled(ticker string, contracts int, freed, payout domain.Cents) {
	l.Closed(ticker, contracts, freed, payout)
}

func (l *Ledger) snapshotLocked() domain.CapitalState {
	return domain.CapitalState{
		Balance:      l.balance,
		OpenExposure: l.exposure,
		Reserved:     l.reserved,
	}
}
