package position

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/wxbot/internal/domain"
	"github.com/alejandrodnm/wxbot/internal/ports"
)

// El trigger rolling se evalúa sobre el P&L acumulado de la sesión (realizado
// + no realizado). El disparo sólo se consume cuando el cierre se llena
// (ConfirmRolling): entonces el siguiente umbral queda un target por encima
// del acumulado del disparo y oscilar alrededor del umbral ya cruzado no
// vuelve a disparar. Un cierre rechazado o sin fill vuelve a disparar en el
// siguiente ciclo mientras el cruce se mantenga.

func (m *Manager) session(t time.Time) string {
	return domain.DateKey(t.In(m.cfg.Location))
}

func (m *Manager) rollingState(ctx context.Context, session string) (ports.RollingState, error) {
	if m.st.Rolling == nil {
		return ports.RollingState{Session: session, NextThreshold: m.cfg.RollingTarget}, nil
	}
	st, ok, err := m.st.Rolling.RollingState(ctx, session)
	if err != nil {
		return ports.RollingState{}, fmt.Errorf("position: rolling state %s: %w", session, err)
	}
	if !ok {
		st = ports.RollingState{Session: session, NextThreshold: m.cfg.RollingTarget}
	}
	return st, nil
}

func (m *Manager) saveRolling(ctx context.Context, st ports.RollingState) error {
	if m.st.Rolling == nil {
		return nil
	}
	if err := m.st.Rolling.SaveRollingState(ctx, st); err != nil {
		return fmt.Errorf("position: save rolling state %s: %w", st.Session, err)
	}
	return nil
}

// rolling returns the position to close when the session P&L crossed the
// armed threshold, nil otherwise. Caller holds mu.
func (m *Manager) rolling(ctx context.Context, live []*domain.Position, quotes map[string]domain.Bracket, closing map[string]bool, now time.Time) (*domain.Position, error) {
	st, err := m.rollingState(ctx, m.session(now))
	if err != nil {
		return nil, err
	}
	delete(m.pending, st.Session)

	var unrealized domain.Cents
	var best *domain.Position
	var bestPnL domain.Cents
	for _, p := range live {
		b, ok := quotes[p.Ticker]
		if !ok {
			continue
		}
		bid := b.Bid(p.Side)
		if bid <= 0 {
			continue
		}
		pnl := p.UnrealizedPnL(bid)
		unrealized += pnl
		if p.Status != domain.StatusOpen || closing[p.Ticker] {
			continue
		}
		if pnl > 0 && (best == nil || pnl > bestPnL) {
			best, bestPnL = p, pnl
		}
	}

	cumulative := st.RealizedPnL + unrealized
	if cumulative < st.NextThreshold {
		return nil, nil
	}
	if best == nil {
		slog.Debug("position: rolling threshold crossed without a closable winner",
			"cumulative", cumulative.String(), "threshold", st.NextThreshold.String())
		return nil, nil
	}

	slog.Info("position: rolling profit-take",
		"session", st.Session,
		"cumulative", cumulative.String(),
		"threshold", st.NextThreshold.String(),
		"ticker", best.Ticker,
		"unrealized", bestPnL.String(),
	)
	m.pending[st.Session] = cumulative + m.cfg.RollingTarget
	return best, nil
}

// ConfirmRolling consumes the trigger fired in the session containing at,
// once its close has filled. Without a pending trigger it does nothing.
func (m *Manager) ConfirmRolling(ctx context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.session(at)
	next, ok := m.pending[session]
	if !ok {
		return nil
	}
	st, err := m.rollingState(ctx, session)
	if err != nil {
		return err
	}
	st.NextThreshold = next
	st.Fired++
	st.LastFiredAt = &at
	if err := m.saveRolling(ctx, st); err != nil {
		return err
	}
	delete(m.pending, session)
	slog.Info("position: rolling trigger re-armed", "session", session, "next", next.String(), "fired", st.Fired)
	return nil
}

// addRealized moves realized P&L into the session so a closed winner keeps
// counting toward the cumulative total. Caller holds mu.
func (m *Manager) addRealized(ctx context.Context, at time.Time, realized domain.Cents) error {
	if realized == 0 || m.st.Rolling == nil {
		return nil
	}
	st, err := m.rollingState(ctx, m.session(at))
	if err != nil {
		return err
	}
	st.RealizedPnL += realized
	return m.saveRolling(ctx, st)
}

// Rolling returns the persisted trigger of the session containing now.
func (m *Manager) Rolling(ctx context.Context, now time.Time) (ports.RollingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollingState(ctx, m.session(now))
}
