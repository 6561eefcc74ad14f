// Package edge compares a distribution estimate with market prices and emits
// open signals where the model and the market disagree by more than the
// minimum edge in effect.
package edge

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// Config holds the bracket filters.
type Config struct {
	ProbFloor     float64
	ProbCeil      float64
	MinEntryPrice domain.Cents // no entry below this ask
	MinNoYesPrice domain.Cents // no NO entry while YES trades below this
	MinYesPrice   domain.Cents
	NoMargin      float64 // °F the mean must sit outside a bracket to buy its NO
}

// Decider reports which side a locked-in estimate makes certain for a bracket.
type Decider interface {
	Decisive(est domain.DistributionEstimate, b domain.Bracket) (domain.Side, bool)
}

// Input is one (subject, period, date) evaluation.
type Input struct {
	Estimate domain.DistributionEstimate
	Brackets []domain.Bracket
	MinEdge  float64
	Held     map[string]domain.Side // ticker → side of the live position
	CycleID  string
	Now      time.Time
}

// Quote is the raw edge of one bracket side before any filter.
type Quote struct {
	Bracket    domain.Bracket
	Side       domain.Side
	Price      domain.Cents
	ModelProb  float64
	MarketProb float64
	Edge       float64
}

// Calculator is stateless and safe for concurrent use.
type Calculator struct {
	cfg     Config
	decider Decider
}

// New creates a Calculator. decider may be nil when lock-in is disabled.
func New(cfg Config, decider Decider) *Calculator {
	if cfg.ProbFloor <= 0 {
		cfg.ProbFloor = 0.01
	}
	if cfg.ProbCeil <= 0 || cfg.ProbCeil > 1 {
		cfg.ProbCeil = 0.99
	}
	return &Calculator{cfg: cfg, decider: decider}
}

// Quotes computes model − market for both sides of every bracket. Sides
// without a purchasable ask are left out.
func (c *Calculator) Quotes(est domain.DistributionEstimate, brackets []domain.Bracket) []Quote {
	out := make([]Quote, 0, len(brackets)*2)
	for _, b := range brackets {
		p := domain.Clamp(domain.BracketProbability(est, b), c.cfg.ProbFloor, c.cfg.ProbCeil)
		for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
			price := b.Ask(side)
			if price <= 0 || price >= domain.Payout {
				continue
			}
			model := p
			if side == domain.SideNo {
				model = 1 - p
			}
			out = append(out, Quote{
				Bracket:    b,
				Side:       side,
				Price:      price,
				ModelProb:  model,
				MarketProb: price.Probability(),
				Edge:       model - price.Probability(),
			})
		}
	}
	return out
}

// Signals returns the open signals of the input, best edge first, at most one
// per bracket.
func (c *Calculator) Signals(in Input) []domain.Signal {
	var stats filterStats
	best := make(map[string]Quote)
	quotes := c.Quotes(in.Estimate, in.Brackets)
	for _, q := range quotes {
		if r := c.filter(in, q); r != passed {
			stats.record(r)
			continue
		}
		if prev, ok := best[q.Bracket.Ticker]; !ok || q.Edge > prev.Edge {
			best[q.Bracket.Ticker] = q
		}
	}

	reason := "model"
	if in.Estimate.LockedIn() {
		reason = "lock_in"
	}
	signals := make([]domain.Signal, 0, len(best))
	for _, q := range best {
		signals = append(signals, domain.Signal{
			ID:         uuid.NewString(),
			Subject:    in.Estimate.Subject,
			Period:     in.Estimate.Period,
			TargetDate: in.Estimate.TargetDate,
			Bracket:    q.Bracket,
			Side:       q.Side,
			Action:     domain.ActionOpen,
			EdgePct:    q.Edge,
			ModelProb:  q.ModelProb,
			MarketProb: q.MarketProb,
			Confidence: in.Estimate.Confidence,
			Basis:      in.Estimate.Basis,
			CycleID:    in.CycleID,
			CreatedAt:  in.Now,
			LimitPrice: q.Price,
			Reason:     reason,
		})
	}
	sort.Slice(signals, func(i, j int) bool {
		if signals[i].EdgePct != signals[j].EdgePct {
			return signals[i].EdgePct > signals[j].EdgePct
		}
		return signals[i].Bracket.Ticker < signals[j].Bracket.Ticker
	})

	stats.log(in.Estimate, len(quotes), len(signals))
	return signals
}

func (c *Calculator) filter(in Input, q Quote) skipReason {
	est, b := in.Estimate, q.Bracket
	lockedIn := est.LockedIn()

	switch b.Status {
	case "", "active", "open":
	default:
		return skipReasonClosed
	}
	if q.Edge <= in.MinEdge {
		return skipReasonEdge
	}
	if lockedIn {
		if c.decider == nil {
			return skipReasonUndecided
		}
		side, ok := c.decider.Decisive(est, b)
		if !ok || side != q.Side {
			return skipReasonUndecided
		}
	}
	if b.Illiquid() {
		return skipReasonIlliquid
	}
	if q.Price < c.cfg.MinEntryPrice {
		return skipReasonPrice
	}
	switch q.Side {
	case domain.SideYes:
		if q.Price < c.cfg.MinYesPrice {
			return skipReasonPrice
		}
	case domain.SideNo:
		if !lockedIn && b.YesAsk < c.cfg.MinNoYesPrice {
			return skipReasonNoCheapYes
		}
		if !lockedIn && est.Mean >= b.Floor-c.cfg.NoMargin && est.Mean < b.Cap+c.cfg.NoMargin {
			return skipReasonNoMargin
		}
	}
	if held, ok := in.Held[b.Ticker]; ok {
		if held != q.Side {
			return skipReasonOpposite
		}
		// Model signals never add; a lock-in may.
		if !lockedIn {
			return skipReasonHeld
		}
	}
	return passed
}

type skipReason int

const (
	passed skipReason = iota
	skipReasonClosed
	skipReasonEdge
	skipReasonUndecided
	skipReasonIlliquid
	skipReasonPrice
	skipReasonNoCheapYes
	skipReasonNoMargin
	skipReasonOpposite
	skipReasonHeld
)

type filterStats struct {
	closed, edge, undecided, illiquid, price int
	noCheapYes, noMargin, opposite, held     int
}

func (s *filterStats) record(r skipReason) {
	switch r {
	case skipReasonClosed:
		s.closed++
	case skipReasonEdge:
		s.edge++
	case skipReasonUndecided:
		s.undecided++
	case skipReasonIlliquid:
		s.illiquid++
	case skipReasonPrice:
		s.price++
	case skipReasonNoCheapYes:
		s.noCheapYes++
	case skipReasonNoMargin:
		s.noMargin++
	case skipReasonOpposite:
		s.opposite++
	case skipReasonHeld:
		s.held++
	}
}

func (s *filterStats) log(est domain.DistributionEstimate, total, emitted int) {
	slog.Debug("edge: bracket filters",
		"subject", est.Subject,
		"period", est.Period,
		"basis", est.Basis,
		"quotes", total,
		"skip_closed", s.closed,
		"skip_edge", s.edge,
		"skip_undecided", s.undecided,
		"skip_illiquid", s.illiquid,
		"skip_price", s.price,
		"skip_no_cheap_yes", s.noCheapYes,
		"skip_no_margin", s.noMargin,
		"skip_opposite", s.opposite,
		"skip_held", s.held,
		"signals", emitted,
	)
}
