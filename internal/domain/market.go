package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Cents es la unidad de precio y P&L. Un contrato ganador liquida a 100.
type Cents int64

// Payout es lo que paga un contrato ganador al liquidar.
const Payout Cents = 100

// Probability convierte un precio en probabilidad implícita del mercado (exacto: cents/100).
func (c Cents) Probability() float64 {
	return float64(c) / 100
}

// Dollars devuelve el importe en dólares sin pérdida de precisión.
func (c Cents) Dollars() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String formatea como "$12.34" (o "-$12.34").
func (c Cents) String() string {
	d := c.Dollars()
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

// Side es el lado de un contrato binario. Es una variante cerrada: solo Yes o No.
type Side uint8

const (
	SideYes Side = iota + 1
	SideNo
)

// ParseSide acepta "yes" o "no"; cualquier otro valor es error.
func ParseSide(s string) (Side, error) {
	switch s {
	case "yes", "YES", "Yes":
		return SideYes, nil
	case "no", "NO", "No":
		return SideNo, nil
	}
	return 0, fmt.Errorf("domain.ParseSide: unknown side %q", s)
}

func (s Side) String() string {
	switch s {
	case SideYes:
		return "yes"
	case SideNo:
		return "no"
	}
	return fmt.Sprintf("side(%d)", uint8(s))
}

// Valid reports whether s is one of the two declared sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Opposite devuelve el otro lado del contrato.
func (s Side) Opposite() Side {
	switch s {
	case SideYes:
		return SideNo
	case SideNo:
		return SideYes
	}
	return 0
}

// Action distingue una entrada de un cierre. Un cierre nunca puede aumentar contratos.
type Action uint8

const (
	ActionOpen Action = iota + 1
	ActionClose
)

// ParseAction acepta "open" o "close".
func ParseAction(s string) (Action, error) {
	switch s {
	case "open":
		return ActionOpen, nil
	case "close":
		return ActionClose, nil
	}
	return 0, fmt.Errorf("domain.ParseAction: unknown action %q", s)
}

func (a Action) String() string {
	switch a {
	case ActionOpen:
		return "open"
	case ActionClose:
		return "close"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// Valid reports whether a is one of the two declared actions.
func (a Action) Valid() bool {
	return a == ActionOpen || a == ActionClose
}

// ExchangeVerb maps an action to the exchange's order verb: opening buys the
// side, closing sells the same side.
func (a Action) ExchangeVerb() string {
	switch a {
	case ActionOpen:
		return "buy"
	case ActionClose:
		return "sell"
	}
	panic(fmt.Sprintf("domain: unmapped action %d", uint8(a)))
}

// Bracket es un rango mutuamente excluyente de valores de liquidación con su precio.
// Floor es inclusivo y Cap exclusivo; -Inf/+Inf marcan los brackets abiertos.
type Bracket struct {
	Ticker      string
	EventTicker string
	Subject     string
	Period      Period
	Date        time.Time // fecha de liquidación (local del sujeto, a medianoche)
	Floor       float64
	Cap         float64
	YesBid      Cents
	YesAsk      Cents
	NoBid       Cents
	NoAsk       Cents
	Status      string
}

// Contains reports whether v settles inside the bracket.
func (b Bracket) Contains(v float64) bool {
	return v >= b.Floor && v < b.Cap
}

// OpenLow es el bracket inferior ("menos de X").
func (b Bracket) OpenLow() bool { return math.IsInf(b.Floor, -1) }

// OpenHigh es el bracket superior ("más de X").
func (b Bracket) OpenHigh() bool { return math.IsInf(b.Cap, 1) }

// Ask devuelve el precio al que se compra el lado dado.
// Si el exchange no publica el ask de NO, se deriva del bid de YES.
func (b Bracket) Ask(side Side) Cents {
	switch side {
	case SideYes:
		return b.YesAsk
	case SideNo:
		if b.NoAsk > 0 {
			return b.NoAsk
		}
		if b.YesBid > 0 {
			return Payout - b.YesBid
		}
	}
	return 0
}

// Bid devuelve el precio al que se vende el lado dado.
func (b Bracket) Bid(side Side) Cents {
	switch side {
	case SideYes:
		return b.YesBid
	case SideNo:
		if b.NoBid > 0 {
			return b.NoBid
		}
		if b.YesAsk > 0 && b.YesAsk < Payout {
			return Payout - b.YesAsk
		}
	}
	return 0
}

// Illiquid is true when nobody bids YES and the ask is pinned at 100.
func (b Bracket) Illiquid() bool {
	return b.YesBid == 0 && (b.YesAsk == 0 || b.YesAsk >= Payout)
}

// Label formatea los límites para logs y reportes.
func (b Bracket) Label() string {
	switch {
	case b.OpenLow():
		return fmt.Sprintf("<%.1f", b.Cap)
	case b.OpenHigh():
		return fmt.Sprintf(">=%.1f", b.Floor)
	default:
		return fmt.Sprintf("[%.1f,%.1f)", b.Floor, b.Cap)
	}
}
