package domain

import "time"

// OrderStatus is the exchange-side lifecycle of an order.
type OrderStatus string

const (
	OrderResting  OrderStatus = "resting"
	OrderExecuted OrderStatus = "executed"
	OrderCanceled OrderStatus = "canceled"
	OrderRejected OrderStatus = "rejected"
)

// OrderRequest is a limit order sent to the exchange. ClientOrderID is
// derived from the signal so a resubmission can be matched to the first try.
type OrderRequest struct {
	ClientOrderID string
	Ticker        string
	Side          Side
	Action        Action
	Contracts     int
	LimitPrice    Cents
}

// OrderResult is the exchange's answer to a submission or a lookup.
type OrderResult struct {
	OrderID         string
	ClientOrderID   string
	Status          OrderStatus
	FilledContracts int
	AvgFillPrice    Cents
	RejectReason    string
}

// Accepted reports whether the exchange took the order.
func (r OrderResult) Accepted() bool {
	return r.Status != OrderRejected && r.Status != ""
}

// Fill is an execution applied to a position.
type Fill struct {
	OrderID   string
	Bracket   Bracket
	Side      Side
	Action    Action
	Contracts int
	Price     Cents
	At        time.Time
}

// Settlement is the exchange's confirmed resolution of one event.
type Settlement struct {
	Subject string
	Period  Period
	Date    time.Time
	Value   *float64        // valor oficial si el exchange lo publica
	Results map[string]Side // ticker → lado ganador
	Final   bool
}

// Winner resolves the winning side of a bracket: the explicit result first,
// the settled value second.
func (s Settlement) Winner(b Bracket) (Side, bool) {
	if side, ok := s.Results[b.Ticker]; ok && side.Valid() {
		return side, true
	}
	if s.Value != nil {
		if b.Contains(*s.Value) {
			return SideYes, true
		}
		return SideNo, true
	}
	return 0, false
}
