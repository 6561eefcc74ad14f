package domain

// CapitalState is a snapshot of the process-wide ledger.
type CapitalState struct {
	Balance      Cents
	OpenExposure Cents
	Reserved     Cents // aprobado y en vuelo, todavía sin fill
}

// Committed is exposure plus in-flight reservations.
func (c CapitalState) Committed() Cents {
	return c.OpenExposure + c.Reserved
}
