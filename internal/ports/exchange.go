package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// Exchange is the market venue: quotes, orders and settlement notices.
type Exchange interface {
	// Quotes returns every bracket of the (subject, period, date) event.
	Quotes(ctx context.Context, subject domain.Subject, period domain.Period, date time.Time) ([]domain.Bracket, error)

	// Quote refreshes a single bracket by ticker.
	Quote(ctx context.Context, ticker string) (domain.Bracket, error)

	// SubmitOrder sends one limit order. It is never retried blindly by the adapter.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)

	// OrderByClientID looks up an earlier submission. found=false means the
	// exchange never saw it.
	OrderByClientID(ctx context.Context, clientOrderID string) (result domain.OrderResult, found bool, err error)

	// Settlement returns the resolution of an event; Final=false while pending.
	Settlement(ctx context.Context, subject domain.Subject, period domain.Period, date time.Time) (domain.Settlement, error)

	// Balance returns available cash in cents.
	Balance(ctx context.Context) (domain.Cents, error)
}
