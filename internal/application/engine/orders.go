package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// errOrderStateUnknown: la orden pudo llegar al exchange y no se pudo comprobar.
var errOrderStateUnknown = errors.New("order state unknown")

// clientOrderID is deterministic in the signal's dedup key and action, so
// a resubmission carries the same id as the first attempt.
func clientOrderID(sig domain.Signal) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(sig.DedupKey()+"|"+sig.Action.String())).String()
}

// submit sends one order. An ambiguous failure (transport error, timeout) is
// never retried blindly: the exchange is asked for the client order id first,
// and only an order it never saw is sent again, once.
//
// The submission is detached from the cycle budget: an order in flight
// finishes even if the cycle overran.
func (e *Engine) submit(ctx context.Context, sig domain.Signal, contracts int) (domain.OrderResult, error) {
	req := domain.OrderRequest{
		ClientOrderID: clientOrderID(sig),
		Ticker:        sig.Bracket.Ticker,
		Side:          sig.Side,
		Action:        sig.Action,
		Contracts:     contracts,
		LimitPrice:    sig.LimitPrice,
	}
	base := context.WithoutCancel(ctx)

	res, err := e.sendOnce(base, req)
	if err == nil {
		return e.accepted(req, res)
	}

	slog.Warn("engine: ambiguous submission, checking order state",
		"ticker", req.Ticker,
		"client_order_id", req.ClientOrderID,
		"err", err,
	)
	lookupCtx, cancel := context.WithTimeout(base, e.cfg.CallTimeout)
	prior, found, lookupErr := e.deps.Exchange.OrderByClientID(lookupCtx, req.ClientOrderID)
	cancel()
	if lookupErr != nil {
		return domain.OrderResult{}, fmt.Errorf("engine.submit: %s: %w", req.Ticker,
			errors.Join(errOrderStateUnknown, err, lookupErr))
	}
	if found {
		slog.Info("engine: order found after ambiguous submission", "ticker", req.Ticker, "order_id", prior.OrderID)
		return e.accepted(req, prior)
	}

	res, err = e.sendOnce(base, req)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("engine.submit: %s: retry: %w", req.Ticker,
			errors.Join(errOrderStateUnknown, err))
	}
	return e.accepted(req, res)
}

func (e *Engine) sendOnce(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	defer cancel()
	res, err := e.deps.Exchange.SubmitOrder(sctx, req)
	e.metrics.OrderSubmitted(req.Action, err == nil && res.Accepted())
	return res, err
}

func (e *Engine) accepted(req domain.OrderRequest, res domain.OrderResult) (domain.OrderResult, error) {
	if !res.Accepted() {
		return res, fmt.Errorf("engine.submit: %s: %s: %w", req.Ticker, res.RejectReason, domain.ErrOrderRejected)
	}
	slog.Info("engine: order accepted",
		"ticker", req.Ticker,
		"side", req.Side,
		"verb", req.Action.ExchangeVerb(),
		"contracts", req.Contracts,
		"limit", req.LimitPrice,
		"filled", res.FilledContracts,
		"order_id", res.OrderID,
	)
	return res, nil
}

// fill builds the position fill from an order result.
func fill(sig domain.Signal, res domain.OrderResult, contracts int) domain.Fill {
	price := res.AvgFillPrice
	if price <= 0 {
		price = sig.LimitPrice
	}
	return domain.Fill{
		OrderID:   res.OrderID,
		Bracket:   sig.Bracket,
		Side:      sig.Side,
		Action:    sig.Action,
		Contracts: contracts,
		Price:     price,
		At:        sig.CreatedAt,
	}
}
