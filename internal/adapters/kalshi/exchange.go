// Package kalshi implements ports.Exchange over the Kalshi trade API:
// bracket quotes per event, signed IOC limit orders, order lookup by client
// id, balance and event settlement.
package kalshi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

const (
	pageLimit = 200
	maxPages  = 5
)

// Quotes returns every bracket of the (subject, period, date) event.
func (c *Client) Quotes(ctx context.Context, s domain.Subject, period domain.Period, date time.Time) ([]domain.Bracket, error) {
	event := domain.EventTicker(s.Series(period), s.Day(date))
	markets, err := c.listMarkets(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("kalshi.Quotes: %s: %w", event, err)
	}

	ref := seriesRef{subject: s, period: period}
	brackets := make([]domain.Bracket, 0, len(markets))
	for _, m := range markets {
		b, err := toBracket(m, ref)
		if err != nil {
			slog.Debug("kalshi: market skipped", "ticker", m.Ticker, "err", err)
			continue
		}
		brackets = append(brackets, b)
	}
	slog.Debug("kalshi: quotes", "event", event, "markets", len(markets), "brackets", len(brackets))
	return brackets, nil
}

// Quote refreshes one bracket by ticker. Only series of configured subjects resolve.
func (c *Client) Quote(ctx context.Context, ticker string) (domain.Bracket, error) {
	ref, ok := c.series[seriesOf(ticker)]
	if !ok {
		return domain.Bracket{}, fmt.Errorf("kalshi.Quote: %s: unknown series: %w", ticker, domain.ErrNotFound)
	}
	var resp marketResponse
	if err := c.get(ctx, "/markets/"+url.PathEscape(ticker), false, &resp); err != nil {
		if statusCode(err) == http.StatusNotFound {
			return domain.Bracket{}, fmt.Errorf("kalshi.Quote: %s: %w", ticker, domain.ErrNotFound)
		}
		return domain.Bracket{}, fmt.Errorf("kalshi.Quote: %s: %w", ticker, err)
	}
	b, err := toBracket(resp.Market, ref)
	if err != nil {
		return domain.Bracket{}, fmt.Errorf("kalshi.Quote: %w", err)
	}
	return b, nil
}

// SubmitOrder sends one immediate-or-cancel limit order. A 4xx answer is an
// explicit rejection; transport errors and 5xx are returned as errors and
// leave the order state unknown to the caller.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if !req.Side.Valid() || !req.Action.Valid() || req.Contracts <= 0 {
		return domain.OrderResult{}, fmt.Errorf("kalshi.SubmitOrder: %s: malformed request", req.Ticker)
	}
	body := orderRequest{
		Ticker:        req.Ticker,
		ClientOrderID: req.ClientOrderID,
		Action:        req.Action.ExchangeVerb(),
		Side:          req.Side.String(),
		Count:         req.Contracts,
		Type:          "limit",
		TimeInForce:   "immediate_or_cancel",
	}
	if req.Side == domain.SideYes {
		body.YesPrice = int64(req.LimitPrice)
	} else {
		body.NoPrice = int64(req.LimitPrice)
	}

	var resp orderResponse
	err := c.post(ctx, "/portfolio/orders", body, &resp)
	switch code := statusCode(err); {
	case err == nil:
		res := toOrderResult(resp.Order)
		if res.ClientOrderID == "" {
			res.ClientOrderID = req.ClientOrderID
		}
		return res, nil
	case code == http.StatusConflict:
		// client_order_id ya usado: la orden existe, se devuelve su estado
		prior, found, lerr := c.OrderByClientID(ctx, req.ClientOrderID)
		if lerr != nil || !found {
			return domain.OrderResult{}, fmt.Errorf("kalshi.SubmitOrder: %s: duplicate client id: %w", req.Ticker, errors.Join(err, lerr))
		}
		return prior, nil
	case code >= 400 && code < 500 && code != http.StatusTooManyRequests:
		var se *statusError
		errors.As(err, &se)
		return domain.OrderResult{
			ClientOrderID: req.ClientOrderID,
			Status:        domain.OrderRejected,
			RejectReason:  se.body,
		}, nil
	default:
		return domain.OrderResult{}, fmt.Errorf("kalshi.SubmitOrder: %s: %w", req.Ticker, err)
	}
}

// OrderByClientID scans the recent orders for clientOrderID.
func (c *Client) OrderByClientID(ctx context.Context, clientOrderID string) (domain.OrderResult, bool, error) {
	cursor := ""
	for page := 0; page < maxPages; page++ {
		q := url.Values{"limit": {fmt.Sprint(pageLimit)}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp ordersResponse
		if err := c.get(ctx, "/portfolio/orders?"+q.Encode(), true, &resp); err != nil {
			return domain.OrderResult{}, false, fmt.Errorf("kalshi.OrderByClientID: %w", err)
		}
		for _, o := range resp.Orders {
			if o.ClientOrderID == clientOrderID {
				return toOrderResult(o), true, nil
			}
		}
		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}
	return domain.OrderResult{}, false, nil
}

// Settlement resolves an event. It is Final only once every bracket has settled.
func (c *Client) Settlement(ctx context.Context, s domain.Subject, period domain.Period, date time.Time) (domain.Settlement, error) {
	day := s.Day(date)
	event := domain.EventTicker(s.Series(period), day)
	markets, err := c.listMarkets(ctx, event)
	if err != nil {
		return domain.Settlement{}, fmt.Errorf("kalshi.Settlement: %s: %w", event, err)
	}

	st := domain.Settlement{
		Subject: s.Code,
		Period:  period,
		Date:    day,
		Results: make(map[string]domain.Side, len(markets)),
		Final:   len(markets) > 0,
	}
	for _, m := range markets {
		if !settled(m) {
			st.Final = false
			continue
		}
		side, err := domain.ParseSide(m.Result)
		if err != nil {
			slog.Warn("kalshi: unknown result", "ticker", m.Ticker, "result", m.Result)
			st.Final = false
			continue
		}
		st.Results[m.Ticker] = side
		if st.Value == nil {
			st.Value = parseValue(m.ExpirationValue)
		}
	}
	return st, nil
}

// Balance returns available cash in cents.
func (c *Client) Balance(ctx context.Context) (domain.Cents, error) {
	var resp balanceResponse
	if err := c.get(ctx, "/portfolio/balance", true, &resp); err != nil {
		return 0, fmt.Errorf("kalshi.Balance: %w", err)
	}
	return domain.Cents(resp.Balance), nil
}

// listMarkets pagina GET /markets del evento.
func (c *Client) listMarkets(ctx context.Context, event string) ([]market, error) {
	var all []market
	cursor := ""
	for page := 0; page < maxPages; page++ {
		q := url.Values{"event_ticker": {event}, "limit": {fmt.Sprint(pageLimit)}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp marketsResponse
		if err := c.get(ctx, "/markets?"+q.Encode(), false, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Markets...)
		if resp.Cursor == "" || len(resp.Markets) == 0 {
			break
		}
		cursor = resp.Cursor
	}
	return all, nil
}
