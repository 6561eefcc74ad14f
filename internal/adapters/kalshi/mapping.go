package kalshi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// toBracket convierte un market de la API al bracket de dominio. Los strikes
// de la API tienen prioridad sobre el sufijo del ticker.
func toBracket(m market, ref seriesRef) (domain.Bracket, error) {
	floor, ceiling, err := domain.BoundsFromStrikes(m.StrikeType, m.FloorStrike, m.CapStrike)
	if err != nil {
		floor, ceiling, err = domain.BoundsFromTicker(m.Ticker)
		if err != nil {
			return domain.Bracket{}, fmt.Errorf("kalshi: %s: %w", m.Ticker, err)
		}
	}
	event := m.EventTicker
	if event == "" {
		event = eventOf(m.Ticker)
	}
	date, err := domain.ParseEventDate(event, ref.subject.Location)
	if err != nil {
		return domain.Bracket{}, fmt.Errorf("kalshi: %s: %w", m.Ticker, err)
	}
	return domain.Bracket{
		Ticker:      m.Ticker,
		EventTicker: event,
		Subject:     ref.subject.Code,
		Period:      ref.period,
		Date:        date,
		Floor:       floor,
		Cap:         ceiling,
		YesBid:      domain.Cents(m.YesBid),
		YesAsk:      domain.Cents(m.YesAsk),
		NoBid:       domain.Cents(m.NoBid),
		NoAsk:       domain.Cents(m.NoAsk),
		Status:      m.Status,
	}, nil
}

// eventOf strips the bracket suffix: "KXHIGHNY-26JUL10-T88" → "KXHIGHNY-26JUL10".
func eventOf(ticker string) string {
	if i := strings.LastIndex(ticker, "-"); i > 0 && strings.Count(ticker, "-") >= 2 {
		return ticker[:i]
	}
	return ticker
}

// seriesOf returns the series prefix of a ticker.
func seriesOf(ticker string) string {
	series, _, _ := strings.Cut(ticker, "-")
	return series
}

func settled(m market) bool {
	return (m.Status == "settled" || m.Status == "finalized") && m.Result != ""
}

// toOrderResult mapea la orden de la API. El precio medio sale del coste
// total de los fills.
func toOrderResult(o order) domain.OrderResult {
	res := domain.OrderResult{
		OrderID:         o.OrderID,
		ClientOrderID:   o.ClientOrderID,
		FilledContracts: o.FillCount,
	}
	switch o.Status {
	case "executed":
		res.Status = domain.OrderExecuted
	case "canceled":
		res.Status = domain.OrderCanceled
	case "resting", "pending":
		res.Status = domain.OrderResting
	default:
		res.Status = domain.OrderRejected
		res.RejectReason = "status " + o.Status
	}
	if o.FillCount > 0 {
		cost := o.TakerFillCost + o.MakerFillCost
		res.AvgFillPrice = domain.Cents((cost + int64(o.FillCount)/2) / int64(o.FillCount))
	}
	return res
}

// parseValue lee expiration_value ("88", "88.0"); vacío si no se publicó.
func parseValue(s string) *float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "°"))
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
