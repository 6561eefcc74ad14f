package kalshi

// DTOs raw de la API de Kalshi. La conversión a domain se hace en mapping.go.

// market es un bracket de un evento. Los precios vienen en centavos.
type market struct {
	Ticker          string   `json:"ticker"`
	EventTicker     string   `json:"event_ticker"`
	Status          string   `json:"status"` // active | closed | settled | finalized
	YesBid          int64    `json:"yes_bid"`
	YesAsk          int64    `json:"yes_ask"`
	NoBid           int64    `json:"no_bid"`
	NoAsk           int64    `json:"no_ask"`
	StrikeType      string   `json:"strike_type"`
	FloorStrike     *float64 `json:"floor_strike"`
	CapStrike       *float64 `json:"cap_strike"`
	Result          string   `json:"result"` // "yes" | "no" | ""
	ExpirationValue string   `json:"expiration_value"`
}

type marketsResponse struct {
	Markets []market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

type marketResponse struct {
	Market market `json:"market"`
}

// orderRequest es el body de POST /portfolio/orders.
type orderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Action        string `json:"action"` // buy | sell
	Side          string `json:"side"`   // yes | no
	Count         int    `json:"count"`
	Type          string `json:"type"`
	YesPrice      int64  `json:"yes_price,omitempty"`
	NoPrice       int64  `json:"no_price,omitempty"`
	TimeInForce   string `json:"time_in_force"`
}

type order struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Status         string `json:"status"` // resting | canceled | executed | pending
	Side           string `json:"side"`
	Action         string `json:"action"`
	FillCount      int    `json:"fill_count"`
	RemainingCount int    `json:"remaining_count"`
	TakerFillCost  int64  `json:"taker_fill_cost"`
	MakerFillCost  int64  `json:"maker_fill_cost"`
}

type orderResponse struct {
	Order order `json:"order"`
}

type ordersResponse struct {
	Orders []order `json:"orders"`
	Cursor string  `json:"cursor"`
}

type balanceResponse struct {
	Balance int64 `json:"balance"` // centavos
}
