package models

import "github.com/shopspring/decimal"

type SubmitOrderRequest struct {
	OrderID   string          `json:"order_id,omitempty"`
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"` // decimal string, e.g. "150.25"
	Quantity  int64           `json:"quantity"`
}

type SubmitOrderResponse struct {
	OrderID           string     `json:"order_id"`
	Status            string     `json:"status"`
	Message           string     `json:"message,omitempty"`
	FilledQuantity    int64      `json:"filled_quantity"`
	RemainingQuantity int64      `json:"remaining_quantity"`
	Fills             []FillInfo `json:"fills,omitempty"`
}

type FillInfo struct {
	FillID         string          `json:"fill_id"`
	MakerOrderID   string          `json:"maker_order_id"`
	MakerAccountID string          `json:"maker_account_id"`
	Price          decimal.Decimal `json:"price"`
	Quantity       int64           `json:"quantity"`
	Timestamp      int64           `json:"timestamp"` // unix nanos
}

type CancelOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type ErrorResponse struct {
	Error string     `json:"error"`
	Fills []FillInfo `json:"fills,omitempty"`
}

type OrderBookResponse struct {
	Symbol    string           `json:"symbol"`
	Timestamp int64            `json:"timestamp"` // unix timestamp in milliseconds
	BestBid   *decimal.Decimal `json:"best_bid"`
	BestAsk   *decimal.Decimal `json:"best_ask"`
	Bids      []PriceLevelInfo `json:"bids"` // sorted descending (highest first)
	Asks      []PriceLevelInfo `json:"asks"` // sorted ascending (lowest first)
}

type PriceLevelInfo struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"` // aggregated quantity at this price
	Orders   int             `json:"orders"`
}

type OrderStatusResponse struct {
	OrderID        string          `json:"order_id"`
	AccountID      string          `json:"account_id"`
	Symbol         string          `json:"symbol"`
	Side           string          `json:"side"`
	Price          decimal.Decimal `json:"price"`
	Quantity       int64           `json:"quantity"`
	FilledQuantity int64           `json:"filled_quantity"`
	Status         string          `json:"status"`
	Timestamp      int64           `json:"timestamp"` // unix nanos
}

type PriceUpdateRequest struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

type PriceUpdateResponse struct {
	Symbol          string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	UpdatedAccounts int             `json:"updated_accounts"`
}

type PositionResponse struct {
	AccountID     string           `json:"account_id"`
	Symbol        string           `json:"symbol"`
	NetQuantity   int64            `json:"net_quantity"`
	AverageCost   decimal.Decimal  `json:"average_cost"`
	Notional      *decimal.Decimal `json:"notional,omitempty"`
	UnrealizedPnL *decimal.Decimal `json:"unrealized_pnl,omitempty"`
}

type PnLResponse struct {
	AccountID     string           `json:"account_id"`
	Symbol        string           `json:"symbol"`
	RealizedPnL   decimal.Decimal  `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal  `json:"unrealized_pnl"`
	TotalPnL      decimal.Decimal  `json:"total_pnl"`
	LastMarkPrice *decimal.Decimal `json:"last_mark_price"`
}

type PnLSummaryResponse struct {
	AccountID string          `json:"account_id,omitempty"`
	TotalPnL  decimal.Decimal `json:"total_pnl"`
	Records   []PnLResponse   `json:"records"`
}

type FillsResponse struct {
	Symbol string     `json:"symbol"`
	Fills  []FillInfo `json:"fills"`
}

type HealthResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	OrdersInBook  int64    `json:"orders_in_book"`
	HaltedSymbols []string `json:"halted_symbols,omitempty"`
}

type MetricsResponse struct {
	OrdersReceived         int64    `json:"orders_received"`
	OrdersRejected         int64    `json:"orders_rejected"`
	OrdersMatched          int64    `json:"orders_matched"`
	OrdersCancelled        int64    `json:"orders_cancelled"`
	OrdersInBook           int64    `json:"orders_in_book"`
	FillsExecuted          int64    `json:"fills_executed"`
	PriceUpdates           int64    `json:"price_updates"`
	LatencyP50Ms           float64  `json:"latency_p50_ms"`
	LatencyP99Ms           float64  `json:"latency_p99_ms"`
	LatencyP999Ms          float64  `json:"latency_p999_ms"`
	ThroughputOrdersPerSec float64  `json:"throughput_orders_per_sec"`
	SnapshotsQueued        int      `json:"snapshots_queued"`
	SnapshotsDropped       int64    `json:"snapshots_dropped"`
	SnapshotsFailed        int64    `json:"snapshots_failed"`
	HaltedSymbols          []string `json:"halted_symbols"`
}
