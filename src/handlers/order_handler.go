package handlers

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"trade-core/src/config"
	"trade-core/src/engine"
	"trade-core/src/models"
	"trade-core/src/pnl"
	"trade-core/src/snapshot"
	"trade-core/src/trading"
)

// FillReader serves recent fills for a symbol.
type FillReader interface {
	Recent(symbol string, limit int) ([]engine.Fill, error)
}

type SnapshotStats interface {
	Stats() snapshot.Stats
}

type OrderHandler struct {
	Exchange  *trading.Exchange
	Fills     FillReader
	Snapshots SnapshotStats
	StartTime time.Time

	OrdersReceived  int64
	OrdersRejected  int64
	OrdersMatched   int64
	OrdersCancelled int64
	FillsExecuted   int64
	PriceUpdates    int64

	latencies    []time.Duration
	latenciesMu  sync.RWMutex
	maxLatencies int

	defaultDepth int
	maxDepth     int
}

func NewOrderHandler(exchange *trading.Exchange, cfg config.API) *OrderHandler {
	maxLatencies := cfg.MaxLatencies
	if maxLatencies <= 0 {
		maxLatencies = 10000
	}
	return &OrderHandler{
		Exchange:     exchange,
		StartTime:    time.Now(),
		latencies:    make([]time.Duration, 0, maxLatencies),
		maxLatencies: maxLatencies,
		defaultDepth: max(cfg.DefaultDepth, 1),
		maxDepth:     max(cfg.MaxDepth, 1),
	}
}

func (h *OrderHandler) SubmitOrder(c *fiber.Ctx) error {
	var req models.SubmitOrderRequest

	if err := c.BodyParser(&req); err != nil {
		log.Warn().
			Err(err).
			Str("ip", c.IP()).
			Str("path", c.Path()).
			Msg("Invalid request: malformed JSON")
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid request: malformed JSON",
		})
	}

	side, err := engine.ParseSide(req.Side)
	if err != nil {
		atomic.AddInt64(&h.OrdersRejected, 1)
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid order: side must be BUY or SELL",
		})
	}

	atomic.AddInt64(&h.OrdersReceived, 1)
	startTime := time.Now()

	exec, err := h.Exchange.SubmitOrder(trading.OrderRequest{
		OrderID:   req.OrderID,
		AccountID: req.AccountID,
		Symbol:    strings.TrimSpace(req.Symbol),
		Side:      side,
		Quantity:  req.Quantity,
		Price:     req.Price,
	})

	h.recordLatency(time.Since(startTime))

	if err != nil {
		if errors.Is(err, engine.ErrInvalidOrder) {
			atomic.AddInt64(&h.OrdersRejected, 1)
		}
		// edge case: fills that reached the book are still reported when booking failed
		if exec != nil {
			atomic.AddInt64(&h.FillsExecuted, int64(len(exec.Fills)))
			log.Error().
				Err(err).
				Str("order_id", exec.Order.ID).
				Int("fills_count", len(exec.Fills)).
				Msg("Order executed but not booked")
			return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{
				Error: "Internal server error: order executed but fills were not booked",
				Fills: fillInfos(exec.Fills),
			})
		}
		return writeError(c, err)
	}

	fills := fillInfos(exec.Fills)
	filled := exec.FilledQuantity()
	response := models.SubmitOrderResponse{
		OrderID:           exec.Order.ID,
		Status:            string(exec.Order.Status),
		FilledQuantity:    filled,
		RemainingQuantity: exec.Order.Remaining,
		Fills:             fills,
	}

	if filled > 0 {
		atomic.AddInt64(&h.OrdersMatched, 1)
	}
	atomic.AddInt64(&h.FillsExecuted, int64(len(fills)))

	log.Info().
		Str("order_id", exec.Order.ID).
		Str("account_id", req.AccountID).
		Str("symbol", exec.Order.Symbol).
		Str("side", side.String()).
		Str("price", req.Price.String()).
		Str("status", string(exec.Order.Status)).
		Int64("filled_quantity", filled).
		Int64("remaining_quantity", exec.Order.Remaining).
		Int("fills_count", len(fills)).
		Msg("Order processed")

	switch exec.Order.Status {
	case engine.StatusResting:
		response.Message = "Order added to book"
		return c.Status(fiber.StatusCreated).JSON(response)
	case engine.StatusPartiallyFilled:
		return c.Status(fiber.StatusAccepted).JSON(response)
	default:
		return c.Status(fiber.StatusOK).JSON(response)
	}
}

func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	orderID := c.Params("id")

	ok, err := h.Exchange.CancelOrder(orderID)
	if !ok {
		if err != nil {
			return writeError(c, err)
		}
		log.Warn().
			Str("order_id", orderID).
			Str("ip", c.IP()).
			Msg("Cancel order: order not found")
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
			Error: "Order not found",
		})
	}

	atomic.AddInt64(&h.OrdersCancelled, 1)

	return c.Status(fiber.StatusOK).JSON(models.CancelOrderResponse{
		OrderID: orderID,
		Status:  string(engine.StatusCancelled),
	})
}

func (h *OrderHandler) GetOrderStatus(c *fiber.Ctx) error {
	orderID := c.Params("id")

	order, ok := h.Exchange.Order(orderID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
			Error: "Order not found",
		})
	}

	return c.Status(fiber.StatusOK).JSON(models.OrderStatusResponse{
		OrderID:        order.ID,
		AccountID:      order.AccountID,
		Symbol:         order.Symbol,
		Side:           order.Side.String(),
		Price:          order.Price,
		Quantity:       order.Quantity,
		FilledQuantity: order.FilledQuantity(),
		Status:         string(order.Status),
		Timestamp:      order.Timestamp,
	})
}

func (h *OrderHandler) GetOrderBook(c *fiber.Ctx) error {
	symbol := c.Params("symbol")

	depth, err := strconv.Atoi(c.Query("depth", strconv.Itoa(h.defaultDepth)))
	if err != nil || depth <= 0 {
		depth = h.defaultDepth
	}

	// edge case: enforce maximum depth limit
	if depth > h.maxDepth {
		depth = h.maxDepth
	}

	response := models.OrderBookResponse{
		Symbol:    symbol,
		Timestamp: time.Now().UnixMilli(),
		Bids:      []models.PriceLevelInfo{},
		Asks:      []models.PriceLevelInfo{},
	}

	eng, ok := h.Exchange.Lookup(symbol)
	if !ok {
		return c.Status(fiber.StatusOK).JSON(response)
	}

	bids, asks := eng.Depth(depth)
	for _, level := range bids {
		response.Bids = append(response.Bids, models.PriceLevelInfo{Price: level.Price, Quantity: level.Quantity, Orders: level.Orders})
	}
	for _, level := range asks {
		response.Asks = append(response.Asks, models.PriceLevelInfo{Price: level.Price, Quantity: level.Quantity, Orders: level.Orders})
	}
	if bid, ok := eng.BestBid(); ok {
		response.BestBid = &bid
	}
	if ask, ok := eng.BestAsk(); ok {
		response.BestAsk = &ask
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

func (h *OrderHandler) HealthCheck(c *fiber.Ctx) error {
	halted := h.haltedSymbols()
	status := "healthy"
	if len(halted) > 0 {
		status = "degraded"
	}

	return c.Status(fiber.StatusOK).JSON(models.HealthResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(h.StartTime).Seconds()),
		OrdersInBook:  int64(h.Exchange.RestingOrders()),
		HaltedSymbols: halted,
	})
}

func (h *OrderHandler) Metrics(c *fiber.Ctx) error {
	p50, p99, p999 := h.calculateLatencyPercentiles()

	response := models.MetricsResponse{
		OrdersReceived:         atomic.LoadInt64(&h.OrdersReceived),
		OrdersRejected:         atomic.LoadInt64(&h.OrdersRejected),
		OrdersMatched:          atomic.LoadInt64(&h.OrdersMatched),
		OrdersCancelled:        atomic.LoadInt64(&h.OrdersCancelled),
		OrdersInBook:           int64(h.Exchange.RestingOrders()),
		FillsExecuted:          atomic.LoadInt64(&h.FillsExecuted),
		PriceUpdates:           atomic.LoadInt64(&h.PriceUpdates),
		LatencyP50Ms:           p50,
		LatencyP99Ms:           p99,
		LatencyP999Ms:          p999,
		ThroughputOrdersPerSec: h.calculateThroughput(),
		HaltedSymbols:          h.haltedSymbols(),
	}
	if h.Snapshots != nil {
		stats := h.Snapshots.Stats()
		response.SnapshotsQueued = stats.Queued
		response.SnapshotsDropped = stats.Dropped
		response.SnapshotsFailed = stats.Failed
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

func (h *OrderHandler) haltedSymbols() []string {
	halted := h.Exchange.Halted()
	out := make([]string, 0, len(halted))
	for symbol := range halted {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func fillInfos(fills []engine.Fill) []models.FillInfo {
	out := make([]models.FillInfo, 0, len(fills))
	for _, f := range fills {
		out = append(out, models.FillInfo{
			FillID:         f.ID,
			MakerOrderID:   f.MakerOrderID,
			MakerAccountID: f.MakerAccountID,
			Price:          f.Price,
			Quantity:       f.Quantity,
			Timestamp:      f.Timestamp,
		})
	}
	return out
}

func writeError(c *fiber.Ctx, err error) error {
	var status int
	message := err.Error()

	switch {
	case errors.Is(err, engine.ErrInvalidOrder), errors.Is(err, pnl.ErrInvalidMark):
		status = fiber.StatusBadRequest
		log.Warn().Err(err).Str("path", c.Path()).Msg("Request rejected")
	case errors.Is(err, trading.ErrSymbolHalted):
		status = fiber.StatusServiceUnavailable
		log.Warn().Err(err).Str("path", c.Path()).Msg("Symbol halted")
	default:
		status = fiber.StatusInternalServerError
		message = "Internal server error"
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}

	return c.Status(status).JSON(models.ErrorResponse{Error: message})
}

func decimalPtr(d decimal.Decimal, ok bool) *decimal.Decimal {
	if !ok {
		return nil
	}
	return &d
}
