package handlers

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"trade-core/src/models"
	"trade-core/src/pnl"
)

const (
	defaultFillsLimit = 100
	maxFillsLimit     = 1000
)

func (h *OrderHandler) UpdatePrice(c *fiber.Ctx) error {
	var req models.PriceUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid request: malformed JSON",
		})
	}

	symbol := strings.TrimSpace(req.Symbol)
	if symbol == "" {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Invalid price update: symbol is required",
		})
	}

	records, err := h.Exchange.OnPriceUpdate(symbol, req.Price)
	if err != nil {
		return writeError(c, err)
	}
	atomic.AddInt64(&h.PriceUpdates, 1)

	log.Debug().
		Str("symbol", symbol).
		Str("price", req.Price.String()).
		Int("accounts", len(records)).
		Msg("Mark price applied")

	return c.Status(fiber.StatusOK).JSON(models.PriceUpdateResponse{
		Symbol:          symbol,
		Price:           req.Price,
		UpdatedAccounts: len(records),
	})
}

func (h *OrderHandler) GetPosition(c *fiber.Ctx) error {
	accountID := c.Params("account")
	symbol := c.Params("symbol")

	pos := h.Exchange.Position(accountID, symbol)
	rec := h.Exchange.PnL(accountID, symbol)

	response := models.PositionResponse{
		AccountID:   accountID,
		Symbol:      symbol,
		NetQuantity: pos.NetQuantity,
		AverageCost: pos.AverageCost,
	}
	if rec.HasMark {
		notional := pos.Notional(rec.LastMarkPrice)
		unrealized := pos.UnrealizedAt(rec.LastMarkPrice)
		response.Notional = &notional
		response.UnrealizedPnL = &unrealized
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

func (h *OrderHandler) GetPnL(c *fiber.Ctx) error {
	rec := h.Exchange.PnL(c.Params("account"), c.Params("symbol"))
	return c.Status(fiber.StatusOK).JSON(pnlResponse(rec))
}

// GetPnLSummary totals PnL for ?account=, or for every account when absent.
func (h *OrderHandler) GetPnLSummary(c *fiber.Ctx) error {
	accountID := c.Query("account")

	records := h.Exchange.Records(accountID)
	response := models.PnLSummaryResponse{
		AccountID: accountID,
		TotalPnL:  h.Exchange.TotalPnL(accountID),
		Records:   make([]models.PnLResponse, 0, len(records)),
	}
	for _, rec := range records {
		response.Records = append(response.Records, pnlResponse(rec))
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

func (h *OrderHandler) GetFills(c *fiber.Ctx) error {
	// edge case: journal is optional
	if h.Fills == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error: "Fill journal is disabled",
		})
	}

	symbol := c.Params("symbol")
	limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(defaultFillsLimit)))
	if err != nil || limit <= 0 {
		limit = defaultFillsLimit
	}
	if limit > maxFillsLimit {
		limit = maxFillsLimit
	}

	fills, err := h.Fills.Recent(symbol, limit)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(models.FillsResponse{
		Symbol: symbol,
		Fills:  fillInfos(fills),
	})
}

func pnlResponse(rec pnl.Record) models.PnLResponse {
	return models.PnLResponse{
		AccountID:     rec.AccountID,
		Symbol:        rec.Symbol,
		RealizedPnL:   rec.RealizedPnL,
		UnrealizedPnL: rec.UnrealizedPnL,
		TotalPnL:      rec.Total(),
		LastMarkPrice: decimalPtr(rec.LastMarkPrice, rec.HasMark),
	}
}
