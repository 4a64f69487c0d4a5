package trading

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trade-core/src/engine"
	"trade-core/src/pnl"
	"trade-core/src/position"
	"trade-core/src/snapshot"
)

// Hook receives the state touched by each processed order or mark. It must
// not block.
type Hook interface {
	Offer(batch snapshot.Batch) bool
}

type OrderRequest struct {
	OrderID   string
	AccountID string
	Symbol    string
	Side      engine.Side
	Quantity  int64
	Price     decimal.Decimal
}

type Execution struct {
	Order engine.Order
	Fills []engine.Fill
}

func (x *Execution) FilledQuantity() int64 {
	var total int64
	for _, f := range x.Fills {
		total += f.Quantity
	}
	return total
}

// Engine is the single writer for one symbol. Book, positions and PnL are
// only mutated under mu, so readers never see a fill in the book that has
// not reached positions and PnL.
type Engine struct {
	symbol string

	mu        sync.RWMutex
	book      *engine.OrderBook
	positions *position.Tracker
	pnl       *pnl.Engine
	halted    error

	ids  *orderIndex
	hook Hook
	log  zerolog.Logger
	now  func() time.Time
}

func NewEngine(symbol string, log zerolog.Logger, hook Hook) *Engine {
	log = log.With().Str("symbol", symbol).Logger()
	return &Engine{
		symbol:    symbol,
		book:      engine.NewOrderBook(symbol),
		positions: position.NewTracker(),
		pnl:       pnl.NewEngine(log.With().Str("component", "pnl").Logger()),
		hook:      hook,
		log:       log,
		now:       time.Now,
	}
}

func (e *Engine) Symbol() string {
	return e.symbol
}

// SubmitOrder matches the order and books every resulting fill into
// positions and PnL before returning. On an InconsistencyError the returned
// Execution still carries every fill the book produced.
func (e *Engine) SubmitOrder(req OrderRequest) (*Execution, error) {
	if strings.TrimSpace(req.AccountID) == "" {
		return nil, &engine.InvalidOrderError{OrderID: req.OrderID, Field: "account_id", Reason: "is required"}
	}
	if req.Symbol == "" {
		req.Symbol = e.symbol
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted != nil {
		return nil, &HaltedError{Symbol: e.symbol, Cause: e.halted}
	}

	var fresh bool
	if req.OrderID != "" {
		var owner string
		if owner, fresh = e.ids.claim(req.OrderID, e.symbol); owner != e.symbol {
			return nil, &engine.InvalidOrderError{OrderID: req.OrderID, Field: "order_id", Reason: "already resting on " + owner}
		}
	}

	result, err := e.book.Submit(engine.NewOrder(req.OrderID, req.AccountID, req.Symbol, req.Side, req.Price, req.Quantity))
	if err != nil {
		if fresh {
			e.ids.release(req.OrderID, e.symbol)
		}
		e.log.Warn().
			Err(err).
			Str("account_id", req.AccountID).
			Str("side", req.Side.String()).
			Int64("quantity", req.Quantity).
			Str("price", req.Price.String()).
			Msg("Order rejected")
		return nil, err
	}

	e.track(result)

	exec := &Execution{Order: result.Order, Fills: result.Fills}
	batch := snapshot.Batch{
		Symbol:    e.symbol,
		Reason:    snapshot.ReasonOrder,
		Fills:     result.Fills,
		CreatedAt: e.now(),
	}

	err = e.settle(result.Fills, &batch)
	e.offer(batch)
	if err != nil {
		e.halted = err
		e.log.Error().
			Err(err).
			Str("order_id", result.Order.ID).
			Int("fills", len(result.Fills)).
			Msg("Fill could not be booked, halting symbol")
		return exec, err
	}

	e.log.Debug().
		Str("order_id", result.Order.ID).
		Str("account_id", req.AccountID).
		Str("status", string(result.Order.Status)).
		Int("fills", len(result.Fills)).
		Int64("remaining", result.Order.Remaining).
		Msg("Order processed")

	return exec, nil
}

// settle applies fills in book order: both legs to positions, then both
// legs to PnL. A panic downstream is reported as an inconsistency.
func (e *Engine) settle(fills []engine.Fill, batch *snapshot.Batch) (err error) {
	var current engine.Fill
	stage := "position"
	defer func() {
		if r := recover(); r != nil {
			err = &InconsistencyError{Symbol: e.symbol, FillID: current.ID, Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	touched := make(map[position.Key]struct{})
	for _, f := range fills {
		current = f
		stage = "position"
		if f.Symbol != e.symbol {
			return &InconsistencyError{Symbol: e.symbol, FillID: f.ID, Stage: "book", Err: fmt.Errorf("fill for %s", f.Symbol)}
		}

		legs := [2]struct {
			account string
			side    engine.Side
		}{
			{f.MakerAccountID, f.MakerSide()},
			{f.TakerAccountID, f.TakerSide},
		}

		var changes [2]position.Change
		for i, leg := range legs {
			change, applyErr := e.positions.Apply(f, leg.account, leg.side)
			if applyErr != nil {
				return &InconsistencyError{Symbol: e.symbol, FillID: f.ID, Stage: stage, Err: applyErr}
			}
			changes[i] = change
		}

		stage = "pnl"
		for _, change := range changes {
			e.pnl.OnFill(change)
			touched[position.Key{AccountID: change.AccountID, Symbol: change.Symbol}] = struct{}{}
		}

		e.log.Debug().
			Str("fill_id", f.ID).
			Str("maker_order_id", f.MakerOrderID).
			Str("taker_order_id", f.TakerOrderID).
			Str("price", f.Price.String()).
			Int64("quantity", f.Quantity).
			Msg("Fill booked")
	}

	for key := range touched {
		batch.Positions = append(batch.Positions, e.positions.Get(key.AccountID, key.Symbol))
		batch.PnL = append(batch.PnL, e.pnl.Record(key.AccountID, key.Symbol))
	}
	return nil
}

// track keeps the order index in step with the book: makers that left the
// book are released and a resting taker is registered.
func (e *Engine) track(result *engine.MatchResult) {
	for _, f := range result.Fills {
		if _, resting := e.book.Order(f.MakerOrderID); !resting {
			e.ids.release(f.MakerOrderID, e.symbol)
		}
	}
	if _, resting := e.book.Order(result.Order.ID); resting {
		e.ids.claim(result.Order.ID, e.symbol)
	} else {
		e.ids.release(result.Order.ID, e.symbol)
	}
}

func (e *Engine) offer(batch snapshot.Batch) {
	if e.hook == nil {
		return
	}
	e.hook.Offer(batch)
}

// CancelOrder removes a resting order. Unknown or terminal ids report false.
func (e *Engine) CancelOrder(orderID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted != nil {
		return false, &HaltedError{Symbol: e.symbol, Cause: e.halted}
	}

	ok := e.book.Cancel(orderID)
	if ok {
		e.ids.release(orderID, e.symbol)
		e.log.Info().Str("order_id", orderID).Msg("Order cancelled")
	}
	return ok, nil
}

// OnPriceUpdate revalues every open position in the symbol at mark.
func (e *Engine) OnPriceUpdate(mark decimal.Decimal) ([]pnl.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.halted != nil {
		return nil, &HaltedError{Symbol: e.symbol, Cause: e.halted}
	}

	records, err := e.pnl.OnPriceUpdate(e.symbol, mark)
	if err != nil {
		return nil, err
	}
	e.offer(snapshot.Batch{
		Symbol:    e.symbol,
		Reason:    snapshot.ReasonMark,
		PnL:       records,
		CreatedAt: e.now(),
	})
	return records, nil
}

func (e *Engine) BestBid() (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.BestBid()
}

func (e *Engine) BestAsk() (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.BestAsk()
}

func (e *Engine) Depth(levels int) (bids, asks []engine.LevelSnapshot) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Depth(levels)
}

func (e *Engine) Order(orderID string) (engine.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Order(orderID)
}

func (e *Engine) RestingOrders() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Len()
}

func (e *Engine) SnapshotPosition(accountID string) position.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.positions.Get(accountID, e.symbol)
}

func (e *Engine) SnapshotPnL(accountID string) pnl.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pnl.Record(accountID, e.symbol)
}

func (e *Engine) Positions() []position.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.positions.Positions()
}

func (e *Engine) Records() []pnl.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pnl.Records()
}

func (e *Engine) Mark() (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pnl.Mark(e.symbol)
}

// TotalPnL is the symbol's realized plus unrealized PnL for accountID, or
// for all accounts when accountID is empty.
func (e *Engine) TotalPnL(accountID string) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pnl.TotalPnL(accountID)
}

// Halted returns the error that stopped the symbol, if any.
func (e *Engine) Halted() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}
