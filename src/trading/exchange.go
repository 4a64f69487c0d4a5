package trading

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trade-core/src/engine"
	"trade-core/src/pnl"
	"trade-core/src/position"
)

// Exchange routes requests to the per-symbol engines. Symbols never share
// state, so work on different symbols proceeds in parallel.
type Exchange struct {
	mu      sync.RWMutex
	engines map[string]*Engine
	allowed map[string]struct{}
	ids     *orderIndex

	hook Hook
	log  zerolog.Logger
}

// NewExchange accepts any symbol when symbols is empty; otherwise orders and
// marks for other symbols are rejected.
func NewExchange(log zerolog.Logger, hook Hook, symbols ...string) *Exchange {
	x := &Exchange{
		engines: make(map[string]*Engine),
		ids:     newOrderIndex(),
		hook:    hook,
		log:     log,
	}
	if len(symbols) > 0 {
		x.allowed = make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			s = strings.TrimSpace(s)
			if err := validSymbol(s); err != nil {
				log.Warn().Err(err).Str("symbol", s).Msg("Configured symbol skipped")
				continue
			}
			x.allowed[s] = struct{}{}
			x.engines[s] = x.newEngine(s)
		}
	}
	return x
}

func (x *Exchange) newEngine(symbol string) *Engine {
	eng := NewEngine(symbol, x.log, x.hook)
	eng.ids = x.ids
	return eng
}

// validSymbol rejects symbols that cannot be used as a storage key segment.
func validSymbol(symbol string) error {
	if symbol == "" {
		return &engine.InvalidOrderError{Field: "symbol", Reason: "is required"}
	}
	if strings.ContainsAny(symbol, "/ \t\n") {
		return &engine.InvalidOrderError{Field: "symbol", Reason: "must not contain '/' or whitespace"}
	}
	return nil
}

// admit reports whether symbol may be traded on this exchange.
func (x *Exchange) admit(symbol string) error {
	if err := validSymbol(symbol); err != nil {
		return err
	}
	if x.allowed != nil {
		if _, ok := x.allowed[symbol]; !ok {
			return &engine.InvalidOrderError{Field: "symbol", Reason: "unknown symbol " + symbol}
		}
	}
	return nil
}

// Engine returns the engine for symbol, creating it on first use.
func (x *Exchange) Engine(symbol string) (*Engine, error) {
	x.mu.RLock()
	if eng, ok := x.engines[symbol]; ok {
		x.mu.RUnlock()
		return eng, nil
	}
	x.mu.RUnlock()

	if err := x.admit(symbol); err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// edge case: double-check after acquiring write lock
	if eng, ok := x.engines[symbol]; ok {
		return eng, nil
	}

	eng := x.newEngine(symbol)
	x.engines[symbol] = eng
	x.log.Info().Str("symbol", symbol).Msg("Symbol engine created")
	return eng, nil
}

// Lookup returns the engine for symbol without creating it.
func (x *Exchange) Lookup(symbol string) (*Engine, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	eng, ok := x.engines[symbol]
	return eng, ok
}

func (x *Exchange) engineSnapshot() []*Engine {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]*Engine, 0, len(x.engines))
	for _, eng := range x.engines {
		out = append(out, eng)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].symbol < out[j].symbol })
	return out
}

func (x *Exchange) Symbols() []string {
	engines := x.engineSnapshot()
	out := make([]string, 0, len(engines))
	for _, eng := range engines {
		out = append(out, eng.symbol)
	}
	return out
}

func (x *Exchange) SubmitOrder(req OrderRequest) (*Execution, error) {
	eng, err := x.Engine(req.Symbol)
	if err != nil {
		if inv := new(engine.InvalidOrderError); errors.As(err, &inv) {
			inv.OrderID = req.OrderID
		}
		return nil, err
	}
	return eng.SubmitOrder(req)
}

// owning returns the engine holding the resting order id.
func (x *Exchange) owning(orderID string) (*Engine, bool) {
	symbol, ok := x.ids.owner(orderID)
	if !ok {
		return nil, false
	}
	return x.Lookup(symbol)
}

// CancelOrder cancels the order in whichever symbol holds it. The error is
// set only when that symbol is halted.
func (x *Exchange) CancelOrder(orderID string) (bool, error) {
	eng, ok := x.owning(orderID)
	if !ok {
		return false, nil
	}
	return eng.CancelOrder(orderID)
}

func (x *Exchange) Order(orderID string) (engine.Order, bool) {
	eng, ok := x.owning(orderID)
	if !ok {
		return engine.Order{}, false
	}
	return eng.Order(orderID)
}

// OnPriceUpdate revalues an existing symbol. Marks for symbols that have
// never traded are ignored, so a feed cannot create engines.
func (x *Exchange) OnPriceUpdate(symbol string, mark decimal.Decimal) ([]pnl.Record, error) {
	if err := x.admit(symbol); err != nil {
		return nil, err
	}
	if !mark.IsPositive() {
		return nil, fmt.Errorf("%w: %s for %s", pnl.ErrInvalidMark, mark, symbol)
	}
	eng, ok := x.Lookup(symbol)
	if !ok {
		x.log.Debug().Str("symbol", symbol).Str("price", mark.String()).Msg("Mark for inactive symbol ignored")
		return []pnl.Record{}, nil
	}
	return eng.OnPriceUpdate(mark)
}

func (x *Exchange) BestBid(symbol string) (decimal.Decimal, bool) {
	eng, ok := x.Lookup(symbol)
	if !ok {
		return decimal.Zero, false
	}
	return eng.BestBid()
}

func (x *Exchange) BestAsk(symbol string) (decimal.Decimal, bool) {
	eng, ok := x.Lookup(symbol)
	if !ok {
		return decimal.Zero, false
	}
	return eng.BestAsk()
}

func (x *Exchange) Position(accountID, symbol string) position.Position {
	eng, ok := x.Lookup(symbol)
	if !ok {
		return position.Position{AccountID: accountID, Symbol: symbol}
	}
	return eng.SnapshotPosition(accountID)
}

func (x *Exchange) PnL(accountID, symbol string) pnl.Record {
	eng, ok := x.Lookup(symbol)
	if !ok {
		return pnl.Record{AccountID: accountID, Symbol: symbol}
	}
	return eng.SnapshotPnL(accountID)
}

// TotalPnL sums across symbols. An empty accountID means every account.
func (x *Exchange) TotalPnL(accountID string) decimal.Decimal {
	total := decimal.Zero
	for _, eng := range x.engineSnapshot() {
		total = total.Add(eng.TotalPnL(accountID))
	}
	return total
}

// Records returns the PnL records of accountID across symbols, or all
// records when accountID is empty.
func (x *Exchange) Records(accountID string) []pnl.Record {
	out := make([]pnl.Record, 0)
	for _, eng := range x.engineSnapshot() {
		for _, r := range eng.Records() {
			if accountID == "" || r.AccountID == accountID {
				out = append(out, r)
			}
		}
	}
	return out
}

func (x *Exchange) RestingOrders() int {
	var n int
	for _, eng := range x.engineSnapshot() {
		n += eng.RestingOrders()
	}
	return n
}

// Halted lists the symbols stopped by an inconsistency.
func (x *Exchange) Halted() map[string]error {
	out := make(map[string]error)
	for _, eng := range x.engineSnapshot() {
		if err := eng.Halted(); err != nil {
			out[eng.symbol] = err
		}
	}
	return out
}
