package engine

import (
	"sort"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// slot indexes the order arena.
type slot int32

type PriceLevel struct {
	Price decimal.Decimal
	queue []slot // time priority, front is next to match
}

func bidLess(a, b *PriceLevel) bool {
	return a.Price.GreaterThan(b.Price)
}

func askLess(a, b *PriceLevel) bool {
	return a.Price.LessThan(b.Price)
}

type MatchResult struct {
	Order Order
	Fills []Fill
}

// OrderBook holds the resting orders of one symbol. It is not safe for
// concurrent use; the owning trading engine serializes access.
type OrderBook struct {
	Symbol string
	bids   *btree.BTreeG[*PriceLevel] // best (highest) first
	asks   *btree.BTreeG[*PriceLevel] // best (lowest) first

	arena []Order
	free  []slot
	index map[string]slot

	orderSeq uint64
	fillSeq  uint64
	lastTS   int64
	now      func() time.Time
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids:   btree.NewG[*PriceLevel](32, bidLess),
		asks:   btree.NewG[*PriceLevel](32, askLess),
		index:  make(map[string]slot),
		now:    time.Now,
	}
}

// SetClock replaces the wall clock used for admission timestamps.
func (ob *OrderBook) SetClock(now func() time.Time) {
	ob.now = now
}

func (ob *OrderBook) validate(o *Order) error {
	if o.Symbol != ob.Symbol {
		return invalid(o, "symbol", "does not match book "+ob.Symbol)
	}
	if !o.Side.Valid() {
		return invalid(o, "side", "must be BUY or SELL")
	}
	if o.Quantity <= 0 {
		return invalid(o, "quantity", "must be positive")
	}
	if !o.Price.IsPositive() {
		return invalid(o, "price", "must be positive")
	}
	if o.ID != "" {
		if _, exists := ob.index[o.ID]; exists {
			return invalid(o, "order_id", "already resting")
		}
	}
	return nil
}

// Submit matches o against the opposite side and rests any remainder.
// Fills are returned in execution order.
func (ob *OrderBook) Submit(o Order) (*MatchResult, error) {
	if err := ob.validate(&o); err != nil {
		return nil, err
	}

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Remaining = o.Quantity
	o.Status = StatusResting
	ob.admit(&o)

	result := &MatchResult{Fills: make([]Fill, 0, 1)}

	opposite := ob.asks
	if o.Side == Sell {
		opposite = ob.bids
	}

	for o.Remaining > 0 {
		level, ok := opposite.Min()
		if !ok || !crosses(&o, level.Price) {
			break
		}

		for o.Remaining > 0 && len(level.queue) > 0 {
			makerSlot := level.queue[0]
			maker := &ob.arena[makerSlot]

			qty := min(o.Remaining, maker.Remaining)
			o.fill(qty)
			maker.fill(qty)
			result.Fills = append(result.Fills, ob.newFill(maker, &o, level.Price, qty))

			if maker.IsFilled() {
				level.queue = level.queue[1:]
				ob.release(maker.ID, makerSlot)
			}
		}

		// edge case: drop the level once its queue is exhausted
		if len(level.queue) == 0 {
			opposite.Delete(level)
		}
	}

	if o.Remaining > 0 {
		ob.rest(o)
	}

	result.Order = o
	return result, nil
}

func crosses(o *Order, levelPrice decimal.Decimal) bool {
	if o.Side == Buy {
		return levelPrice.LessThanOrEqual(o.Price)
	}
	return levelPrice.GreaterThanOrEqual(o.Price)
}

func (ob *OrderBook) admit(o *Order) {
	ob.orderSeq++
	o.Sequence = ob.orderSeq

	ts := ob.now().UnixNano()
	// edge case: wall clock may repeat or step back
	if ts <= ob.lastTS {
		ts = ob.lastTS + 1
	}
	ob.lastTS = ts
	o.Timestamp = ts
}

func (ob *OrderBook) newFill(maker, taker *Order, price decimal.Decimal, qty int64) Fill {
	ob.fillSeq++
	return Fill{
		ID:             uuid.NewString(),
		Sequence:       ob.fillSeq,
		Symbol:         ob.Symbol,
		MakerOrderID:   maker.ID,
		TakerOrderID:   taker.ID,
		MakerAccountID: maker.AccountID,
		TakerAccountID: taker.AccountID,
		TakerSide:      taker.Side,
		Price:          price,
		Quantity:       qty,
		Timestamp:      taker.Timestamp,
	}
}

func (ob *OrderBook) rest(o Order) {
	var s slot
	if n := len(ob.free); n > 0 {
		s = ob.free[n-1]
		ob.free = ob.free[:n-1]
		ob.arena[s] = o
	} else {
		s = slot(len(ob.arena))
		ob.arena = append(ob.arena, o)
	}
	ob.index[o.ID] = s

	tree := ob.side(o.Side)
	level, ok := tree.Get(&PriceLevel{Price: o.Price})
	if !ok {
		level = &PriceLevel{Price: o.Price}
		tree.ReplaceOrInsert(level)
	}

	resting := &ob.arena[s]
	at := sort.Search(len(level.queue), func(i int) bool {
		return resting.before(&ob.arena[level.queue[i]])
	})
	level.queue = append(level.queue, 0)
	copy(level.queue[at+1:], level.queue[at:])
	level.queue[at] = s
}

func (ob *OrderBook) release(id string, s slot) {
	delete(ob.index, id)
	ob.arena[s] = Order{}
	ob.free = append(ob.free, s)
}

func (ob *OrderBook) side(side Side) *btree.BTreeG[*PriceLevel] {
	if side == Buy {
		return ob.bids
	}
	return ob.asks
}

// Cancel removes a resting order. Unknown and already terminal ids report false.
func (ob *OrderBook) Cancel(orderID string) bool {
	s, ok := ob.index[orderID]
	if !ok {
		return false
	}
	o := &ob.arena[s]

	tree := ob.side(o.Side)
	if level, found := tree.Get(&PriceLevel{Price: o.Price}); found {
		for i, queued := range level.queue {
			if queued == s {
				level.queue = append(level.queue[:i], level.queue[i+1:]...)
				break
			}
		}
		// edge case: remove empty price level
		if len(level.queue) == 0 {
			tree.Delete(level)
		}
	}

	ob.release(orderID, s)
	return true
}

func (ob *OrderBook) BestBid() (decimal.Decimal, bool) {
	level, ok := ob.bids.Min()
	if !ok {
		return decimal.Decimal{}, false
	}
	return level.Price, true
}

func (ob *OrderBook) BestAsk() (decimal.Decimal, bool) {
	level, ok := ob.asks.Min()
	if !ok {
		return decimal.Decimal{}, false
	}
	return level.Price, true
}

// Order returns a copy of a resting order.
func (ob *OrderBook) Order(orderID string) (Order, bool) {
	s, ok := ob.index[orderID]
	if !ok {
		return Order{}, false
	}
	return ob.arena[s], true
}

func (ob *OrderBook) Len() int {
	return len(ob.index)
}

// RestingQuantity is the total remaining quantity on one side of the book.
func (ob *OrderBook) RestingQuantity(side Side) int64 {
	var total int64
	ob.side(side).Ascend(func(level *PriceLevel) bool {
		total += ob.levelQuantity(level)
		return true
	})
	return total
}

type LevelSnapshot struct {
	Price    decimal.Decimal
	Quantity int64
	Orders   int
}

func (ob *OrderBook) levelQuantity(level *PriceLevel) int64 {
	var total int64
	for _, s := range level.queue {
		total += ob.arena[s].Remaining
	}
	return total
}

// Depth aggregates up to depth levels per side, best first.
func (ob *OrderBook) Depth(depth int) (bids []LevelSnapshot, asks []LevelSnapshot) {
	if depth <= 0 {
		return []LevelSnapshot{}, []LevelSnapshot{}
	}
	collect := func(tree *btree.BTreeG[*PriceLevel]) []LevelSnapshot {
		out := make([]LevelSnapshot, 0, min(depth, tree.Len()))
		tree.Ascend(func(level *PriceLevel) bool {
			if len(out) >= depth {
				return false
			}
			out = append(out, LevelSnapshot{
				Price:    level.Price,
				Quantity: ob.levelQuantity(level),
				Orders:   len(level.queue),
			})
			return true
		})
		return out
	}
	return collect(ob.bids), collect(ob.asks)
}
