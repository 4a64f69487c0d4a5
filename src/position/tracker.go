package position

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"trade-core/src/engine"
)

// CostScale is the number of decimal places kept for average cost.
const CostScale int32 = 16

var ErrInvariant = errors.New("position invariant violated")

type Key struct {
	AccountID string
	Symbol    string
}

type Position struct {
	AccountID   string          `json:"account_id"`
	Symbol      string          `json:"symbol"`
	NetQuantity int64           `json:"net_quantity"`
	AverageCost decimal.Decimal `json:"average_cost"` // meaningful only while NetQuantity != 0
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (p Position) HasCost() bool { return p.NetQuantity != 0 }
func (p Position) IsLong() bool  { return p.NetQuantity > 0 }
func (p Position) IsShort() bool { return p.NetQuantity < 0 }
func (p Position) IsFlat() bool  { return p.NetQuantity == 0 }

// Notional is the signed market value of the position at mark.
func (p Position) Notional(mark decimal.Decimal) decimal.Decimal {
	return mark.Mul(decimal.NewFromInt(p.NetQuantity))
}

// UnrealizedAt values the open quantity at mark. Shorts carry a negative
// NetQuantity so the same formula covers both directions.
func (p Position) UnrealizedAt(mark decimal.Decimal) decimal.Decimal {
	if p.NetQuantity == 0 {
		return decimal.Zero
	}
	return mark.Sub(p.AverageCost).Mul(decimal.NewFromInt(p.NetQuantity))
}

// Change describes how one side of a fill moved a position. It is the value
// handed from the tracker to the PnL engine.
type Change struct {
	AccountID         string
	Symbol            string
	Side              engine.Side
	Price             decimal.Decimal
	Quantity          int64
	ClosedQuantity    int64
	OpenedQuantity    int64
	NetBefore         int64
	AverageCostBefore decimal.Decimal
	Position          Position
}

// Flipped reports a trade that closed the position and reopened it on the
// other side.
func (c Change) Flipped() bool {
	return c.NetBefore != 0 && c.Position.NetQuantity != 0 &&
		(c.NetBefore > 0) != (c.Position.NetQuantity > 0)
}

// Tracker owns net quantity and average cost per (account, symbol).
type Tracker struct {
	positions map[Key]*Position
	now       func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		positions: make(map[Key]*Position),
		now:       time.Now,
	}
}

// Apply books one side of fill for accountID.
func (t *Tracker) Apply(fill engine.Fill, accountID string, side engine.Side) (Change, error) {
	if !side.Valid() {
		return Change{}, fmt.Errorf("%w: invalid side %d for fill %s", ErrInvariant, side, fill.ID)
	}
	if fill.Quantity <= 0 {
		return Change{}, fmt.Errorf("%w: non-positive fill quantity %d for fill %s", ErrInvariant, fill.Quantity, fill.ID)
	}
	if !fill.Price.IsPositive() {
		return Change{}, fmt.Errorf("%w: non-positive fill price %s for fill %s", ErrInvariant, fill.Price, fill.ID)
	}

	key := Key{AccountID: accountID, Symbol: fill.Symbol}
	pos, ok := t.positions[key]
	if !ok {
		pos = &Position{AccountID: accountID, Symbol: fill.Symbol}
	}

	change := Change{
		AccountID:         accountID,
		Symbol:            fill.Symbol,
		Side:              side,
		Price:             fill.Price,
		Quantity:          fill.Quantity,
		NetBefore:         pos.NetQuantity,
		AverageCostBefore: pos.AverageCost,
	}

	next := *pos
	signed := side.Sign() * fill.Quantity
	current := pos.NetQuantity

	switch {
	case current == 0 || (current > 0) == (signed > 0):
		// opening or increasing
		if (signed > 0 && current > math.MaxInt64-signed) || (signed < 0 && current < math.MinInt64-signed) {
			return Change{}, fmt.Errorf("%w: net quantity overflow for %s/%s", ErrInvariant, accountID, fill.Symbol)
		}
		held := decimal.NewFromInt(abs(current))
		added := decimal.NewFromInt(fill.Quantity)
		next.AverageCost = held.Mul(pos.AverageCost).
			Add(added.Mul(fill.Price)).
			DivRound(held.Add(added), CostScale)
		next.NetQuantity = current + signed
		change.OpenedQuantity = fill.Quantity

	case fill.Quantity <= abs(current):
		// reducing or closing; cost basis of the remainder is unchanged
		next.NetQuantity = current + signed
		change.ClosedQuantity = fill.Quantity
		if next.NetQuantity == 0 {
			next.AverageCost = decimal.Zero
		}

	default:
		// flipping: close everything, reopen the excess at the fill price
		change.ClosedQuantity = abs(current)
		change.OpenedQuantity = fill.Quantity - abs(current)
		next.NetQuantity = current + signed
		next.AverageCost = fill.Price
	}

	if next.NetQuantity == 0 && !next.AverageCost.IsZero() {
		return Change{}, fmt.Errorf("%w: flat position %s/%s kept cost %s", ErrInvariant, accountID, fill.Symbol, next.AverageCost)
	}
	if next.NetQuantity != 0 && !next.AverageCost.IsPositive() {
		return Change{}, fmt.Errorf("%w: open position %s/%s has cost %s", ErrInvariant, accountID, fill.Symbol, next.AverageCost)
	}

	next.UpdatedAt = t.now()
	*pos = next
	t.positions[key] = pos

	change.Position = next
	return change, nil
}

// Get returns the position for the pair; an untouched pair is flat.
func (t *Tracker) Get(accountID, symbol string) Position {
	if pos, ok := t.positions[Key{AccountID: accountID, Symbol: symbol}]; ok {
		return *pos
	}
	return Position{AccountID: accountID, Symbol: symbol}
}

// Holders returns the open positions in symbol.
func (t *Tracker) Holders(symbol string) []Position {
	out := make([]Position, 0)
	for key, pos := range t.positions {
		if key.Symbol == symbol && pos.NetQuantity != 0 {
			out = append(out, *pos)
		}
	}
	sortPositions(out)
	return out
}

// Positions returns every tracked position, flat ones included.
func (t *Tracker) Positions() []Position {
	out := make([]Position, 0, len(t.positions))
	for _, pos := range t.positions {
		out = append(out, *pos)
	}
	sortPositions(out)
	return out
}

func sortPositions(ps []Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Symbol != ps[j].Symbol {
			return ps[i].Symbol < ps[j].Symbol
		}
		return ps[i].AccountID < ps[j].AccountID
	})
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
