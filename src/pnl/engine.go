package pnl

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trade-core/src/position"
)

var ErrInvalidMark = errors.New("invalid mark price")

type Record struct {
	AccountID     string          `json:"account_id"`
	Symbol        string          `json:"symbol"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	LastMarkPrice decimal.Decimal `json:"last_mark_price"`
	HasMark       bool            `json:"has_mark"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (r Record) Total() decimal.Decimal {
	return r.RealizedPnL.Add(r.UnrealizedPnL)
}

// entry pairs a record with the position value it was last marked against.
type entry struct {
	record   Record
	position position.Position
}

// Engine computes realized PnL at fill time and unrealized PnL at mark time.
type Engine struct {
	entries map[position.Key]*entry
	marks   map[string]decimal.Decimal
	log     zerolog.Logger
	now     func() time.Time
}

func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		entries: make(map[position.Key]*entry),
		marks:   make(map[string]decimal.Decimal),
		log:     log,
		now:     time.Now,
	}
}

func (e *Engine) lookup(accountID, symbol string) *entry {
	key := position.Key{AccountID: accountID, Symbol: symbol}
	en, ok := e.entries[key]
	if !ok {
		en = &entry{
			record:   Record{AccountID: accountID, Symbol: symbol},
			position: position.Position{AccountID: accountID, Symbol: symbol},
		}
		if mark, marked := e.marks[symbol]; marked {
			en.record.LastMarkPrice = mark
			en.record.HasMark = true
		}
		e.entries[key] = en
	}
	return en
}

// OnFill books the realized PnL of the closed part of change and returns the
// updated record together with the realized delta.
func (e *Engine) OnFill(change position.Change) (Record, decimal.Decimal) {
	en := e.lookup(change.AccountID, change.Symbol)

	delta := decimal.Zero
	if change.ClosedQuantity > 0 {
		// long being reduced gains when price > cost; short the reverse
		delta = change.Price.Sub(change.AverageCostBefore).Mul(decimal.NewFromInt(change.ClosedQuantity))
		if change.NetBefore < 0 {
			delta = delta.Neg()
		}
		en.record.RealizedPnL = en.record.RealizedPnL.Add(delta)

		e.log.Info().
			Str("account_id", change.AccountID).
			Str("symbol", change.Symbol).
			Int64("closed_quantity", change.ClosedQuantity).
			Str("price", change.Price.String()).
			Str("cost", change.AverageCostBefore.String()).
			Str("delta", delta.String()).
			Str("realized_pnl", en.record.RealizedPnL.String()).
			Msg("Realized PnL")
	}

	en.position = change.Position
	e.remark(en)
	en.record.UpdatedAt = e.now()
	return en.record, delta
}

// OnPriceUpdate revalues every account holding symbol at mark. Replaying the
// same mark leaves the records unchanged.
func (e *Engine) OnPriceUpdate(symbol string, mark decimal.Decimal) ([]Record, error) {
	if !mark.IsPositive() {
		return nil, fmt.Errorf("%w: %s for %s", ErrInvalidMark, mark, symbol)
	}
	e.marks[symbol] = mark

	updated := make([]Record, 0)
	now := e.now()
	for key, en := range e.entries {
		if key.Symbol != symbol {
			continue
		}
		en.record.LastMarkPrice = mark
		en.record.HasMark = true
		e.remark(en)
		en.record.UpdatedAt = now
		updated = append(updated, en.record)
	}
	sortRecords(updated)
	return updated, nil
}

func (e *Engine) remark(en *entry) {
	if !en.record.HasMark {
		en.record.UnrealizedPnL = decimal.Zero
		return
	}
	en.record.UnrealizedPnL = en.position.UnrealizedAt(en.record.LastMarkPrice)
}

// Mark returns the last mark seen for symbol.
func (e *Engine) Mark(symbol string) (decimal.Decimal, bool) {
	mark, ok := e.marks[symbol]
	return mark, ok
}

// Record returns the record for the pair; an untouched pair is all zero.
func (e *Engine) Record(accountID, symbol string) Record {
	if en, ok := e.entries[position.Key{AccountID: accountID, Symbol: symbol}]; ok {
		return en.record
	}
	r := Record{AccountID: accountID, Symbol: symbol}
	if mark, ok := e.marks[symbol]; ok {
		r.LastMarkPrice = mark
		r.HasMark = true
	}
	return r
}

func (e *Engine) Records() []Record {
	out := make([]Record, 0, len(e.entries))
	for _, en := range e.entries {
		out = append(out, en.record)
	}
	sortRecords(out)
	return out
}

// TotalPnL sums realized and unrealized PnL for accountID, or for every
// account when accountID is empty.
func (e *Engine) TotalPnL(accountID string) decimal.Decimal {
	total := decimal.Zero
	for key, en := range e.entries {
		if accountID != "" && key.AccountID != accountID {
			continue
		}
		total = total.Add(en.record.Total())
	}
	return total
}

func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Symbol != rs[j].Symbol {
			return rs[i].Symbol < rs[j].Symbol
		}
		return rs[i].AccountID < rs[j].AccountID
	})
}
