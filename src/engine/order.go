package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

// ParseSide accepts "BUY"/"SELL" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() int64 {
	return int64(s)
}

func (s Side) Opposite() Side {
	return -s
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return "UNKNOWN"
}

func (s Side) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid side %d", s)
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	parsed, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type OrderStatus string

const (
	StatusResting         OrderStatus = "RESTING"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
)

func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Order is the limit order as admitted by a book. Only the book mutates
// Remaining and Status once the order has been submitted.
type Order struct {
	ID        string
	AccountID string
	Symbol    string
	Side      Side
	Price     decimal.Decimal
	Quantity  int64
	Remaining int64
	Status    OrderStatus
	Timestamp int64 // unix nanos, strictly increasing per book
	Sequence  uint64
}

func NewOrder(id, accountID, symbol string, side Side, price decimal.Decimal, quantity int64) Order {
	return Order{
		ID:        id,
		AccountID: accountID,
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Remaining: quantity,
	}
}

func (o *Order) FilledQuantity() int64 {
	return o.Quantity - o.Remaining
}

func (o *Order) IsFilled() bool {
	return o.Remaining <= 0
}

// before reports whether o has time priority over other at the same price.
func (o *Order) before(other *Order) bool {
	if o.Timestamp != other.Timestamp {
		return o.Timestamp < other.Timestamp
	}
	return o.ID < other.ID
}

func (o *Order) fill(quantity int64) {
	o.Remaining -= quantity
	if o.Remaining <= 0 {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
}

// Fill is one match between a resting maker and an incoming taker. It is
// never mutated after the book emits it.
type Fill struct {
	ID             string          `json:"fill_id"`
	Sequence       uint64          `json:"sequence"`
	Symbol         string          `json:"symbol"`
	MakerOrderID   string          `json:"maker_order_id"`
	TakerOrderID   string          `json:"taker_order_id"`
	MakerAccountID string          `json:"maker_account_id"`
	TakerAccountID string          `json:"taker_account_id"`
	TakerSide      Side            `json:"taker_side"`
	Price          decimal.Decimal `json:"price"`
	Quantity       int64           `json:"quantity"`
	Timestamp      int64           `json:"timestamp"`
}

func (f Fill) MakerSide() Side {
	return f.TakerSide.Opposite()
}

func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(decimal.NewFromInt(f.Quantity))
}
