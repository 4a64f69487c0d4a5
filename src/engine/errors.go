package engine

import (
	"errors"
	"fmt"
)

var ErrInvalidOrder = errors.New("invalid order")

// InvalidOrderError is returned before the book is touched.
type InvalidOrderError struct {
	OrderID string
	Field   string
	Reason  string
}

func (e *InvalidOrderError) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("invalid order: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid order %s: %s %s", e.OrderID, e.Field, e.Reason)
}

func (e *InvalidOrderError) Is(target error) bool {
	return target == ErrInvalidOrder
}

func invalid(o *Order, field, reason string) error {
	return &InvalidOrderError{OrderID: o.ID, Field: field, Reason: reason}
}
