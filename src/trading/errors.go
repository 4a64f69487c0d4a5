package trading

import (
	"errors"
	"fmt"
)

var (
	ErrInternalInconsistency = errors.New("internal inconsistency")
	ErrSymbolHalted          = errors.New("symbol halted")
)

// InconsistencyError means a fill left the book but could not be booked
// downstream. The symbol engine halts when it sees one.
type InconsistencyError struct {
	Symbol string
	FillID string
	Stage  string
	Err    error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("internal inconsistency on %s at %s (fill %s): %v", e.Symbol, e.Stage, e.FillID, e.Err)
}

func (e *InconsistencyError) Is(target error) bool {
	return target == ErrInternalInconsistency
}

func (e *InconsistencyError) Unwrap() error {
	return e.Err
}

type HaltedError struct {
	Symbol string
	Cause  error
}

func (e *HaltedError) Error() string {
	return fmt.Sprintf("symbol %s halted: %v", e.Symbol, e.Cause)
}

func (e *HaltedError) Is(target error) bool {
	return target == ErrSymbolHalted
}
