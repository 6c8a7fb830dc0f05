// internal/types/errors.go
package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a settlement failure for the caller.
type ErrorKind string

const (
	KindInvalidAmount         ErrorKind = "invalid_amount"
	KindTokenNotFound         ErrorKind = "token_not_found"
	KindTokenNotTradable      ErrorKind = "token_not_tradable"
	KindInsufficientLiquidity ErrorKind = "insufficient_liquidity"
	KindSlippageExceeded      ErrorKind = "slippage_exceeded"
	KindContention            ErrorKind = "contention"
	KindPersistenceFailure    ErrorKind = "persistence_failure"
)

// Sentinels for errors.Is. Every *TradeError unwraps to exactly one of them.
var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrTokenNotFound         = errors.New("token not found")
	ErrTokenNotTradable      = errors.New("token not tradable")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrContention            = errors.New("contention: retries exhausted")
	ErrPersistenceFailure    = errors.New("persistence failure")
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidAmount:         ErrInvalidAmount,
	KindTokenNotFound:         ErrTokenNotFound,
	KindTokenNotTradable:      ErrTokenNotTradable,
	KindInsufficientLiquidity: ErrInsufficientLiquidity,
	KindSlippageExceeded:      ErrSlippageExceeded,
	KindContention:            ErrContention,
	KindPersistenceFailure:    ErrPersistenceFailure,
}

// Retriable reports whether the caller may resubmit the same request unchanged.
func (k ErrorKind) Retriable() bool {
	switch k {
	case KindContention, KindPersistenceFailure:
		return true
	default:
		return false
	}
}

// ReserveContext is the reserve snapshot attached to an error so the caller
// can build a meaningful message without another read.
type ReserveContext struct {
	VirtualSolReserves   uint64 `json:"virtualSolReserves"`
	VirtualTokenReserves uint64 `json:"virtualTokenReserves"`
	RealSolReserves      uint64 `json:"realSolReserves"`
	RealTokenReserves    uint64 `json:"realTokenReserves"`
}

// TradeError is the structured error returned by the pricing and settlement path.
type TradeError struct {
	Kind     ErrorKind
	Message  string
	Expected uint64
	Actual   uint64
	Reserves *ReserveContext
	Cause    error
}

// NewTradeError creates a TradeError of the given kind.
func NewTradeError(kind ErrorKind, format string, args ...interface{}) *TradeError {
	return &TradeError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithAmounts attaches the expected and actual output.
func (e *TradeError) WithAmounts(expected, actual uint64) *TradeError {
	e.Expected = expected
	e.Actual = actual
	return e
}

// WithReserves attaches the reserves the decision was made on.
func (e *TradeError) WithReserves(rc ReserveContext) *TradeError {
	e.Reserves = &rc
	return e
}

// WithCause records the underlying error.
func (e *TradeError) WithCause(err error) *TradeError {
	e.Cause = err
	return e
}

func (e *TradeError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *TradeError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := kindSentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// KindOf extracts the ErrorKind from err, or "" if err is not a TradeError.
func KindOf(err error) ErrorKind {
	var te *TradeError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
