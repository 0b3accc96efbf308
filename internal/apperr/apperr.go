// Package apperr implements the error taxonomy from spec.md §7 as
// sentinel-tagged, wrapped errors: callers recover the taxonomy kind
// with KindOf(err) while github.com/pkg/errors keeps the wrap chain
// (which proposal, which position, which step) for diagnostics.
package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a taxonomy tag, not a concrete error type.
type Kind string

const (
	MathOverflow                Kind = "MathOverflow"
	DivisionByZero               Kind = "DivisionByZero"
	NonConvergence                Kind = "NonConvergence"
	InvariantViolation            Kind = "InvariantViolation"
	AMMInvariantViolation         Kind = "AMMInvariantViolation"
	PriceManipulation             Kind = "PriceManipulation"
	LeverageExceeded              Kind = "LeverageExceeded"
	InsufficientMargin            Kind = "InsufficientMargin"
	InsufficientFunds             Kind = "InsufficientFunds"
	PositionHealthy               Kind = "PositionHealthy"
	MarketHalted                  Kind = "MarketHalted"
	ProposalNotActive             Kind = "ProposalNotActive"
	InvalidOutcome                Kind = "InvalidOutcome"
	InvalidAmount                 Kind = "InvalidAmount"
	QueueFull                     Kind = "QueueFull"
	RecoveryAlreadyActive         Kind = "RecoveryAlreadyActive"
	RecoveryNotFound               Kind = "RecoveryNotFound"
	MaxRecoveryAttemptsExceeded    Kind = "MaxRecoveryAttemptsExceeded"
	Timeout                        Kind = "Timeout"
	StaleOracle                    Kind = "StaleOracle"
	Unauthorized                   Kind = "Unauthorized"
)

// invariantKinds are surfaced unchanged to the caller and treated as
// bugs/corruption signals per spec.md §7.
var invariantKinds = map[Kind]bool{
	InvariantViolation:    true,
	AMMInvariantViolation: true,
	MathOverflow:          true,
}

// userVisibleKinds carry a short diagnostic and no stack trace, per
// spec.md §7.
var userVisibleKinds = map[Kind]bool{
	LeverageExceeded:   true,
	InsufficientMargin: true,
	MarketHalted:       true,
	PriceManipulation:  true,
}

// taggedError carries a Kind alongside a wrapped cause chain.
type taggedError struct {
	kind Kind
	msg  string
	// cause is nil for leaf errors constructed with New.
	cause error
}

func (e *taggedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *taggedError) Unwrap() error { return e.cause }

// New constructs a fresh tagged error with a stack trace attached via
// pkg/errors, for the site where a failure is first detected.
func New(kind Kind, msg string) error {
	return errors.WithStack(&taggedError{kind: kind, msg: msg})
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...interface{}) error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches additional context (e.g. "position %d") to an
// underlying error without losing its Kind.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return errors.WithMessage(err, context)
}

// KindOf recovers the taxonomy tag of err, or "" if err was not produced
// by this package.
func KindOf(err error) Kind {
	var te *taggedError
	for err != nil {
		if t, ok := err.(*taggedError); ok {
			te = t
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if te == nil {
		return ""
	}
	return te.kind
}

// Is reports whether err (at any depth in its wrap chain) carries kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsInvariant reports whether kind is one of the invariant-class kinds
// that must be surfaced unchanged and logged as a bug/corruption signal.
func IsInvariant(kind Kind) bool { return invariantKinds[kind] }

// IsUserVisible reports whether kind is returned synchronously to the
// caller with a short diagnostic and no stack trace.
func IsUserVisible(kind Kind) bool { return userVisibleKinds[kind] }
