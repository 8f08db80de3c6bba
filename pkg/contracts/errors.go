package contracts

import (
	"errors"
	"fmt"
)

// Kind classifies orchestration failures. Kinds are stable strings so they
// survive persistence and cross process boundaries.
type Kind string

const (
	KindGraphNotFound        Kind = "GRAPH_NOT_FOUND"
	KindInvalidGraph         Kind = "INVALID_GRAPH"
	KindInstanceNotFound     Kind = "INSTANCE_NOT_FOUND"
	KindNodeNotFound         Kind = "NODE_NOT_FOUND"
	KindInvalidState         Kind = "INVALID_STATE"
	KindPreconditionFailed   Kind = "PRECONDITION_FAILED"
	KindGuardFailed          Kind = "GUARD_FAILED"
	KindPolicyBlocked        Kind = "POLICY_BLOCKED"
	KindExpressionError      Kind = "EXPRESSION_ERROR"
	KindActionFailed         Kind = "ACTION_FAILED"
	KindTimeout              Kind = "TIMEOUT"
	KindRuleEvaluationFailed Kind = "RULE_EVALUATION_FAILED"
	KindCompensationFailed   Kind = "COMPENSATION_FAILED"
	KindUnknown              Kind = "UNKNOWN"
)

// Error is a classified orchestration error.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// WrapError classifies an underlying error.
func WrapError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf extracts the Kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
