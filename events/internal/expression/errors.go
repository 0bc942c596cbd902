package expression

import (
	"fmt"

	"github.com/billhawk/billhawk/events/internal/model"
)

// Error is an evaluation or compilation failure. Every Error carries one of
// the evaluation failure reasons.
type Error struct {
	Reason model.FailureReason
	Detail string
	// Pos is the byte offset in the expression, or -1 when not applicable.
	Pos int
}

func (e *Error) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("%s at offset %d: %s", e.Reason, e.Pos, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// FailureReason implements model.Reasoned.
func (e *Error) FailureReason() model.FailureReason {
	return e.Reason
}

func syntaxError(pos int, format string, args ...any) *Error {
	return &Error{Reason: model.ReasonSyntaxError, Detail: fmt.Sprintf(format, args...), Pos: pos}
}

func missingProperty(name string) *Error {
	return &Error{Reason: model.ReasonMissingProperty, Detail: fmt.Sprintf("property %q is not set", name), Pos: -1}
}

func typeMismatch(format string, args ...any) *Error {
	return &Error{Reason: model.ReasonTypeMismatch, Detail: fmt.Sprintf(format, args...), Pos: -1}
}

func divisionByZero(pos int) *Error {
	return &Error{Reason: model.ReasonDivisionByZero, Detail: "divisor is zero", Pos: pos}
}
