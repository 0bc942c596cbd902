package model

import (
	"errors"
	"time"
)

// FailureReason tags a terminal, data-quality failure.
type FailureReason string

const (
	ReasonDecodeError     FailureReason = "decode_error"
	ReasonMetricNotFound  FailureReason = "metric_not_found"
	ReasonMissingProperty FailureReason = "missing_property"
	ReasonDivisionByZero  FailureReason = "division_by_zero"
	ReasonTypeMismatch    FailureReason = "type_mismatch"
	ReasonSyntaxError     FailureReason = "syntax_error"
)

// Reasons lists every failure reason.
var Reasons = []FailureReason{
	ReasonDecodeError,
	ReasonMetricNotFound,
	ReasonMissingProperty,
	ReasonDivisionByZero,
	ReasonTypeMismatch,
	ReasonSyntaxError,
}

// Valid reports whether r is a known reason.
func (r FailureReason) Valid() bool {
	for _, known := range Reasons {
		if r == known {
			return true
		}
	}
	return false
}

// Reasoned is implemented by errors that describe a terminal data failure.
type Reasoned interface {
	error
	FailureReason() FailureReason
}

// ReasonOf extracts the failure reason carried by err, if any.
func ReasonOf(err error) (FailureReason, bool) {
	var r Reasoned
	if errors.As(err, &r) {
		return r.FailureReason(), true
	}
	return "", false
}

// EvaluationResult is the transient outcome of value extraction for one event.
type EvaluationResult struct {
	Value  string
	Reason FailureReason
	Err    error
}

// OK reports whether evaluation succeeded.
func (r EvaluationResult) OK() bool {
	return r.Err == nil
}

// Success builds a successful result.
func Success(value string) EvaluationResult {
	return EvaluationResult{Value: value}
}

// Failure builds a failed result from a reasoned error.
func Failure(err Reasoned) EvaluationResult {
	return EvaluationResult{Reason: err.FailureReason(), Err: err}
}

// DeadLetter is an event that could not be processed. Payload holds the
// original bytes exactly as received so the event can be replayed.
//
// ReceivedAt is the source message time. An event without a timestamp is
// billed at that time, so a replay must carry it.
type DeadLetter struct {
	Payload    []byte
	Key        []byte
	Reason     FailureReason
	Error      string
	Topic      string
	Partition  int
	Offset     int64
	ReceivedAt time.Time
	FailedAt   time.Time
}
