package pipeline

import (
	"github.com/billhawk/billhawk/events/internal/model"
)

// State is a step of per-event processing. Published and DeadLettered are
// terminal.
type State int

const (
	StateReceived State = iota
	StateDecoded
	StateMetricResolved
	StateEvaluated
	StatePublished
	StateDeadLettered
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateDecoded:
		return "decoded"
	case StateMetricResolved:
		return "metric_resolved"
	case StateEvaluated:
		return "evaluated"
	case StatePublished:
		return "published"
	case StateDeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// Terminal reports whether processing is complete in state s.
func (s State) Terminal() bool {
	return s == StatePublished || s == StateDeadLettered
}

// Outcome describes what happened to one inbound message.
type Outcome struct {
	State State
	// Reason is set when State is StateDeadLettered.
	Reason model.FailureReason
	Event  *model.RawEvent
	Value  string
	// Key is the partition key the enriched event was published with.
	Key        string
	Dispatched bool
}
