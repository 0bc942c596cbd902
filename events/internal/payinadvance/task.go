// Package payinadvance hands events with pay-in-advance charges to the fee
// computation service without blocking the event pipeline.
package payinadvance

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/billhawk/billhawk/events/internal/model"
)

// FeeTask asks the billing service to compute pay-in-advance fees for one event.
type FeeTask struct {
	ID         string              `json:"id"`
	Event      model.WireEvent     `json:"event"`
	Charges    model.ChargeContext `json:"charges"`
	EnqueuedAt time.Time           `json:"enqueued_at"`
}

// NewFeeTask builds a task for event.
func NewFeeTask(event *model.RawEvent, charges model.ChargeContext, now time.Time) (FeeTask, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return FeeTask{}, fmt.Errorf("generate task id: %w", err)
	}
	return FeeTask{
		ID:         id.String(),
		Event:      event.ToWire(),
		Charges:    charges,
		EnqueuedAt: now.UTC(),
	}, nil
}

// DedupKey identifies the task across redeliveries of the same event.
func (t FeeTask) DedupKey() string {
	return t.Event.OrganizationID + "/" + t.Event.TransactionID + "/" + t.Charges.BillableMetricID
}
