// Package store resolves billable metric definitions for incoming events.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/billhawk/billhawk/events/internal/model"
)

// ErrMetricNotFound is returned when no active metric matches (organization, code).
// Any other error from a Resolver is transient.
var ErrMetricNotFound = errors.New("billable metric not found")

// Resolver looks up the active billable metric for an organization and code.
type Resolver interface {
	Resolve(ctx context.Context, organizationID, code string) (*model.BillableMetric, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, organizationID, code string) (*model.BillableMetric, error)

func (f ResolverFunc) Resolve(ctx context.Context, organizationID, code string) (*model.BillableMetric, error) {
	return f(ctx, organizationID, code)
}

// UnresolvedError is the terminal form of ErrMetricNotFound for one event.
type UnresolvedError struct {
	OrganizationID string
	Code           string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("no active billable metric %q for organization %q", e.Code, e.OrganizationID)
}

func (e *UnresolvedError) FailureReason() model.FailureReason { return model.ReasonMetricNotFound }

func (e *UnresolvedError) Unwrap() error { return ErrMetricNotFound }
