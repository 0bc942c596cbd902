package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across the pipeline.
const (
	FieldService        = "service"
	FieldError          = "error"
	FieldTopic          = "topic"
	FieldPartition      = "partition"
	FieldOffset         = "offset"
	FieldOrganizationID = "organization_id"
	FieldSubscriptionID = "external_subscription_id"
	FieldCode           = "code"
	FieldTransactionID  = "transaction_id"
	FieldReason         = "reason"
	FieldDuration       = "duration_ms"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Topic returns a slog attribute for a broker topic.
func Topic(topic string) slog.Attr {
	return slog.String(FieldTopic, topic)
}

// Partition returns a slog attribute for a topic partition.
func Partition(p int) slog.Attr {
	return slog.Int(FieldPartition, p)
}

// Offset returns a slog attribute for a message offset.
func Offset(o int64) slog.Attr {
	return slog.Int64(FieldOffset, o)
}

// OrganizationID returns a slog attribute for the organization.
func OrganizationID(id string) slog.Attr {
	return slog.String(FieldOrganizationID, id)
}

// SubscriptionID returns a slog attribute for the external subscription id.
func SubscriptionID(id string) slog.Attr {
	return slog.String(FieldSubscriptionID, id)
}

// Code returns a slog attribute for a billable metric code.
func Code(code string) slog.Attr {
	return slog.String(FieldCode, code)
}

// TransactionID returns a slog attribute for an event transaction id.
func TransactionID(id string) slog.Attr {
	return slog.String(FieldTransactionID, id)
}

// Reason returns a slog attribute for a failure reason.
func Reason(reason string) slog.Attr {
	return slog.String(FieldReason, reason)
}

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}
