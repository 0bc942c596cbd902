// Package model defines the records that flow through the usage-event pipeline.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RawEvent is a decoded inbound usage event. It is never mutated after decoding.
type RawEvent struct {
	OrganizationID          string
	TransactionID           string
	ExternalSubscriptionID  string
	Code                    string
	Timestamp               time.Time
	Properties              map[string]any
	Source                  string
	PreciseTotalAmountCents string
}

// Origin classifies the event's source tag.
func (e *RawEvent) Origin() EventOrigin {
	return ParseOrigin(e.Source)
}

// PartitionKey returns the routing key that keeps every event of one billing
// unit (organization, subscription, metric) on the same partition.
func (e *RawEvent) PartitionKey() string {
	return e.OrganizationID + "-" + e.ExternalSubscriptionID + "-" + e.Code
}

// EnrichedEvent is the outbound representation: every inbound field plus Value.
type EnrichedEvent struct {
	OrganizationID          string         `json:"organization_id"`
	TransactionID           string         `json:"transaction_id"`
	ExternalSubscriptionID  string         `json:"external_subscription_id"`
	Code                    string         `json:"code"`
	Timestamp               json.Number    `json:"timestamp"`
	Properties              map[string]any `json:"properties"`
	Source                  string         `json:"source,omitempty"`
	PreciseTotalAmountCents string         `json:"precise_total_amount_cents,omitempty"`
	// Value is always serialized, even when empty; downstream consumers rely on it.
	Value      string    `json:"value"`
	EnrichedAt time.Time `json:"enriched_at"`
}

// Enrich builds the outbound record for e with the computed value.
func Enrich(e *RawEvent, value string, now time.Time) *EnrichedEvent {
	props := e.Properties
	if props == nil {
		props = map[string]any{}
	}
	return &EnrichedEvent{
		OrganizationID:          e.OrganizationID,
		TransactionID:           e.TransactionID,
		ExternalSubscriptionID:  e.ExternalSubscriptionID,
		Code:                    e.Code,
		Timestamp:               EpochSeconds(e.Timestamp),
		Properties:              props,
		Source:                  e.Source,
		PreciseTotalAmountCents: e.PreciseTotalAmountCents,
		Value:                   value,
		EnrichedAt:              now.UTC(),
	}
}

// EpochSeconds renders t as seconds since the epoch with up to microsecond precision.
func EpochSeconds(t time.Time) json.Number {
	micros := t.UnixMicro()
	secs, frac := micros/1e6, micros%1e6
	if frac == 0 {
		return json.Number(strconv.FormatInt(secs, 10))
	}
	if frac < 0 {
		secs, frac = secs-1, frac+1e6
	}
	fs := strings.TrimRight(fmt.Sprintf("%06d", frac), "0")
	return json.Number(strconv.FormatInt(secs, 10) + "." + fs)
}

// WireEvent is the JSON shape shared by inbound events and replays.
type WireEvent struct {
	OrganizationID          string         `json:"organization_id"`
	TransactionID           string         `json:"transaction_id"`
	ExternalSubscriptionID  string         `json:"external_subscription_id,omitempty"`
	Code                    string         `json:"code"`
	Timestamp               json.Number    `json:"timestamp"`
	Properties              map[string]any `json:"properties"`
	Source                  string         `json:"source,omitempty"`
	PreciseTotalAmountCents string         `json:"precise_total_amount_cents,omitempty"`
}

// ToWire converts e back into its wire shape.
func (e *RawEvent) ToWire() WireEvent {
	props := e.Properties
	if props == nil {
		props = map[string]any{}
	}
	return WireEvent{
		OrganizationID:          e.OrganizationID,
		TransactionID:           e.TransactionID,
		ExternalSubscriptionID:  e.ExternalSubscriptionID,
		Code:                    e.Code,
		Timestamp:               EpochSeconds(e.Timestamp),
		Properties:              props,
		Source:                  e.Source,
		PreciseTotalAmountCents: e.PreciseTotalAmountCents,
	}
}
