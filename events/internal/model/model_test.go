package model

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrigin(t *testing.T) {
	tests := []struct {
		source   string
		want     EventOrigin
		dispatch bool
	}{
		{"http_ruby", OriginHTTP, false},
		{"charged_in_advance", OriginPrePriced, false},
		{"kafka", OriginOther, true},
		{"", OriginOther, true},
		{"HTTP_RUBY", OriginOther, true},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			got := ParseOrigin(tt.source)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.dispatch, got.NeedsPayInAdvanceDispatch())
		})
	}
}

func TestPartitionKey(t *testing.T) {
	e := &RawEvent{OrganizationID: "org1", ExternalSubscriptionID: "sub1", Code: "api_calls"}
	assert.Equal(t, "org1-sub1-api_calls", e.PartitionKey())
	assert.Equal(t, e.PartitionKey(), e.PartitionKey())

	noSub := &RawEvent{OrganizationID: "org1", Code: "api_calls"}
	assert.Equal(t, "org1--api_calls", noSub.PartitionKey())
}

func TestEnrich(t *testing.T) {
	ts := time.Unix(1700000000, 500000000)
	e := &RawEvent{
		OrganizationID:         "org1",
		TransactionID:          "tx1",
		ExternalSubscriptionID: "sub1",
		Code:                   "storage",
		Timestamp:              ts,
		Source:                 "kafka",
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	got := Enrich(e, "42", now)

	assert.Equal(t, "42", got.Value)
	assert.Equal(t, "1700000000.5", got.Timestamp.String())
	assert.NotNil(t, got.Properties)
	assert.Equal(t, now, got.EnrichedAt)
	assert.Equal(t, e.TransactionID, got.TransactionID)
}

func TestEpochSeconds(t *testing.T) {
	assert.Equal(t, "1700000000", EpochSeconds(time.Unix(1700000000, 0)).String())
	assert.Equal(t, "1700000000.123456", EpochSeconds(time.Unix(1700000000, 123456000)).String())
}

func TestBillableMetricChargeContext(t *testing.T) {
	m := &BillableMetric{ID: "bm1", PayInAdvanceChargeIDs: []string{"c1", "c2"}}
	require.True(t, m.HasPayInAdvanceCharges())

	cc := m.ChargeContext()
	assert.Equal(t, "bm1", cc.BillableMetricID)
	assert.Equal(t, []string{"c1", "c2"}, cc.ChargeIDs)

	cc.ChargeIDs[0] = "mutated"
	assert.Equal(t, "c1", m.PayInAdvanceChargeIDs[0])

	assert.False(t, (&BillableMetric{}).HasPayInAdvanceCharges())
}

type reasonErr struct{ reason FailureReason }

func (e *reasonErr) Error() string                { return string(e.reason) }
func (e *reasonErr) FailureReason() FailureReason { return e.reason }

func TestReasonOf(t *testing.T) {
	wrapped := fmt.Errorf("evaluate: %w", &reasonErr{ReasonDivisionByZero})
	reason, ok := ReasonOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, ReasonDivisionByZero, reason)

	_, ok = ReasonOf(fmt.Errorf("connection refused"))
	assert.False(t, ok)

	res := Failure(&reasonErr{ReasonTypeMismatch})
	assert.False(t, res.OK())
	assert.Equal(t, ReasonTypeMismatch, res.Reason)
	assert.True(t, Success("1").OK())
}

func TestFailureReasonValid(t *testing.T) {
	for _, r := range Reasons {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, FailureReason("unknown").Valid())
}
