package model

// Aggregation types that affect value extraction.
const (
	AggregationCount       = "count_agg"
	AggregationSum         = "sum_agg"
	AggregationMax         = "max_agg"
	AggregationUniqueCount = "unique_count_agg"
	AggregationLatest      = "latest_agg"
	AggregationWeightedSum = "weighted_sum_agg"
)

// BillableMetric is reference data describing how a usage dimension is measured.
// A metric is uniquely identified by (OrganizationID, Code).
type BillableMetric struct {
	ID                    string   `json:"id" yaml:"id"`
	OrganizationID        string   `json:"organization_id" yaml:"organization_id"`
	Code                  string   `json:"code" yaml:"code"`
	AggregationType       string   `json:"aggregation_type" yaml:"aggregation_type"`
	FieldName             string   `json:"field_name,omitempty" yaml:"field_name"`
	Expression            string   `json:"expression,omitempty" yaml:"expression"`
	PayInAdvanceChargeIDs []string `json:"pay_in_advance_charge_ids,omitempty" yaml:"pay_in_advance_charge_ids"`
}

// HasPayInAdvanceCharges reports whether any active charge on the metric is paid in advance.
func (m *BillableMetric) HasPayInAdvanceCharges() bool {
	return len(m.PayInAdvanceChargeIDs) > 0
}

// HasExpression reports whether the metric computes its value from a formula.
func (m *BillableMetric) HasExpression() bool {
	return m.Expression != ""
}

// ChargeContext is the resolved charge information a fee task needs.
type ChargeContext struct {
	BillableMetricID string   `json:"billable_metric_id"`
	ChargeIDs        []string `json:"charge_ids"`
}

// ChargeContext returns the pay-in-advance charge context of m.
func (m *BillableMetric) ChargeContext() ChargeContext {
	ids := make([]string, len(m.PayInAdvanceChargeIDs))
	copy(ids, m.PayInAdvanceChargeIDs)
	return ChargeContext{BillableMetricID: m.ID, ChargeIDs: ids}
}
