package expression

import (
	"github.com/billhawk/billhawk/events/internal/model"
)

// Evaluator computes the billable value of an event for its metric.
type Evaluator struct {
	cache *Cache
}

// NewEvaluator creates an Evaluator backed by cache.
func NewEvaluator(cache *Cache) *Evaluator {
	if cache == nil {
		cache = NewCache(0)
	}
	return &Evaluator{cache: cache}
}

// Cache returns the program cache.
func (e *Evaluator) Cache() *Cache { return e.cache }

// Evaluate runs the metric's expression against event, or extracts the raw
// field value when the metric has no expression.
func (e *Evaluator) Evaluate(metric *model.BillableMetric, event *model.RawEvent) model.EvaluationResult {
	if !metric.HasExpression() {
		return extractField(metric, event)
	}

	prog, err := e.cache.Get(metric.ID, metric.Expression)
	if err != nil {
		return failure(err)
	}
	out, err := prog.Run(NewEnv(event))
	if err != nil {
		return failure(err)
	}
	return model.Success(out)
}

// extractField returns properties[field_name] exactly as received. A count
// metric without a field counts each event once; other metrics without a
// field yield an empty value.
func extractField(metric *model.BillableMetric, event *model.RawEvent) model.EvaluationResult {
	if metric.FieldName == "" {
		if metric.AggregationType == model.AggregationCount {
			return model.Success("1")
		}
		return model.Success("")
	}
	raw, ok := event.Properties[metric.FieldName]
	if !ok || raw == nil {
		return model.Failure(missingProperty(metric.FieldName))
	}
	return model.Success(Stringify(raw))
}
