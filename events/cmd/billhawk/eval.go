package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/billhawk/billhawk/events/internal/decoder"
	"github.com/billhawk/billhawk/events/internal/expression"
	"github.com/billhawk/billhawk/events/internal/model"
	"github.com/billhawk/billhawk/events/internal/store"
)

type evalResult struct {
	Value        string              `json:"value" yaml:"value"`
	Reason       model.FailureReason `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error        string              `json:"error,omitempty" yaml:"error,omitempty"`
	MetricID     string              `json:"billable_metric_id,omitempty" yaml:"billable_metric_id,omitempty"`
	PartitionKey string              `json:"partition_key,omitempty" yaml:"partition_key,omitempty"`
	PayInAdvance bool                `json:"pay_in_advance_dispatch" yaml:"pay_in_advance_dispatch"`
}

func evalCmd(a *app) *cobra.Command {
	var (
		expr        string
		props       []string
		eventPath   string
		metricsPath string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a metric expression or a full event",
		Long: `Evaluate a metric expression against properties, or run a full event
through decoding, metric resolution and evaluation.

Examples:
  billhawk eval --expr 'round(a / b, 2)' --prop a=10 --prop b=3
  billhawk eval --event event.json --metrics billable_metrics.yaml
  cat event.json | billhawk eval --event - --metrics billable_metrics.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				res evalResult
				err error
			)
			switch {
			case eventPath != "":
				res, err = a.evalEvent(eventPath, metricsPath)
			case expr != "":
				res, err = evalExpression(expr, props)
			default:
				err = errors.New("either --expr or --event is required")
			}
			if err != nil {
				return a.fail(err)
			}
			if handled, err := a.printer.Structured(res); handled {
				if err != nil {
					return err
				}
			} else if res.Reason == "" {
				a.printer.Success("value = %s", res.Value)
				if res.PartitionKey != "" {
					a.printer.Info("partition key: %s", res.PartitionKey)
					a.printer.Info("pay-in-advance dispatch: %t", res.PayInAdvance)
				}
			}
			if res.Reason != "" {
				return a.fail(fmt.Errorf("%s: %s", res.Reason, res.Error))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&expr, "expr", "e", "", "expression to evaluate")
	cmd.Flags().StringArrayVarP(&props, "prop", "p", nil, "property as name=value (repeatable)")
	cmd.Flags().StringVar(&eventPath, "event", "", "event JSON file, or - for stdin")
	cmd.Flags().StringVar(&metricsPath, "metrics", "", "billable metrics YAML file (required with --event)")

	return cmd
}

func evalExpression(expr string, props []string) (evalResult, error) {
	properties := make(map[string]any, len(props))
	for _, p := range props {
		name, value, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return evalResult{}, fmt.Errorf("invalid --prop %q, want name=value", p)
		}
		properties[strings.TrimSpace(name)] = value
	}
	return toResult(expression.Eval(expr, properties)), nil
}

func (a *app) evalEvent(eventPath, metricsPath string) (evalResult, error) {
	if metricsPath == "" {
		return evalResult{}, errors.New("--metrics is required with --event")
	}
	payload, err := a.readInput(eventPath)
	if err != nil {
		return evalResult{}, err
	}
	metrics, err := store.LoadFile(metricsPath)
	if err != nil {
		return evalResult{}, err
	}

	event, err := decoder.Decode(payload, time.Now())
	if err != nil {
		return failureResult(err), nil
	}
	metric, err := metrics.Resolve(context.Background(), event.OrganizationID, event.Code)
	if errors.Is(err, store.ErrMetricNotFound) {
		return failureResult(&store.UnresolvedError{OrganizationID: event.OrganizationID, Code: event.Code}), nil
	}
	if err != nil {
		return evalResult{}, err
	}

	res := toResult(expression.NewEvaluator(nil).Evaluate(metric, event))
	res.MetricID = metric.ID
	res.PartitionKey = event.PartitionKey()
	res.PayInAdvance = metric.HasPayInAdvanceCharges() && event.Origin().NeedsPayInAdvanceDispatch()
	return res, nil
}

func (a *app) readInput(path string) ([]byte, error) {
	if path == "-" || path == "" {
		return io.ReadAll(a.stdin)
	}
	return os.ReadFile(path)
}

func toResult(r model.EvaluationResult) evalResult {
	res := evalResult{Value: r.Value, Reason: r.Reason}
	if r.Err != nil {
		res.Error = r.Err.Error()
	}
	return res
}

func failureResult(err error) evalResult {
	reason, _ := model.ReasonOf(err)
	return evalResult{Reason: reason, Error: err.Error()}
}
