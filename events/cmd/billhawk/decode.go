package main

import (
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/billhawk/billhawk/events/internal/decoder"
	"github.com/billhawk/billhawk/events/internal/expression"
	"github.com/billhawk/billhawk/events/internal/output"
)

func decodeCmd(a *app) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode and validate one inbound event",
		Long: `Decode an event the way the processor does and print the normalized form.
A decode failure exits non-zero with the reason the event would be
dead-lettered with.

Examples:
  billhawk decode --file event.json
  echo '{"organization_id":"org_1","transaction_id":"tx","code":"api_calls"}' | billhawk decode -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := a.readInput(path)
			if err != nil {
				return a.fail(err)
			}
			event, err := decoder.Decode(payload, time.Now())
			if err != nil {
				return a.fail(err)
			}

			wire := event.ToWire()
			if handled, err := a.printer.Structured(wire); handled {
				return err
			}
			tbl := output.NewTable("FIELD", "VALUE")
			tbl.AddRow("organization_id", wire.OrganizationID)
			tbl.AddRow("transaction_id", wire.TransactionID)
			tbl.AddRow("external_subscription_id", wire.ExternalSubscriptionID)
			tbl.AddRow("code", wire.Code)
			tbl.AddRow("timestamp", wire.Timestamp.String())
			tbl.AddRow("origin", event.Origin().String())
			tbl.AddRow("partition_key", event.PartitionKey())
			tbl.AddRow("properties", formatProps(wire.Properties))
			tbl.Render(a.printer)
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "file", "f", "-", "event JSON file, or - for stdin")
	return cmd
}

// formatProps renders properties as sorted name=value pairs.
func formatProps(props map[string]any) string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = name + "=" + expression.Stringify(props[name])
	}
	return strings.Join(pairs, ", ")
}
