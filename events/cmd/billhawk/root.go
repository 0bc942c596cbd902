package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/billhawk/billhawk/events/internal/output"
)

// app carries state shared by every subcommand.
type app struct {
	stdin   io.Reader
	printer *output.Printer
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{
		stdin:   stdin,
		printer: &output.Printer{Out: stdout, Err: stderr},
	}

	var format string
	rootCmd := &cobra.Command{
		Use:   "billhawk",
		Short: "Operator tooling for the usage-event pipeline",
		Long: `billhawk inspects and exercises the usage-event pipeline.

Evaluate metric expressions, check how an event decodes, seed a topic with
synthetic usage, and inspect or replay the file-based dead-letter queue.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			a.printer.Format = f
			return nil
		},
	}
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().StringVarP(&format, "output", "o", output.FormatTable, "output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&a.printer.NoColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(evalCmd(a))
	rootCmd.AddCommand(decodeCmd(a))
	rootCmd.AddCommand(seedCmd(a))
	rootCmd.AddCommand(dlqCmd(a))

	return rootCmd
}

// fail prints err and returns it so the process exits non-zero.
func (a *app) fail(err error) error {
	a.printer.Error("%v", err)
	return err
}
