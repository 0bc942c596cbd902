// Package output renders CLI results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ANSI attributes.
const (
	reset = "\033[0m"

	FgRed    = 31
	FgGreen  = 32
	FgYellow = 33
	FgCyan   = 36
	FgWhite  = 37
	Bold     = 1
)

// Formats accepted by Printer.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Printer writes results to Out and diagnostics to Err.
type Printer struct {
	Out     io.Writer
	Err     io.Writer
	Format  string
	NoColor bool
}

// ParseFormat validates a --output value.
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(s) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (supported: table, json, yaml)", s)
	}
}

func (p *Printer) paint(s string, attrs ...int) string {
	if p.NoColor || len(attrs) == 0 {
		return s
	}
	codes := make([]string, len(attrs))
	for i, a := range attrs {
		codes[i] = strconv.Itoa(a)
	}
	return "\033[" + strings.Join(codes, ";") + "m" + s + reset
}

func (p *Printer) Success(format string, a ...any) {
	fmt.Fprintln(p.Out, p.paint("✓ "+fmt.Sprintf(format, a...), FgGreen, Bold))
}

func (p *Printer) Error(format string, a ...any) {
	fmt.Fprintln(p.Err, p.paint("✗ "+fmt.Sprintf(format, a...), FgRed, Bold))
}

func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintln(p.Out, p.paint(fmt.Sprintf(format, a...), FgCyan))
}

func (p *Printer) Warn(format string, a ...any) {
	fmt.Fprintln(p.Err, p.paint("⚠ "+fmt.Sprintf(format, a...), FgYellow))
}

// Structured writes v as JSON or YAML. It returns false for the table format
// so the caller can render its own table.
func (p *Printer) Structured(v any) (bool, error) {
	switch p.Format {
	case FormatJSON:
		enc := json.NewEncoder(p.Out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(p.Out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return false, nil
	}
}

// Table collects rows and renders them with padded columns.
type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render writes the table through p.
func (t *Table) Render(p *Printer) {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var header, sep strings.Builder
	for i, h := range t.headers {
		fmt.Fprintf(&header, "%-*s  ", widths[i], h)
		sep.WriteString(strings.Repeat("-", widths[i]) + "  ")
	}
	fmt.Fprintln(p.Out, p.paint(strings.TrimRight(header.String(), " "), FgWhite, Bold))
	fmt.Fprintln(p.Out, strings.TrimRight(sep.String(), " "))

	for _, row := range t.rows {
		var line strings.Builder
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			fmt.Fprintf(&line, "%-*s  ", widths[i], cell)
		}
		fmt.Fprintln(p.Out, strings.TrimRight(line.String(), " "))
	}
}
