package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	warnColor    = color.New(color.FgYellow)
	headerColor  = color.New(color.FgWhite, color.Bold)
)

// printer writes human or JSON output for one command invocation.
type printer struct {
	out    io.Writer
	errOut io.Writer
	json   bool
}

func (p *printer) Success(format string, a ...any) {
	successColor.Fprintf(p.out, "✓ "+format+"\n", a...)
}

func (p *printer) Error(format string, a ...any) {
	errorColor.Fprintf(p.errOut, "✗ "+format+"\n", a...)
}

func (p *printer) Info(format string, a ...any) {
	infoColor.Fprintf(p.out, format+"\n", a...)
}

func (p *printer) Warn(format string, a ...any) {
	warnColor.Fprintf(p.out, "⚠ "+format+"\n", a...)
}

func (p *printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type table struct {
	headers []string
	rows    [][]string
}

func newTable(headers ...string) *table {
	return &table{headers: headers}
}

func (t *table) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

func (t *table) Render(w io.Writer) {
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

	for i, h := range t.headers {
		headerColor.Fprintf(w, "%-*s  ", widths[i], h)
	}
	fmt.Fprintln(w)
	for i := range t.headers {
		fmt.Fprint(w, strings.Repeat("-", widths[i])+"  ")
	}
	fmt.Fprintln(w)
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(w, "%-*s  ", widths[i], cell)
			}
		}
		fmt.Fprintln(w)
	}
}
