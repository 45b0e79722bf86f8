package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

var outputFormats = []string{"table", "json", "yaml", "mermaid"}

var (
	styleWork    = color.New(color.FgGreen).SprintFunc()
	styleSkipped = color.New(color.Faint).SprintFunc()
	styleCreate  = color.New(color.FgGreen).SprintFunc()
	styleUpdate  = color.New(color.FgYellow).SprintFunc()
	styleDelete  = color.New(color.FgRed).SprintFunc()
	styleHeader  = color.New(color.Bold).SprintFunc()
)

func knownFormat(format string) bool {
	for _, f := range outputFormats {
		if f == format {
			return true
		}
	}
	return false
}

// resolveFormat picks the output format: the flag, then default_format from
// the configuration, then table.
func resolveFormat(flagValue string, allowed ...string) (string, error) {
	format := flagValue
	if format == "" {
		format = viper.GetString(ConfigKeyDefaultFormat)
	}
	if format == "" {
		format = "table"
	}
	for _, a := range allowed {
		if a == format {
			return format, nil
		}
	}
	return "", fmt.Errorf("unsupported output format %q (expected %s)", format, strings.Join(allowed, ", "))
}

func encodeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func encodeYAML(out io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func isTerminalWriter(w io.Writer) bool {
	type fdProvider interface {
		Fd() uintptr
	}
	if v, ok := w.(fdProvider); ok {
		return term.IsTerminal(int(v.Fd()))
	}
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// useColor reports whether styled output should be written to w.
func useColor(w io.Writer) bool {
	return isTerminalWriter(w) && !color.NoColor
}

// writeTable writes rows as aligned columns. Widths are measured on the
// plain cell text so styling never shifts columns; style may be nil.
func writeTable(out io.Writer, headers []string, rows [][]string, style func(col int, cell string) string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				if w := runewidth.StringWidth(cell); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}

	renderRow := func(cells []string, styleCell func(int, string) string) {
		var b strings.Builder
		for i, cell := range cells {
			text := cell
			if styleCell != nil {
				text = styleCell(i, cell)
			}
			b.WriteString(text)
			if i == len(cells)-1 {
				break
			}
			pad := widths[i] - runewidth.StringWidth(cell)
			if pad < 0 {
				pad = 0
			}
			b.WriteString(strings.Repeat(" ", pad+2))
		}
		fmt.Fprintln(out, strings.TrimRight(b.String(), " "))
	}

	var headerStyle func(int, string) string
	if style != nil {
		headerStyle = func(_ int, s string) string { return styleHeader(s) }
	}
	renderRow(headers, headerStyle)
	for _, row := range rows {
		renderRow(row, style)
	}
}

func styleTaskType(taskType string) string {
	if taskType == catalog.TypeSkipped {
		return styleSkipped(taskType)
	}
	return styleWork(taskType)
}
