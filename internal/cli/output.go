package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates a new Output instance.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &Output{
		writer:       cmd.OutOrStdout(),
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && !color.NoColor,
	}
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON outputs data as JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success prints a success message in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.colored(color.New(color.FgGreen), format, args...)
}

// Error prints an error message in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.colored(color.New(color.FgRed), format, args...)
}

// Warning prints a warning message in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.colored(color.New(color.FgYellow), format, args...)
}

// Info prints an info message in cyan.
func (o *Output) Info(format string, args ...interface{}) {
	o.colored(color.New(color.FgCyan), format, args...)
}

// Bold prints a bold message.
func (o *Output) Bold(format string, args ...interface{}) {
	o.colored(color.New(color.Bold), format, args...)
}

// Dim prints a dimmed message.
func (o *Output) Dim(format string, args ...interface{}) {
	o.colored(color.New(color.Faint), format, args...)
}

func (o *Output) colored(c *color.Color, format string, args ...interface{}) {
	o.paint(c)
	c.Fprintln(o.writer, fmt.Sprintf(format, args...))
}

// paint applies this Output's color setting to c, overriding the
// package-wide terminal detection.
func (o *Output) paint(c *color.Color) *color.Color {
	if o.colorEnabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

// Green returns green colored text.
func (o *Output) Green(text string) string {
	return o.paint(color.New(color.FgGreen)).Sprint(text)
}

// Red returns red colored text.
func (o *Output) Red(text string) string {
	return o.paint(color.New(color.FgRed)).Sprint(text)
}

// Yellow returns yellow colored text.
func (o *Output) Yellow(text string) string {
	return o.paint(color.New(color.FgYellow)).Sprint(text)
}

// Highlight returns bold cyan text.
func (o *Output) Highlight(text string) string {
	return o.paint(color.New(color.FgCyan, color.Bold)).Sprint(text)
}

// Table renders rows under headers.
type Table struct {
	tw *tablewriter.Table
}

// NewTable creates a new table writing to the output.
func NewTable(output *Output, headers ...string) *Table {
	tw := tablewriter.NewWriter(output.writer)
	tw.SetHeader(headers)
	tw.SetAutoFormatHeaders(false)
	tw.SetAutoWrapText(false)
	tw.SetBorder(false)
	tw.SetColumnSeparator(" ")
	tw.SetCenterSeparator("-")
	tw.SetHeaderAlignment(tablewriter.ALIGN_RIGHT)
	tw.SetAlignment(tablewriter.ALIGN_RIGHT)
	return &Table{tw: tw}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.tw.Append(cells)
}

// Render renders the table.
func (t *Table) Render() {
	t.tw.Render()
}
