package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-yaml"
)

// OutputFormat selects how Output renders a result.
type OutputFormat string

const (
	FormatYAML  OutputFormat = "yaml"
	FormatJSON  OutputFormat = "json"
	FormatTable OutputFormat = "table"
	FormatRaw   OutputFormat = "raw"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatYAML, FormatJSON, FormatTable, FormatRaw:
		return f, nil
	case "":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("cli: unsupported output format %q", s)
}

// Table is a result that can print itself as rows.
type Table interface {
	Header() []string
	Rows() [][]string
}

// OutputOptions configures Output.
type OutputOptions struct {
	Format OutputFormat
	// File is the output path; empty writes to stdout.
	File string
	// Indent is the JSON indentation. Default two spaces.
	Indent string
	// Writer overrides File.
	Writer io.Writer
}

// Output writes result in the configured format.
func Output(result any, opts OutputOptions) error {
	var w io.Writer = os.Stdout
	if opts.Writer != nil {
		w = opts.Writer
	} else if opts.File != "" {
		f, err := os.Create(opts.File)
		if err != nil {
			return fmt.Errorf("cli: create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch opts.Format {
	case FormatJSON:
		return outputJSON(w, result, opts.Indent)
	case FormatYAML, "":
		return outputYAML(w, result)
	case FormatTable:
		t, ok := result.(Table)
		if !ok {
			return outputYAML(w, result)
		}
		return outputTable(w, t)
	case FormatRaw:
		return outputRaw(w, result)
	default:
		return fmt.Errorf("cli: unsupported output format %q", opts.Format)
	}
}

func outputJSON(w io.Writer, result any, indent string) error {
	enc := json.NewEncoder(w)
	if indent == "" {
		indent = "  "
	}
	enc.SetIndent("", indent)
	return enc.Encode(result)
}

func outputYAML(w io.Writer, result any) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return fmt.Errorf("cli: format output: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func outputTable(w io.Writer, t Table) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if h := t.Header(); len(h) > 0 {
		fmt.Fprintln(tw, strings.Join(h, "\t"))
	}
	for _, row := range t.Rows() {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func outputRaw(w io.Writer, result any) error {
	switch v := result.(type) {
	case []byte:
		_, err := w.Write(v)
		return err
	case string:
		_, err := io.WriteString(w, v)
		return err
	default:
		return outputYAML(w, result)
	}
}

// PrintVerbose writes a diagnostic line to stderr when verbose is set.
func PrintVerbose(verbose bool, format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, "[verbose] "+format+"\n", args...)
	}
}
