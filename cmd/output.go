package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

const (
	formatTable = "table"
	formatCSV   = "csv"
	formatJSON  = "json"
)

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("format", formatTable, "output format: table, csv or json")
	cmd.Flags().String("output", "", "output file path (default: stdout)")
}

// outputTarget reads --format and --output and opens the destination.
// The returned close func is safe to defer.
func outputTarget(cmd *cobra.Command) (io.Writer, string, func(), error) {
	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")

	switch format {
	case formatTable, formatCSV, formatJSON:
	default:
		return nil, "", nil, eris.Errorf("--format must be table, csv or json (got %q)", format)
	}

	if outputPath == "" {
		return cmd.OutOrStdout(), format, func() {}, nil
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, "", nil, eris.Wrapf(err, "create output file %s", outputPath)
	}
	return f, format, func() { _ = f.Close() }, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "encode json")
	}
	return nil
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}
