package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the collected results",
		Long:  "Export the shared results file as CSV (default) or, with --format json, as JSON objects keyed by column. Write to a file with -o.",
		Run:   runExport,
	}

	cmd.Flags().StringP("out", "o", "", "Output file (default: stdout)")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	outPath, _ := cmd.Flags().GetString("out")
	format, err := exportFormat(cmd.Flag("format").Changed, formatFlag)
	if err != nil {
		exitErr("export", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	log := newLogger(cfg)
	defer log.Sync()

	b, err := openBackend(cmd.Context(), cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer b.Close()

	records, err := newSink(cfg, b, log).ReadAll(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}

	var w io.Writer = os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			exitErr("create output", err)
		}
		defer f.Close()
		w = f
	}

	if format == "json" {
		err = writeJSON(w, records)
	} else {
		err = writeCSV(w, records)
	}
	if err != nil {
		exitErr("export", err)
	}
}

// exportFormat resolves --format for export, where an unset flag means csv.
func exportFormat(set bool, format string) (string, error) {
	if !set {
		return "csv", nil
	}
	switch format {
	case "csv", "json":
		return format, nil
	}
	return "", fmt.Errorf("unsupported export format %q (want csv or json)", format)
}

func writeCSV(w io.Writer, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(records); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// writeJSON emits one object per data row, keyed by the header.
func writeJSON(w io.Writer, records [][]string) error {
	rows := []map[string]string{}
	if len(records) > 0 {
		header := records[0]
		for _, rec := range records[1:] {
			row := make(map[string]string, len(header))
			for i, col := range header {
				if i < len(rec) {
					row[col] = rec[i]
				}
			}
			rows = append(rows, row)
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
