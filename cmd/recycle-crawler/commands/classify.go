package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maltedev/recycle-crawler/internal/collector"
	"github.com/maltedev/recycle-crawler/internal/export"
	"github.com/maltedev/recycle-crawler/internal/models"
	"github.com/maltedev/recycle-crawler/internal/parser"
)

var classifyFlags struct {
	formats []string
	out     string
	preview int
}

func init() {
	f := classifyCmd.Flags()
	f.StringSliceVar(&classifyFlags.formats, "format", nil, "export formats: csv, json, xlsx (default from config)")
	f.StringVar(&classifyFlags.out, "out", "", "output directory (default from config)")
	f.IntVar(&classifyFlags.preview, "preview", -1, "rows to print per table, 0 disables")
	rootCmd.AddCommand(classifyCmd)
}

var classifyCmd = &cobra.Command{
	Use:   "classify <file>...",
	Short: "Classifies saved JSON or HTML responses and exports the records found, one table per kind.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawFormats := classifyFlags.formats
		if len(rawFormats) == 0 {
			rawFormats = cfg.Export.Formats
		}
		formats, err := parseFormats(rawFormats)
		if err != nil {
			return err
		}

		c := collector.New()
		for _, path := range args {
			body, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			recognized := 0
			for _, result := range parser.ClassifyBody(body) {
				if !result.Recognized() {
					continue
				}
				recognized++
				added := c.AddAll(result.Records)
				appLog.Info("classified", "file", path, "kind", result.Kind.String(), "records", len(result.Records), "added", added)
			}
			if recognized == 0 {
				appLog.Warn("no known record kind", "file", path)
			}
		}

		preview := classifyFlags.preview
		if preview < 0 {
			preview = cfg.Export.PreviewRows
		}

		out := cmd.OutOrStdout()
		exporter := export.NewExporter(firstNonEmpty(classifyFlags.out, cfg.Export.Dir), formats, appLog)
		prefix := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))

		exported := 0
		for _, kind := range models.Kinds {
			records := c.Snapshot(kind)
			if len(records) == 0 {
				continue
			}
			table, err := export.RecordRows(kind, records)
			if err != nil {
				return err
			}
			if preview > 0 {
				export.RenderTable(out, table, preview)
			}

			paths, err := exporter.Export(prefix+"_"+table.Name, table)
			if err != nil && !errors.Is(err, export.ErrNoRows) {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(out, p)
			}
			exported++
		}

		if exported == 0 {
			return errors.New("no records recognized")
		}
		return nil
	},
}
