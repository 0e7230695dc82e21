package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/maltedev/recycle-crawler/internal/crawler"
	"github.com/maltedev/recycle-crawler/internal/database"
	"github.com/maltedev/recycle-crawler/internal/export"
)

var crawlFlags struct {
	mode    string
	formats []string
	out     string
	prefix  string
	preview int
	store   bool
}

func init() {
	f := crawlCmd.Flags()
	f.StringVar(&crawlFlags.mode, "mode", "", "fetch mode: browser or api (default from config)")
	f.StringSliceVar(&crawlFlags.formats, "format", nil, "export formats: csv, json, xlsx (default from config)")
	f.StringVar(&crawlFlags.out, "out", "", "output directory (default from config)")
	f.StringVar(&crawlFlags.prefix, "prefix", "", "output file name prefix (default from config)")
	f.IntVar(&crawlFlags.preview, "preview", -1, "rows to print as a console table, 0 disables")
	f.BoolVar(&crawlFlags.store, "store", false, "store the crawl in the database")
	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl <category-url>",
	Short: "Crawls every brand, collection and product of a category and exports the products.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		locator := args[0]

		modeFlag := crawlFlags.mode
		if modeFlag == "" {
			modeFlag = cfg.Crawler.Mode
		}
		mode, err := crawler.ParseMode(modeFlag)
		if err != nil {
			return err
		}

		rawFormats := crawlFlags.formats
		if len(rawFormats) == 0 {
			rawFormats = cfg.Export.Formats
		}
		formats, err := parseFormats(rawFormats)
		if err != nil {
			return err
		}

		runner := &crawlRunner{cfg: cfg, logger: appLog}
		started := time.Now()
		result, crawlErr := runner.Run(ctx, mode, locator)
		if result == nil {
			return crawlErr
		}
		if crawlErr != nil {
			appLog.Error("crawl ended early", "error", crawlErr)
		}

		out := cmd.OutOrStdout()
		export.RenderTable(out, statsTable(result.Stats), 0)

		products := export.ProductRows(result.Products())
		preview := crawlFlags.preview
		if preview < 0 {
			preview = cfg.Export.PreviewRows
		}
		if preview > 0 && products.Len() > 0 {
			export.RenderTable(out, products, preview)
		}

		dir := firstNonEmpty(crawlFlags.out, cfg.Export.Dir)
		prefix := firstNonEmpty(crawlFlags.prefix, cfg.Export.Prefix)
		paths, err := export.NewExporter(dir, formats, appLog).Export(prefix, products)
		switch {
		case errors.Is(err, export.ErrNoRows):
			appLog.Warn("no products to export")
		case err != nil:
			return err
		}
		for _, p := range paths {
			fmt.Fprintln(out, p)
		}

		if crawlFlags.store || cfg.Database.Enabled {
			if err := storeResult(ctx, mode, started, result, crawlErr); err != nil {
				return err
			}
		}

		if crawlErr != nil {
			return crawlErr
		}
		if len(result.Stats.FetchFailures) > 0 {
			fmt.Fprintf(os.Stderr, "%d fetches failed, results are partial\n", len(result.Stats.FetchFailures))
		}
		return nil
	},
}

func storeResult(ctx context.Context, mode crawler.Mode, started time.Time, result *crawler.Result, crawlErr error) error {
	db, err := openDatabase(context.WithoutCancel(ctx), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	run := &database.CrawlRun{
		ID:              uuid.New(),
		Locator:         result.Locator,
		Mode:            string(mode),
		Status:          database.CrawlStatusCompleted,
		CategoryID:      result.Category.CategoryID,
		FrontCategoryID: result.Category.FrontCategoryID,
		BizType:         result.Category.BizType,
		Brands:          result.Stats.Brands,
		Collections:     result.Stats.Collections,
		Products:        result.Stats.Products,
		Fetches:         result.Stats.Fetches,
		FetchFailures:   len(result.Stats.FetchFailures),
		StartedAt:       started,
		FinishedAt:      time.Now(),
	}
	switch {
	case crawlErr != nil:
		run.Status = database.CrawlStatusFailed
		msg := crawlErr.Error()
		run.Error = &msg
	case run.FetchFailures > 0:
		run.Status = database.CrawlStatusPartial
	}

	store := database.NewCrawlStore(db, cfg.Redis.Stream)
	if err := store.Save(context.WithoutCancel(ctx), run, result.Products()); err != nil {
		return err
	}
	appLog.Info("crawl stored", "id", run.ID, "status", run.Status)
	return nil
}

func statsTable(s crawler.Stats) export.Table {
	row := func(k string, v int) []string { return []string{k, strconv.Itoa(v)} }
	return export.Table{
		Name:   "summary",
		Header: []string{"metric", "value"},
		Rows: [][]string{
			row("brands", s.Brands),
			row("groups", s.Groups),
			row("collections", s.Collections),
			row("products", s.Products),
			row("fetches", s.Fetches),
			row("skipped", s.Skipped),
			row("fetch failures", len(s.FetchFailures)),
			row("empty brands", len(s.EmptyBrands)),
			row("duplicates", s.Duplicates),
			row("unrecognized", s.Unrecognized),
			{"duration", s.Duration.Round(time.Millisecond).String()},
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
