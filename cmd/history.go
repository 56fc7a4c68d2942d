package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/storage/sqlite"
)

// newHistoryCmd creates the 'history' subcommand.
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past crawls",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCommand,
	}
	cmd.Flags().Int("limit", 20, "maximum number of crawls to list")
	cmd.Flags().String("kind", "", "only list crawls of this kind (archive, analyze, selected)")
	return cmd
}

func runHistoryCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	store := openHistory(appInstance.GetConfig(), appInstance.GetLogger())
	if store == nil {
		return fmt.Errorf("crawl history is unavailable")
	}
	defer func() { _ = store.Close() }()

	limit, _ := cmd.Flags().GetInt("limit")
	kind, _ := cmd.Flags().GetString("kind")
	records, err := store.GetAll(cmd.Context(), sqlite.Crawls, sqlite.IndexFilter{})
	if err != nil {
		return fmt.Errorf("list crawls: %w", err)
	}
	crawls := make([]crawler.CrawlRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		var rec crawler.CrawlRecord
		if err := json.Unmarshal(records[i].Value, &rec); err != nil {
			continue
		}
		if kind != "" && string(rec.Kind) != kind {
			continue
		}
		crawls = append(crawls, rec)
		if limit > 0 && len(crawls) == limit {
			break
		}
	}
	printHistory(cmd.OutOrStdout(), crawls, time.Now())
	return nil
}

func printHistory(w io.Writer, crawls []crawler.CrawlRecord, now time.Time) {
	if len(crawls) == 0 {
		fmt.Fprintln(w, "No crawls recorded yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tKIND\tSEED\tPAGES\tSIZE\tOUTPUT")
	for _, c := range crawls {
		output := c.OutputPath
		if output == "" {
			output = "-"
		}
		if c.Stopped {
			output += " (stopped)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			humanize.RelTime(c.StartedAt, now, "ago", "from now"),
			c.Kind,
			c.SeedURL,
			c.Counters.Pages,
			humanBytes(c.Counters.TotalBytes),
			output,
		)
	}
	_ = tw.Flush()
}
