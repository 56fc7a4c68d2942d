package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/recurse-archiver/internal/export"
	"github.com/JakeFAU/recurse-archiver/internal/pagetree"
)

// newAnalyzeCmd creates the 'analyze' subcommand.
func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <url>",
		Short: "Size a site and print its page tree",
		Long: `Walks the site rooted at <url> without storing content and prints the
pages grouped by URL path with their estimated sizes. With --archive the
analyzed pages, minus any --exclude subtrees, are captured afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyzeCommand,
	}
	addCaptureFlags(cmd.Flags())
	addLimitFlags(cmd.Flags())
	f := cmd.Flags()
	f.Bool("json", false, "print the result as JSON")
	f.Bool("archive", false, "archive the selected pages after analyzing")
	f.StringSlice("exclude", nil, "path subtree to leave out of --archive, e.g. /blog (repeatable)")
	f.StringP("output", "o", "", "output for --archive")
	return cmd
}

func runAnalyzeCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()
	f := cmd.Flags()

	if err := applyCaptureFlags(f, &cfg.Capture); err != nil {
		return err
	}
	opts := cfg.AnalyzeOptions(args[0])
	if err := applyLimitFlags(f, &opts); err != nil {
		return err
	}

	s, err := newSession(cmd, cfg, logger, opts.Timeout)
	if err != nil {
		return err
	}
	defer s.close(cmd.Context())

	a, err := s.archiver(cmd.Context(), opts)
	if err != nil {
		return err
	}
	res, err := a.Analyze(cmd.Context())
	if err != nil {
		return fmt.Errorf("analyze %s: %w", opts.SeedURL, err)
	}

	excludes, _ := f.GetStringSlice("exclude")
	if err := excludePaths(res.Tree, excludes); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := f.GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encode analysis: %w", err)
		}
	} else {
		printAnalysis(out, res)
	}

	if doArchive, _ := f.GetBool("archive"); !doArchive || res.Stopped {
		return nil
	}
	urls := pagetree.SelectedURLs(res.Tree)
	if len(urls) == 0 {
		return fmt.Errorf("nothing selected to archive")
	}
	archiveOpts := cfg.ArchiveOptions(args[0])
	archiveOpts.OutputPath, _ = f.GetString("output")
	if archiveOpts.OutputPath == "" {
		archiveOpts.OutputPath = export.DefaultOutputPath(cfg.Export.OutputDir, archiveOpts.SeedURL, time.Now())
	}
	selected, err := s.archiver(cmd.Context(), archiveOpts)
	if err != nil {
		return err
	}
	result, err := selected.RunSelected(cmd.Context(), urls)
	if err != nil {
		return fmt.Errorf("archive selection: %w", err)
	}
	printResult(out, result)
	return nil
}

// excludePaths deselects the subtree of each path. Unknown paths are an
// error so typos do not silently archive everything.
func excludePaths(root *pagetree.Node, paths []string) error {
	for _, p := range paths {
		node := pagetree.Find(root, p)
		if node == nil {
			return fmt.Errorf("no analyzed pages under %s", p)
		}
		pagetree.Toggle(node, false)
	}
	return nil
}
