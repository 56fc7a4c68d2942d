package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/config"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/export"
	"github.com/JakeFAU/recurse-archiver/internal/storage/sqlite"
)

// newArchiveCmd creates the 'archive' subcommand.
func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <url>",
		Short: "Capture a site into an offline archive",
		Long: `Crawls the site rooted at <url> breadth-first, staying on its origin,
and writes every captured page with its assets to a zip file, a folder or a
gs://bucket/prefix. Interrupting the run stops the crawl and still writes
what was captured.`,
		Args: cobra.ExactArgs(1),
		RunE: runArchiveCommand,
	}
	addCaptureFlags(cmd.Flags())
	addLimitFlags(cmd.Flags())
	f := cmd.Flags()
	f.StringP("output", "o", "", "output .zip file, folder or gs:// prefix (default <output_dir>/<domain>_<date>.zip)")
	f.Int("delay", 0, "pause between pages in milliseconds")
	f.Int("timeout", 0, "navigation timeout in milliseconds")
	f.Bool("no-images", false, "skip images")
	f.Bool("no-css", false, "skip stylesheets")
	f.Bool("no-js", false, "skip scripts")
	f.Bool("no-fonts", false, "skip fonts")
	f.Bool("no-media", false, "skip audio and video")
	f.Bool("no-discovery", false, "do not read robots.txt and sitemaps for extra URLs")
	return cmd
}

func addCaptureFlags(f *pflag.FlagSet) {
	f.String("driver", "", "capture driver: chromedp, http or auto")
	f.Bool("visible", false, "show the browser window")
	f.StringP("cookies", "c", "", "cookies JSON file exported from a browser")
}

func addLimitFlags(f *pflag.FlagSet) {
	f.Int("depth", 0, "maximum link depth from the seed")
	f.Int("pages", 0, "maximum number of pages")
}

// applyCaptureFlags overrides the capture section with explicitly set flags.
func applyCaptureFlags(f *pflag.FlagSet, c *config.CaptureConfig) error {
	if f.Changed("driver") {
		driver, err := f.GetString("driver")
		if err != nil {
			return err
		}
		c.Driver = driver
	}
	if visible, _ := f.GetBool("visible"); visible {
		c.Headless = false
	}
	if f.Changed("cookies") {
		path, err := f.GetString("cookies")
		if err != nil {
			return err
		}
		c.CookiesFile = path
	}
	return nil
}

// applyArchiveFlags overrides opts with explicitly set flags. Unset flags
// keep the configured defaults.
func applyArchiveFlags(f *pflag.FlagSet, opts *crawler.Options) error {
	if err := applyLimitFlags(f, opts); err != nil {
		return err
	}
	if f.Changed("output") {
		opts.OutputPath, _ = f.GetString("output")
	}
	if f.Changed("delay") {
		ms, _ := f.GetInt("delay")
		opts.Delay = time.Duration(ms) * time.Millisecond
	}
	if f.Changed("timeout") {
		ms, _ := f.GetInt("timeout")
		opts.Timeout = time.Duration(ms) * time.Millisecond
	}
	skip := func(name string) bool {
		v, _ := f.GetBool(name)
		return v
	}
	if skip("no-images") {
		opts.IncludeAssets.Images = false
	}
	if skip("no-css") {
		opts.IncludeAssets.CSS = false
	}
	if skip("no-js") {
		opts.IncludeAssets.JS = false
	}
	if skip("no-fonts") {
		opts.IncludeAssets.Fonts = false
	}
	if skip("no-media") {
		opts.IncludeAssets.Media = false
	}
	if skip("no-discovery") {
		opts.SmartDiscovery = false
	}
	return nil
}

func applyLimitFlags(f *pflag.FlagSet, opts *crawler.Options) error {
	if f.Changed("depth") {
		depth, err := f.GetInt("depth")
		if err != nil {
			return err
		}
		opts.MaxDepth = depth
	}
	if f.Changed("pages") {
		pages, err := f.GetInt("pages")
		if err != nil {
			return err
		}
		opts.MaxPages = pages
	}
	return nil
}

func runArchiveCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.GetConfig()
	logger := appInstance.GetLogger()

	if err := applyCaptureFlags(cmd.Flags(), &cfg.Capture); err != nil {
		return err
	}
	opts := cfg.ArchiveOptions(args[0])
	if err := applyArchiveFlags(cmd.Flags(), &opts); err != nil {
		return err
	}
	if opts.OutputPath == "" {
		opts.OutputPath = export.DefaultOutputPath(cfg.Export.OutputDir, opts.SeedURL, time.Now())
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
	res, err := a.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("archive %s: %w", opts.SeedURL, err)
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

// openHistory opens the crawl history database. History is best effort for
// the CLI: a failure is logged and the crawl runs without it.
func openHistory(cfg config.Config, logger *zap.Logger) *sqlite.Store {
	path := cfg.Storage.SQLitePath
	if path == "" {
		path = config.DefaultSQLitePath()
	}
	store, err := sqlite.Open(path, sqlite.DefaultOptions())
	if err != nil {
		logger.Warn("crawl history unavailable", zap.String("path", path), zap.Error(err))
		return nil
	}
	return store
}
