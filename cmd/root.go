package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/config"
	"github.com/JakeFAU/recurse-archiver/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
}

// cliApp holds the configuration and logger shared by every command.
type cliApp struct {
	cfg    config.Config
	logger *zap.Logger
}

func (a *cliApp) GetLogger() *zap.Logger   { return a.logger }
func (a *cliApp) GetConfig() config.Config { return a.cfg }

// Close flushes buffered log entries.
func (a *cliApp) Close() {
	_ = a.logger.Sync()
}

// newApp is the application factory. It's a variable so we can
// replace it with a mock factory in our tests.
var newApp = func(_ context.Context, v *viper.Viper) (App, error) {
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &cliApp{cfg: cfg, logger: logger}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	v := config.New()

	cmd := &cobra.Command{
		Use:   "recurse-archiver",
		Short: "Archive websites into offline-browsable bundles.",
		Long: `recurse-archiver crawls a website from a seed URL, renders each page,
downloads the assets it references and writes a self-contained archive with
rewritten links, a manifest and a sitemap. It can also size a site up front,
keep a history of past crawls and run as an HTTP job service.`,
		SilenceUsage: true,

		// This hook runs before the subcommand's RunE and injects the app.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config: %w", err)
				}
			}
			appInstance, err := newApp(cmd.Context(), v)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		// This hook ensures services are shut down gracefully.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	flags.Bool("dev", false, "human-readable development logging")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	cobra.CheckErr(v.BindPFlag("logging.development", flags.Lookup("dev")))
	cobra.CheckErr(v.BindPFlag("logging.level", flags.Lookup("log-level")))

	cmd.AddCommand(
		newArchiveCmd(),
		newAnalyzeCmd(),
		newHistoryCmd(),
		newServeCmd(v),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signalContext()
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
