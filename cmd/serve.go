package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JakeFAU/recurse-archiver/internal/server"
)

// newServeCmd creates the 'serve' subcommand. Its flags bind straight to the
// configuration keys they override.
func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP job service",
		Long: `Starts the HTTP API that accepts archive and analyze jobs, runs them on a
worker pool and reports their progress. SIGINT or SIGTERM stops intake,
lets running jobs write what they captured and shuts down.`,
		Args: cobra.NoArgs,
		RunE: runServeCommand,
	}
	f := cmd.Flags()
	f.Int("port", 0, "listen port")
	f.Int("workers", 0, "number of concurrent jobs")
	cobra.CheckErr(v.BindPFlag("server.port", f.Lookup("port")))
	cobra.CheckErr(v.BindPFlag("jobs.workers", f.Lookup("workers")))
	return cmd
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	app, err := server.Build(cmd.Context(), appInstance.GetConfig(), appInstance.GetLogger())
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	return app.Run(cmd.Context())
}
