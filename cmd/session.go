package cmd

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/archiver"
	"github.com/JakeFAU/recurse-archiver/internal/clock/system"
	"github.com/JakeFAU/recurse-archiver/internal/config"
	"github.com/JakeFAU/recurse-archiver/internal/crawler"
	"github.com/JakeFAU/recurse-archiver/internal/export"
	"github.com/JakeFAU/recurse-archiver/internal/progress"
	progresssinks "github.com/JakeFAU/recurse-archiver/internal/progress/sinks"
	"github.com/JakeFAU/recurse-archiver/internal/server"
	"github.com/JakeFAU/recurse-archiver/internal/storage/sqlite"
)

const hubCloseTimeout = 5 * time.Second

// session holds what one CLI crawl needs: a capture driver, the progress
// hub, the exporter and, when it opens, the history database.
type session struct {
	out      io.Writer
	logger   *zap.Logger
	driver   *server.Driver
	hub      *progress.Hub
	exporter *export.Exporter
	history  *sqlite.Store
	limiter  crawler.RateLimiter
}

func newSession(cmd *cobra.Command, cfg config.Config, logger *zap.Logger, navTimeout time.Duration) (*session, error) {
	driver, err := server.NewDriver(cfg.Capture, navTimeout, logger)
	if err != nil {
		return nil, err
	}
	return &session{
		out:      cmd.OutOrStdout(),
		logger:   logger,
		driver:   driver,
		hub:      progress.NewHub(progress.Config{Logger: logger}, progresssinks.NewLogSink(logger.Named("progress"))),
		exporter: export.New(export.WithLogger(logger.Named("export")), export.WithClock(system.New())),
		history:  openHistory(cfg, logger),
		limiter:  server.AssetLimiter(cfg.Capture),
	}, nil
}

// archiver opens a capture session and builds an Archiver over it.
func (s *session) archiver(ctx context.Context, opts crawler.Options) (*archiver.Archiver, error) {
	capturer, err := s.driver.NewCapturer(ctx)
	if err != nil {
		return nil, err
	}
	options := []archiver.Option{
		archiver.WithLogger(s.logger),
		archiver.WithEmitter(progress.Multi(s.hub, consoleEmitter(s.out))),
		archiver.WithExporter(s.exporter),
	}
	if s.history != nil {
		options = append(options, archiver.WithRepository(s.history))
	}
	if s.limiter != nil {
		options = append(options, archiver.WithRateLimiter(s.limiter))
	}
	a, err := archiver.New(capturer, opts, options...)
	if err != nil {
		_ = capturer.Close()
		return nil, err
	}
	return a, nil
}

func (s *session) close(ctx context.Context) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hubCloseTimeout)
	defer cancel()
	if err := s.hub.Close(closeCtx); err != nil {
		s.logger.Warn("progress hub close failed", zap.Error(err))
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.logger.Warn("history store close failed", zap.Error(err))
		}
	}
	s.driver.Close()
}
