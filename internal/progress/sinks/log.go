package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/recurse-archiver/internal/progress"
)

// LogSink emits structured logs for progress streams.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := append([]zap.Field{zap.String("job_id", evt.JobID)}, payloadFields(evt.Payload)...)
		switch evt.Payload.(type) {
		case progress.VisitFailed, progress.JobFailed:
			s.logger.Warn("progress event", fields...)
		case progress.SitemapProcessing:
			s.logger.Debug("progress event", fields...)
		default:
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func payloadFields(p progress.Payload) []zap.Field {
	switch v := p.(type) {
	case progress.JobStarted:
		return []zap.Field{zap.String("event", "started"), zap.String("kind", string(v.JobKind)), zap.String("url", v.URL)}
	case progress.PageCaptured:
		return []zap.Field{
			zap.String("event", "page"),
			zap.String("url", v.URL),
			zap.Int("depth", v.Depth),
			zap.Int("discovered", v.Discovered),
			zap.Int("downloaded", v.Downloaded),
		}
	case progress.VisitFailed:
		return []zap.Field{zap.String("event", "error"), zap.String("url", v.URL), zap.String("message", v.Message)}
	case progress.PageAnalyzed:
		return []zap.Field{
			zap.String("event", "analyzed"),
			zap.String("url", v.URL),
			zap.String("title", v.Title),
			zap.Int("depth", v.Depth),
			zap.Int64("size", v.Size),
			zap.Int64("total_size", v.TotalSize),
			zap.Int("total", v.Total),
			zap.Int("queued", v.Queued),
		}
	case progress.AnalyzeComplete:
		return []zap.Field{
			zap.String("event", "analyze_complete"),
			zap.Int("total", v.Total),
			zap.Int64("duration_ms", v.DurationMs),
			zap.Bool("stopped", v.Stopped),
		}
	case progress.JobComplete:
		return []zap.Field{
			zap.String("event", "complete"),
			zap.Int("pages", v.Pages),
			zap.Int("assets", v.Assets),
			zap.Int64("total_bytes", v.TotalBytes),
			zap.String("output", v.OutputPath),
			zap.Int64("duration_ms", v.DurationMs),
		}
	case progress.JobFailed:
		return []zap.Field{zap.String("event", "failed"), zap.String("error", v.Error)}
	case progress.SitemapProcessing:
		return []zap.Field{zap.String("event", "sitemap"), zap.String("url", v.URL)}
	default:
		return nil
	}
}
