package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lvcoi/tubeflow/internal/backend"
	"github.com/lvcoi/tubeflow/internal/config"
	"github.com/lvcoi/tubeflow/internal/encode"
	"github.com/lvcoi/tubeflow/internal/extract"
	"github.com/lvcoi/tubeflow/internal/history"
	"github.com/lvcoi/tubeflow/internal/logging"
	"github.com/lvcoi/tubeflow/internal/metrics"
	"github.com/lvcoi/tubeflow/internal/orchestrator"
	"github.com/lvcoi/tubeflow/internal/progress"
	"github.com/lvcoi/tubeflow/internal/session"
)

// engine is the download core shared by serve and get.
type engine struct {
	locator  *backend.Locator
	probe    *backend.EncoderProbe
	store    *progress.Store
	sessions *session.Registry
	history  *history.DB
	metrics  *metrics.Metrics
	orch     *orchestrator.Orchestrator
}

type engineOptions struct {
	publisher   progress.Publisher
	withMetrics bool
}

func newEngine(cfg *config.Config, logger *slog.Logger, opts engineOptions) (*engine, error) {
	e := &engine{
		locator: backend.NewLocator(backend.Options{
			ConfiguredPath:  cfg.Backend.YtDlpPath,
			ToolDir:         cfg.Paths.ToolDir,
			VersionTimeout:  cfg.VersionTimeout(),
			LibraryFallback: cfg.Backend.LibraryFallback,
		}, logger),
		probe:    backend.NewEncoderProbe(cfg.Backend.FFmpegPath, logger),
		store:    progress.NewStore(cfg.ProgressGrace(), opts.publisher),
		sessions: session.NewRegistry(cfg.SessionTTL()),
	}

	deps := orchestrator.Deps{
		Locator:      e.locator,
		EncoderProbe: e.probe,
		Encoder:      encode.New(cfg.Backend.FFmpegPath, cfg.Audio.Bitrate, logger),
		Library:      extract.NewLibrary(cfg.LibraryTimeout(), logger),
		NewExternal: func(path string) extract.Runner {
			return extract.NewExternal(path, cfg.TitleTimeout(), logger)
		},
		Progress: e.store,
		Sessions: e.sessions,
		TempDir:  cfg.Paths.TempDir,
		Logger:   logger,
	}

	if cfg.History.Enabled {
		db, err := history.Open(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		e.history = db
		deps.History = db
	}
	if opts.withMetrics && cfg.Metrics.Enabled {
		e.metrics = metrics.New()
		deps.Observer = e.metrics
	}

	orch, err := orchestrator.New(deps)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.orch = orch
	return e, nil
}

// announce runs backend discovery up front so the first request does not pay
// for it, and reports the result.
func (e *engine) announce(ctx context.Context, logger *slog.Logger) backend.Choice {
	choice := e.locator.Locate(ctx)
	encoder := e.probe.Available(ctx)
	if e.metrics != nil {
		e.metrics.SetBackend(choice.Backend, choice.Version, encoder)
	}
	attrs := []slog.Attr{
		logging.String(logging.FieldBackend, string(choice.Backend)),
		logging.Bool("encoder_available", encoder),
	}
	if choice.Version != "" {
		attrs = append(attrs, logging.String("version", choice.Version))
	}
	if choice.Backend == extract.BackendUnavailable {
		logger.LogAttrs(ctx, slog.LevelWarn, "no extraction backend; downloads will fail until yt-dlp is installed", attrs...)
	} else {
		logger.LogAttrs(ctx, slog.LevelInfo, "extraction backend ready", attrs...)
	}
	if !encoder {
		logger.Warn("ffmpeg not available; audio is delivered in its source container and high-resolution video is limited to combined streams")
	}
	return choice
}

func (e *engine) Close() {
	if e.history != nil {
		_ = e.history.Close()
	}
	extract.CloseIdleConnections()
}
