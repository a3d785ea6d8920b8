package main

import (
	"github.com/spf13/cobra"

	"github.com/lvcoi/tubeflow/internal/logging"
	"github.com/lvcoi/tubeflow/internal/web"
	"github.com/lvcoi/tubeflow/internal/ws"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}

			runCtx := cmd.Context()
			hub := ws.NewHub(logger)
			go hub.Run(runCtx)

			eng, err := newEngine(cfg, logger, engineOptions{publisher: hub, withMetrics: true})
			if err != nil {
				return err
			}
			defer eng.Close()

			eng.sessions.StartCleanup(runCtx, cfg.SweepInterval())
			eng.announce(runCtx, logger)

			opts := web.Options{
				Downloader:   eng.orch,
				Progress:     eng.store,
				Sessions:     eng.sessions,
				Locator:      eng.locator,
				EncoderProbe: eng.probe,
				Hub:          hub,
				Metrics:      eng.metrics,
				StaticDir:    cfg.Server.StaticDir,
				Logger:       logger,
			}
			if eng.history != nil {
				opts.History = eng.history
			}
			srv, err := web.New(opts)
			if err != nil {
				return err
			}

			logger.Info("tubeflow starting", logging.String("listen", cfg.Server.Listen))
			err = srv.ListenAndServe(runCtx, cfg.Server.Listen)
			logger.Info("tubeflow stopped")
			return err
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides config and PORT)")
	return cmd
}
