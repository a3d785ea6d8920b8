package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lvcoi/tubeflow/internal/backend"
	"github.com/lvcoi/tubeflow/internal/extract"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Report which extraction backend and encoder this host provides",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			locator := backend.NewLocator(backend.Options{
				ConfiguredPath:  cfg.Backend.YtDlpPath,
				ToolDir:         cfg.Paths.ToolDir,
				VersionTimeout:  cfg.VersionTimeout(),
				LibraryFallback: cfg.Backend.LibraryFallback,
			}, logger)
			probe := backend.NewEncoderProbe(cfg.Backend.FFmpegPath, logger)

			choice := locator.Probe(cmd.Context())
			encoder := probe.Available(cmd.Context())

			fmt.Fprintln(cmd.OutOrStdout(), renderReport(probeRows(choice, probe.Binary(), encoder)))
			if choice.Backend == extract.BackendUnavailable {
				return &exitError{code: 3}
			}
			return nil
		},
	}
}

func probeRows(choice backend.Choice, ffmpeg string, encoder bool) [][]string {
	detail := choice.Path
	if choice.Version != "" {
		detail = fmt.Sprintf("%s (%s)", choice.Path, choice.Version)
	}
	if choice.Backend == extract.BackendLibrary {
		detail = "bundled library; no yt-dlp binary found"
	}
	if choice.Backend == extract.BackendUnavailable {
		detail = "install yt-dlp or enable backend.library_fallback"
	}

	mode := "combined streams only; audio in source container"
	if encoder {
		mode = "merge up to 1080p; mp3 audio"
	}
	return [][]string{
		{"Extraction backend", string(choice.Backend), detail},
		{"Encoder", yesNo(encoder), ffmpeg},
		{"Delivery", mode, ""},
	}
}
