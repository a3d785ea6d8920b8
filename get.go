package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/lvcoi/tubeflow/internal/app"
	"github.com/lvcoi/tubeflow/internal/extract"
	"github.com/lvcoi/tubeflow/internal/logging"
	"github.com/lvcoi/tubeflow/internal/orchestrator"
	"github.com/lvcoi/tubeflow/internal/session"
	"github.com/lvcoi/tubeflow/internal/tui"
)

func newGetCommand(ctx *commandContext) *cobra.Command {
	var (
		kindFlag  string
		outputDir string
		jobs      int
		jsonOut   bool
		quiet     bool
	)

	cmd := &cobra.Command{
		Use:   "get <url> [url...]",
		Short: "Download one or more videos to a directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := extract.ParseKind(kindFlag)
			if err != nil {
				return errors.New(extract.UserMessage(err))
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			reqs := make([]orchestrator.Request, 0, len(args))
			var invalid []app.Result
			for _, raw := range args {
				url := strings.TrimSpace(raw)
				if err := extract.ValidateURL(url); err != nil {
					invalid = append(invalid, app.Result{URL: url, Err: err, Error: extract.UserMessage(err)})
					continue
				}
				reqs = append(reqs, orchestrator.Request{
					SessionID: session.NewID(),
					URL:       url,
					Kind:      kind,
					Origin:    orchestrator.OriginPrimary,
				})
			}

			useTUI := !jsonOut && !quiet && isTerminal(os.Stderr) && len(reqs) > 0
			if useTUI {
				// The progress display owns stderr.
				logger = logging.NewNop()
			}

			eng, err := newEngine(cfg, logger, engineOptions{})
			if err != nil {
				return err
			}
			defer eng.Close()

			runCtx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var downloader app.Downloader = eng.orch
			var ui *tui.Manager
			if useTUI {
				items := make([]tui.Item, 0, len(reqs))
				for _, req := range reqs {
					items = append(items, tui.Item{ID: req.SessionID, Label: req.URL})
				}
				ui = tui.Start(runCtx, cancel, os.Stderr, eng.store, items)
				downloader = finishNotifier{next: eng.orch, ui: ui}
			}

			results := app.Run(runCtx, downloader, reqs, jobs, app.FileSinks(outputDir))
			results = append(invalid, results...)

			if ui != nil {
				ui.Stop()
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				writeJSONResults(out, results)
			} else if !quiet {
				writeTextResults(out, cmd.ErrOrStderr(), results)
			}

			if code := app.ExitCode(runCtx, results); code != app.ExitOK {
				return &exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "video", "What to download: video or audio")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory to write downloads into")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 1, "Number of concurrent downloads")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit one JSON object per result")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress and summary output")
	return cmd
}

// finishNotifier tells the progress UI when each download ends.
type finishNotifier struct {
	next app.Downloader
	ui   *tui.Manager
}

func (f finishNotifier) Run(ctx context.Context, req orchestrator.Request, sink orchestrator.Sink) (orchestrator.Result, error) {
	res, err := f.next.Run(ctx, req, sink)
	msg := ""
	if err != nil {
		msg = extract.UserMessage(err)
	}
	f.ui.Finish(req.SessionID, msg)
	return res, err
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func writeJSONResults(w io.Writer, results []app.Result) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, res := range results {
		payload := struct {
			Type     string `json:"type"`
			Category string `json:"category,omitempty"`
			app.Result
		}{Type: "result", Result: res}
		if res.Err != nil {
			payload.Type = "error"
			payload.Category = string(extract.CategoryOf(res.Err))
		}
		_ = enc.Encode(payload)
	}
}

func writeTextResults(out, errOut io.Writer, results []app.Result) {
	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(errOut, "error: %s: %s\n", res.URL, res.Error)
			continue
		}
		fmt.Fprintf(out, "%s -> %s (%d bytes)\n", res.URL, res.Path, res.Bytes)
	}
}
