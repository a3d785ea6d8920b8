// Package orchestrator runs one download request end to end: backend
// selection, extraction, optional encoding, delivery, progress reporting and
// cleanup.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lvcoi/tubeflow/internal/backend"
	"github.com/lvcoi/tubeflow/internal/encode"
	"github.com/lvcoi/tubeflow/internal/extract"
	"github.com/lvcoi/tubeflow/internal/history"
	"github.com/lvcoi/tubeflow/internal/logging"
	"github.com/lvcoi/tubeflow/internal/progress"
	"github.com/lvcoi/tubeflow/internal/session"
)

// Locator resolves the extraction backend for this host.
type Locator interface {
	Locate(ctx context.Context) backend.Choice
}

// EncoderProbe answers whether ffmpeg can be used right now.
type EncoderProbe interface {
	Available(ctx context.Context) bool
}

// Encoder performs the post-extraction step.
type Encoder interface {
	Merge(ctx context.Context, video, audio, output, title string, progress func(float64)) error
	TranscodeAudio(ctx context.Context, job encode.TranscodeJob, progress func(float64)) error
}

// Recorder stores terminal outcomes.
type Recorder interface {
	Record(ctx context.Context, entry history.Entry) error
}

// Observer receives download lifecycle counters.
type Observer interface {
	DownloadStarted(kind extract.Kind)
	DownloadFinished(kind extract.Kind, backend extract.Backend, status history.Status, bytes int64)
	FallbackTriggered(from, to extract.Backend)
}

// Origin distinguishes the first request for a session from a replay on
// another device.
type Origin int

const (
	OriginPrimary Origin = iota
	OriginSecondary
)

// Request is one download.
type Request struct {
	SessionID string
	URL       string
	Kind      extract.Kind
	Origin    Origin
}

// Result summarises a finished request.
type Result struct {
	SessionID string
	Title     string
	Backend   extract.Backend
	Container extract.Container
	Bytes     int64
	State     State
	// Started reports whether the sink received its headers. Once true the
	// caller can no longer send an error response.
	Started bool
}

// Deps are the collaborators of an Orchestrator. Progress, Sessions and
// Locator are required.
type Deps struct {
	Locator      Locator
	EncoderProbe EncoderProbe
	Encoder      Encoder
	// Library is the in-process runner used directly or as the fallback.
	Library extract.Runner
	// NewExternal builds the yt-dlp runner for a located binary.
	NewExternal func(path string) extract.Runner
	Progress    *progress.Store
	Sessions    *session.Registry
	History     Recorder
	Observer    Observer
	TempDir     string
	Logger      *slog.Logger
}

// Orchestrator is safe for concurrent use; all per-request state lives in
// the call to Run.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
}

func New(deps Deps) (*Orchestrator, error) {
	if deps.Locator == nil {
		return nil, errors.New("orchestrator: locator is required")
	}
	if deps.Progress == nil || deps.Sessions == nil {
		return nil, errors.New("orchestrator: progress store and session registry are required")
	}
	if deps.TempDir == "" {
		deps.TempDir = os.TempDir()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	return &Orchestrator{deps: deps, logger: logging.NewComponentLogger(deps.Logger, "orchestrator")}, nil
}

// Run executes req and delivers the result to sink. The returned error is a
// categorized failure suitable for extract.UserMessage, or ctx's error when
// the caller went away.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink Sink) (Result, error) {
	if req.Kind == "" {
		req.Kind = extract.KindVideo
	}
	if req.Origin == OriginPrimary {
		req.SessionID = o.deps.Sessions.Register(req.SessionID, req.URL, req.Kind).ID
	}

	r := &run{
		req:     req,
		started: time.Now(),
		state:   StateIdle,
		logger: o.logger.With(
			logging.Session(req.SessionID),
			logging.String(logging.FieldKind, string(req.Kind)),
		),
		report: newReporter(o.deps.Progress, req.SessionID),
	}
	r.report.message("Preparing download...")
	o.deps.Observer.DownloadStarted(req.Kind)

	res, err := o.run(ctx, r, sink)
	o.finish(ctx, r, &res, err)
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, r *run, sink Sink) (Result, error) {
	res := Result{SessionID: r.req.SessionID}

	choice := o.deps.Locator.Locate(ctx)
	runner := o.runnerFor(choice)
	if runner == nil {
		return res, extract.WithMessage(extract.CategoryBackendUnavailable, "", errors.New("no extraction backend available"))
	}
	r.transition(StateBackendSelected)

	encoderAvailable := o.deps.Encoder != nil && o.deps.EncoderProbe != nil && o.deps.EncoderProbe.Available(ctx)
	r.logger.Info("download starting",
		logging.String(logging.FieldBackend, string(runner.Backend())),
		logging.String(logging.FieldURL, r.req.URL),
		logging.Bool("encoder_available", encoderAvailable),
	)

	lazy := newLazySink(sink)
	out := o.attempt(ctx, r, runner, lazy, encoderAvailable)
	if out.kind == outcomeRetryWithFallback {
		fallback := o.deps.Library
		r.logger.Warn("external tool blocked; retrying with library backend", logging.Error(out.err))
		o.deps.Observer.FallbackTriggered(runner.Backend(), fallback.Backend())
		r.report.message("Retrying with alternative method...")
		first := out.err
		out = o.attempt(ctx, r, fallback, lazy, encoderAvailable)
		if out.kind != outcomeSuccess {
			out.err = fallbackFailure(first, out.err)
		}
	}

	res.Title = r.title
	res.Backend = out.backend
	res.Container = out.container
	res.Bytes = out.bytes
	res.Started = lazy.Started()
	if out.kind != outcomeSuccess {
		return res, out.err
	}
	return res, nil
}

func (o *Orchestrator) runnerFor(choice backend.Choice) extract.Runner {
	switch choice.Backend {
	case extract.BackendExternal:
		if o.deps.NewExternal != nil && choice.Path != "" {
			return o.deps.NewExternal(choice.Path)
		}
		return o.deps.Library
	case extract.BackendLibrary:
		return o.deps.Library
	default:
		return nil
	}
}

const msgFallbackFailed = "YouTube is blocking automated access and the alternative method also failed. Please try again later."

// fallbackFailure decides what a client sees when the library retry also
// failed. Content-state answers from the library are specific enough to show;
// anything else stays a block-detection failure that says both paths failed.
func fallbackFailure(first, second error) error {
	switch extract.CategoryOf(second) {
	case extract.CategoryPrivate, extract.CategoryAgeRestricted, extract.CategoryUnavailable, extract.CategoryNoFormat, extract.CategoryEncoder:
		return second
	}
	if errors.Is(second, context.Canceled) || errors.Is(second, context.DeadlineExceeded) {
		return second
	}
	return extract.WithMessage(extract.CategoryBotDetection, msgFallbackFailed,
		fmt.Errorf("%w; library fallback: %v", first, second))
}

// finish writes the terminal snapshot and records the outcome.
func (o *Orchestrator) finish(ctx context.Context, r *run, res *Result, err error) {
	status := history.StatusCompleted
	switch {
	case err == nil:
		r.transition(StateCompleted)
		r.report.complete(true, "Download complete!")
	case ctx.Err() != nil:
		status = history.StatusCancelled
		r.transition(StateCancelled)
		r.report.complete(false, "Download cancelled")
	default:
		status = history.StatusFailed
		r.transition(StateFailed)
		r.report.complete(false, "Error: "+extract.UserMessage(err))
	}
	res.State = r.state
	o.deps.Sessions.Complete(r.req.SessionID)

	elapsed := time.Since(r.started)
	attrs := []any{
		logging.String(logging.FieldBackend, string(res.Backend)),
		logging.Int64("bytes", res.Bytes),
		logging.Duration("elapsed", elapsed),
	}
	switch status {
	case history.StatusCompleted:
		r.logger.Info("download complete", attrs...)
	case history.StatusCancelled:
		r.logger.Info("download cancelled by client", attrs...)
	default:
		attrs = append(attrs, logging.String("category", string(extract.CategoryOf(err))), logging.Error(err))
		r.logger.Warn("download failed", attrs...)
	}

	o.deps.Observer.DownloadFinished(r.req.Kind, res.Backend, status, res.Bytes)
	if o.deps.History == nil {
		return
	}
	entry := history.Entry{
		SessionID: r.req.SessionID,
		URL:       r.req.URL,
		Kind:      string(r.req.Kind),
		Title:     r.title,
		Backend:   string(res.Backend),
		Status:    status,
		Bytes:     res.Bytes,
		Elapsed:   elapsed,
		CreatedAt: r.started,
	}
	if err != nil {
		entry.Error = extract.UserMessage(err)
	}
	// The request context may already be gone; history must still be written.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if recErr := o.deps.History.Record(recCtx, entry); recErr != nil {
		r.logger.Warn("history record failed", logging.Error(recErr))
	}
}

type nopObserver struct{}

func (nopObserver) DownloadStarted(extract.Kind) {}

func (nopObserver) DownloadFinished(extract.Kind, extract.Backend, history.Status, int64) {}

func (nopObserver) FallbackTriggered(extract.Backend, extract.Backend) {}
