package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/lvcoi/tubeflow/internal/encode"
	"github.com/lvcoi/tubeflow/internal/extract"
	"github.com/lvcoi/tubeflow/internal/logging"
)

// attempt runs the whole pipeline once against runner. Temporary files are
// removed before it returns, whatever the outcome.
func (o *Orchestrator) attempt(ctx context.Context, r *run, runner extract.Runner, sink *lazySink, encoderAvailable bool) outcome {
	out := outcome{backend: runner.Backend()}
	r.logger.Debug("attempt", logging.String(logging.FieldBackend, string(runner.Backend())))

	plan, err := runner.Inspect(ctx, r.req.URL, r.req.Kind, encoderAvailable)
	if err != nil {
		return o.judge(ctx, runner, sink, out, err)
	}
	if plan.Title != "" {
		r.title = plan.Title
		r.report.setTitle(plan.Title)
		if r.req.Origin == OriginPrimary {
			o.deps.Sessions.SetTitle(r.req.SessionID, plan.Title)
		}
	}
	out.container = plan.Container
	filename := SanitizeFilename(plan.Title) + "." + plan.Container.Ext

	temps := newTempSet(o.deps.TempDir, r.req.SessionID, r.logger)
	defer temps.cleanup()

	r.transition(StateExtracting)
	switch plan.Post {
	case extract.PostNone:
		out.bytes, err = o.direct(ctx, r, runner, plan, sink, filename)
	case extract.PostTranscode:
		out.bytes, err = o.transcode(ctx, r, runner, plan, sink, filename, temps)
	case extract.PostMerge:
		out.bytes, err = o.merge(ctx, r, runner, plan, sink, filename, temps)
	default:
		err = fmt.Errorf("unsupported post-processing step %s", plan.Post)
	}
	if err != nil {
		return o.judge(ctx, runner, sink, out, err)
	}
	out.kind = outcomeSuccess
	return out
}

// judge turns a failed attempt into an outcome. The only retry is the
// library fallback after the external tool was blocked, and only while no
// byte has reached the client.
func (o *Orchestrator) judge(ctx context.Context, runner extract.Runner, sink *lazySink, out outcome, err error) outcome {
	out.kind = outcomeFail
	if ctxErr := ctx.Err(); ctxErr != nil {
		out.err = ctxErr
		return out
	}
	out.err = err
	if runner.Backend() == extract.BackendExternal &&
		o.deps.Library != nil &&
		!sink.Started() &&
		extract.CategoryOf(err) == extract.CategoryBotDetection {
		out.kind = outcomeRetryWithFallback
	}
	return out
}

// direct streams a single track straight to the client.
func (o *Orchestrator) direct(ctx context.Context, r *run, runner extract.Runner, plan *extract.Plan, sink *lazySink, filename string) (int64, error) {
	sink.Prepare(plan.Container.ContentType, filename)
	r.report.set(0, "Downloading: 0.0%")
	n, err := runner.Produce(ctx, plan, 0, sink, func(ev extract.Event) {
		if ev.Percent >= 0 {
			r.report.set(ev.Percent, fmt.Sprintf("Downloading: %.1f%%", ev.Percent))
		}
		if sink.Started() {
			r.transition(StateDelivering)
		}
	})
	if err != nil {
		return n, err
	}
	if !sink.Started() {
		return 0, extract.Errorf(extract.CategoryTool, "The download produced no data.")
	}
	r.transition(StateDelivering)
	return n, nil
}

// transcode downloads one audio track to disk, converts it to mp3 and
// delivers the result. Extraction covers 0..50, conversion 50..100.
func (o *Orchestrator) transcode(ctx context.Context, r *run, runner extract.Runner, plan *extract.Plan, sink *lazySink, filename string, temps *tempSet) (int64, error) {
	track := plan.Tracks[0]
	input, err := o.produceToFile(ctx, runner, plan, 0, temps.path(string(track.Role), track.Ext), func(pct float64) {
		r.report.set(pct/2, fmt.Sprintf("Downloading: %.1f%%", pct))
	})
	if err != nil {
		return 0, err
	}

	r.transition(StateMerging)
	r.report.set(50, "Converting to MP3...")
	output := temps.path("output", plan.Container.Ext)
	job := encode.TranscodeJob{Input: input, Output: output, Title: plan.Title, Duration: plan.Duration}
	if err := o.deps.Encoder.TranscodeAudio(ctx, job, func(pct float64) {
		r.report.set(50+pct/2, "Converting to MP3...")
	}); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, extract.WithMessage(extract.CategoryEncoder, "Conversion error: "+err.Error(), err)
	}

	r.transition(StateDelivering)
	return deliverFile(ctx, sink, output, plan.Container.ContentType, filename)
}

// merge downloads the video and audio tracks concurrently, muxes them and
// delivers the result. Each track contributes up to 25 points so the
// extraction phase never passes 50.
func (o *Orchestrator) merge(ctx context.Context, r *run, runner extract.Runner, plan *extract.Plan, sink *lazySink, filename string, temps *tempSet) (int64, error) {
	if len(plan.Tracks) != 2 {
		return 0, fmt.Errorf("merge needs two tracks, plan has %d", len(plan.Tracks))
	}
	paths := make([]string, len(plan.Tracks))
	for i, t := range plan.Tracks {
		paths[i] = temps.path(string(t.Role), t.Ext)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range plan.Tracks {
		label := string(t.Role)
		g.Go(func() error {
			_, err := o.produceToFile(gctx, runner, plan, i, paths[i], func(pct float64) {
				r.report.part(i, pct/4, fmt.Sprintf("Downloading %s: %.1f%%", label, pct))
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	video, audio := paths[0], paths[1]
	if plan.Tracks[0].Role == extract.RoleAudio {
		video, audio = audio, video
	}

	r.transition(StateMerging)
	r.report.set(50, "Merging video and audio...")
	output := temps.path("output", plan.Container.Ext)
	if err := o.deps.Encoder.Merge(ctx, video, audio, output, plan.Title, func(pct float64) {
		r.report.set(50+pct/2, "Merging video and audio...")
	}); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, extract.WithMessage(extract.CategoryEncoder, "Merge error: "+err.Error(), err)
	}

	r.transition(StateDelivering)
	return deliverFile(ctx, sink, output, plan.Container.ContentType, filename)
}

func (o *Orchestrator) produceToFile(ctx context.Context, runner extract.Runner, plan *extract.Plan, idx int, path string, progress func(float64)) (string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	_, err = runner.Produce(ctx, plan, idx, f, func(ev extract.Event) {
		if ev.Percent >= 0 {
			progress(ev.Percent)
		}
	})
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close temp file: %w", closeErr)
	}
	if err != nil {
		return "", err
	}
	progress(100)
	return path, nil
}

func deliverFile(ctx context.Context, sink *lazySink, path, contentType, filename string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open result: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat result: %w", err)
	}
	if info.Size() == 0 {
		return 0, extract.Errorf(extract.CategoryEncoder, "Conversion error: encoder produced an empty file")
	}
	sink.Prepare(contentType, filename)
	if err := sink.StartNow(); err != nil {
		return 0, err
	}
	n, err := io.Copy(sink, &ctxReader{ctx: ctx, r: f})
	if err != nil && ctx.Err() != nil {
		return n, ctx.Err()
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("deliver: %w", err)
	}
	return n, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
