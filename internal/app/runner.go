// Package app drives the orchestrator for a batch of URLs outside the HTTP
// boundary, writing each download to a file.
package app

import (
	"context"
	"errors"
	"sync"

	"github.com/lvcoi/tubeflow/internal/extract"
	"github.com/lvcoi/tubeflow/internal/orchestrator"
)

// Downloader runs one request to completion.
type Downloader interface {
	Run(ctx context.Context, req orchestrator.Request, sink orchestrator.Sink) (orchestrator.Result, error)
}

// Sink is a delivery target that must be finalised once the run ends.
type Sink interface {
	orchestrator.Sink
	// Close finalises the sink. A failed run discards partial output.
	Close(runErr error) (string, error)
}

// SinkFactory creates the sink for one request.
type SinkFactory func(req orchestrator.Request) (Sink, error)

type Result struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
	Title     string `json:"title,omitempty"`
	Path      string `json:"path,omitempty"`
	Bytes     int64  `json:"bytes"`
	Err       error  `json:"-"`
	Error     string `json:"error,omitempty"`
}

// Run executes reqs with at most jobs concurrent downloads. Results come back
// in completion order; requests never submitted because ctx ended are absent.
func Run(ctx context.Context, d Downloader, reqs []orchestrator.Request, jobs int, sinks SinkFactory) []Result {
	if jobs < 1 {
		jobs = 1
	}

	tasks := make(chan orchestrator.Request)
	results := make(chan Result, len(reqs))

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case req, ok := <-tasks:
					if !ok {
						return
					}
					results <- runOne(ctx, d, req, sinks)
				}
			}
		}()
	}

submit:
	for _, req := range reqs {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break submit
		case tasks <- req:
		}
	}
	close(tasks)

	go func() {
		wg.Wait()
		close(results)
	}()

	output := make([]Result, 0, len(reqs))
	for res := range results {
		output = append(output, res)
	}
	return output
}

func runOne(ctx context.Context, d Downloader, req orchestrator.Request, sinks SinkFactory) Result {
	result := Result{URL: req.URL, SessionID: req.SessionID}
	sink, err := sinks(req)
	if err != nil {
		return result.fail(err)
	}
	res, runErr := d.Run(ctx, req, sink)
	result.SessionID = res.SessionID
	result.Title = res.Title
	result.Bytes = res.Bytes
	path, closeErr := sink.Close(runErr)
	if runErr != nil {
		return result.fail(runErr)
	}
	if closeErr != nil {
		return result.fail(closeErr)
	}
	result.Path = path
	return result
}

func (r Result) fail(err error) Result {
	r.Err = err
	r.Error = extract.UserMessage(err)
	return r
}

// Exit codes reported by ExitCode.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInvalidURL  = 2
	ExitUnavailable = 3
	ExitBlocked     = 4
	ExitInterrupted = 130
)

// ExitCode folds results into a process exit status: the most severe failure
// wins, and an interrupted batch with no other failure reports 130.
func ExitCode(ctx context.Context, results []Result) int {
	code := ExitOK
	for _, res := range results {
		if res.Err == nil {
			continue
		}
		if c := exitCodeFor(res.Err); c > code {
			code = c
		}
	}
	if code == ExitOK && ctx.Err() != nil {
		return ExitInterrupted
	}
	return code
}

func exitCodeFor(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ExitInterrupted
	}
	switch extract.CategoryOf(err) {
	case extract.CategoryInvalidInput:
		return ExitInvalidURL
	case extract.CategoryPrivate, extract.CategoryAgeRestricted, extract.CategoryUnavailable, extract.CategoryNoFormat:
		return ExitUnavailable
	case extract.CategoryBotDetection, extract.CategoryForbidden:
		return ExitBlocked
	default:
		return ExitFailure
	}
}
