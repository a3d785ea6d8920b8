package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kkdai/youtube/v2"

	"github.com/lvcoi/tubeflow/internal/logging"
)

const (
	minChunkSize     int64 = 256 * 1024
	maxChunkSize     int64 = 2 * 1024 * 1024
	targetChunkCount int64 = 64
)

// Library extracts through the bundled kkdai/youtube client.
type Library struct {
	client          YouTubeClient
	metadataTimeout time.Duration
	logger          *slog.Logger

	// streamMu serialises chunk size changes with stream creation on the
	// shared client.
	streamMu sync.Mutex
}

// NewLibrary builds a library runner with the retrying browser-like HTTP client.
func NewLibrary(metadataTimeout time.Duration, logger *slog.Logger) *Library {
	client := &youtube.Client{HTTPClient: newHTTPClient(nil)}
	return NewLibraryWithClient(&youtubeClientAdapter{client}, metadataTimeout, logger)
}

// NewLibraryWithClient wires an arbitrary client, used by tests.
func NewLibraryWithClient(client YouTubeClient, metadataTimeout time.Duration, logger *slog.Logger) *Library {
	return &Library{
		client:          client,
		metadataTimeout: metadataTimeout,
		logger:          logging.NewComponentLogger(logger, "library"),
	}
}

func (l *Library) Backend() Backend { return BackendLibrary }

func (l *Library) Inspect(ctx context.Context, url string, kind Kind, encoderAvailable bool) (*Plan, error) {
	metaCtx := ctx
	if l.metadataTimeout > 0 {
		var cancel context.CancelFunc
		metaCtx, cancel = context.WithTimeout(ctx, l.metadataTimeout)
		defer cancel()
	}

	video, err := l.client.GetVideoContext(metaCtx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, wrapCategory(ClassifyError(err), fmt.Errorf("fetch video info: %w", err))
	}

	tracks, post, container, err := planFormats(video.Formats, kind, encoderAvailable)
	if err != nil {
		return nil, err
	}

	title := video.Title
	if title == "" {
		title = fallbackTitle
	}
	l.logger.Debug("planned library extraction",
		logging.String("title", title),
		logging.Int("tracks", len(tracks)),
		logging.String("post", post.String()),
	)
	return &Plan{
		URL:       url,
		Title:     title,
		Kind:      kind,
		Backend:   BackendLibrary,
		Tracks:    tracks,
		Post:      post,
		Container: container,
		Duration:  video.Duration,
		video:     video,
	}, nil
}

// seekTruncater is implemented by *os.File; a writer that supports it can be
// rewound for a second attempt.
type seekTruncater interface {
	io.Seeker
	Truncate(size int64) error
}

func (l *Library) Produce(ctx context.Context, plan *Plan, idx int, w io.Writer, progress func(Event)) (int64, error) {
	track, err := trackAt(plan, idx)
	if err != nil {
		return 0, err
	}
	if plan.video == nil || track.format == nil {
		return 0, fmt.Errorf("plan for %q was not prepared by the library backend", plan.URL)
	}

	format := track.format
	stream, size, err := l.openStream(ctx, plan.video, format)
	if err != nil {
		return 0, l.streamError(ctx, "start stream", err)
	}
	if size <= 0 && format.ContentLength > 0 {
		size = format.ContentLength
	}

	pw := newProgressWriter(size, progress)
	written, err := copyWithContext(ctx, io.MultiWriter(w, pw), stream)
	stream.Close()

	if err != nil && isUnexpectedStatus(err, http.StatusForbidden) && ctx.Err() == nil {
		rewound, rewindErr := rewind(w, written)
		if !rewound {
			return written, l.streamError(ctx, "download", err)
		}
		if rewindErr != nil {
			return written, fmt.Errorf("rewind output for retry: %w", rewindErr)
		}
		l.logger.Warn("403 from chunked download, retrying with single request",
			logging.Int("itag", format.ItagNo),
		)

		single := *format
		single.ContentLength = 0
		stream, size, err = l.openStream(ctx, plan.video, &single)
		if err != nil {
			return 0, l.streamError(ctx, "retry stream", err)
		}
		if size <= 0 && format.ContentLength > 0 {
			size = format.ContentLength
		}
		pw.Reset(size)
		written, err = copyWithContext(ctx, io.MultiWriter(w, pw), stream)
		stream.Close()
	}
	if err != nil {
		return written, l.streamError(ctx, "download", err)
	}

	pw.Finish()
	return written, nil
}

func (l *Library) openStream(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error) {
	l.streamMu.Lock()
	defer l.streamMu.Unlock()
	if format.ContentLength > 0 {
		l.client.SetChunkSize(chunkSizeFor(format.ContentLength))
	}
	return l.client.GetStreamContext(ctx, video, format)
}

func (l *Library) streamError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return wrapCategory(ClassifyError(err), fmt.Errorf("%s: %w", op, err))
}

// rewind reports whether a retry may reuse w. Nothing written means nothing
// to undo; otherwise w must be seekable and truncatable.
func rewind(w io.Writer, written int64) (bool, error) {
	if written == 0 {
		return true, nil
	}
	st, ok := w.(seekTruncater)
	if !ok {
		return false, nil
	}
	if _, err := st.Seek(0, io.SeekStart); err != nil {
		return true, err
	}
	return true, st.Truncate(0)
}

// chunkSizeFor keeps progress updates frequent without spawning thousands of
// range requests.
func chunkSizeFor(contentLength int64) int64 {
	chunk := contentLength / targetChunkCount
	if chunk < minChunkSize {
		return minChunkSize
	}
	if chunk > maxChunkSize {
		return maxChunkSize
	}
	return chunk
}
