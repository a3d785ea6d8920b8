package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lvcoi/tubeflow/internal/logging"
)

const (
	browserUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	youtubeReferer    = "https://www.youtube.com/"
	playerClients     = "youtube:player_client=ios,tv_embedded,android,mweb,web"
	fallbackTitle     = "download"
	stderrTailLimit   = 64 * 1024
	stderrLineLimit   = 4 * 1024
	defaultWaitDelay  = 2 * time.Second
	defaultTitleLimit = 10 * time.Second
)

var (
	downloadPercentPattern = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)
	toolErrorPattern       = regexp.MustCompile(`(?i)ERROR:\s*(.+)`)
)

// External runs the yt-dlp binary and streams its stdout.
type External struct {
	path         string
	titleTimeout time.Duration
	waitDelay    time.Duration
	logger       *slog.Logger
}

// NewExternal returns a runner for the binary at path.
func NewExternal(path string, titleTimeout time.Duration, logger *slog.Logger) *External {
	if titleTimeout <= 0 {
		titleTimeout = defaultTitleLimit
	}
	return &External{
		path:         path,
		titleTimeout: titleTimeout,
		waitDelay:    defaultWaitDelay,
		logger:       logging.NewComponentLogger(logger, "ytdlp"),
	}
}

func (e *External) Backend() Backend { return BackendExternal }

// Path returns the binary this runner invokes.
func (e *External) Path() string { return e.path }

func (e *External) Inspect(ctx context.Context, url string, kind Kind, encoderAvailable bool) (*Plan, error) {
	title := e.fetchTitle(ctx, url)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args, container := downloadArgs(url, kind, encoderAvailable)
	return &Plan{
		URL:       url,
		Title:     title,
		Kind:      kind,
		Backend:   BackendExternal,
		Tracks:    []Track{{Role: RoleMedia, Ext: container.Ext}},
		Post:      PostNone,
		Container: container,
		args:      args,
	}, nil
}

func (e *External) fetchTitle(ctx context.Context, url string) string {
	ctx, cancel := context.WithTimeout(ctx, e.titleTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.path,
		"--get-title",
		"--no-playlist",
		"--no-warnings",
		"--user-agent", browserUserAgent,
		"--referer", youtubeReferer,
		"--extractor-args", playerClients,
		url,
	)
	cmd.WaitDelay = e.waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		e.logger.Debug("title lookup failed", logging.Error(err), logging.String("stderr", strings.TrimSpace(stderr.String())))
		return fallbackTitle
	}
	title := strings.TrimSpace(firstLine(string(out)))
	if title == "" {
		return fallbackTitle
	}
	return title
}

// downloadArgs builds the yt-dlp argument list for kind and reports what the
// output stream will contain.
func downloadArgs(url string, kind Kind, encoderAvailable bool) ([]string, Container) {
	args := []string{
		url,
		"--no-playlist",
		"--no-warnings",
		"--newline",
		"-o", "-",
		"--user-agent", browserUserAgent,
		"--referer", youtubeReferer,
		"--add-header", "Accept:text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"--add-header", "Accept-Language:en-US,en;q=0.5",
		"--add-header", "DNT:1",
		"--add-header", "Connection:keep-alive",
		"--add-header", "Upgrade-Insecure-Requests:1",
		"--extractor-args", playerClients,
	}

	switch {
	case kind == KindAudio && encoderAvailable:
		args = append(args, "-x", "--audio-format", "mp3", "--audio-quality", "192K", "-f", "bestaudio")
		return args, Container{ContentType: "audio/mpeg", Ext: "mp3"}
	case kind == KindAudio:
		args = append(args, "-f", "bestaudio[ext=m4a]/bestaudio[ext=webm]/bestaudio/best")
		return args, Container{ContentType: "application/octet-stream", Ext: "m4a"}
	case encoderAvailable:
		args = append(args, "-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best", "--merge-output-format", "mp4")
	default:
		args = append(args, "-f", "best[ext=mp4]/bestvideo[ext=mp4]+bestaudio[ext=m4a]/best")
	}
	return args, Container{ContentType: "video/mp4", Ext: "mp4"}
}

func (e *External) Produce(ctx context.Context, plan *Plan, track int, w io.Writer, progress func(Event)) (int64, error) {
	if _, err := trackAt(plan, track); err != nil {
		return 0, err
	}
	args := plan.args
	if len(args) == 0 {
		return 0, fmt.Errorf("plan for %q was not prepared by yt-dlp", plan.URL)
	}

	out := &countingWriter{w: w}
	scanner := newStderrScanner(func(line string) {
		if m := downloadPercentPattern.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
				emit(progress, Event{Percent: pct, Bytes: out.Count()})
			}
			return
		}
		e.logger.Debug("yt-dlp", logging.String("line", line))
	})

	cmd := exec.CommandContext(ctx, e.path, args...)
	cmd.Stdout = out
	cmd.Stderr = scanner
	cmd.WaitDelay = e.waitDelay

	start := time.Now()
	err := cmd.Run()
	written := out.Count()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return written, ctxErr
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return written, &CategorizedError{Category: CategoryBackendUnavailable, Err: fmt.Errorf("start yt-dlp: %w", err)}
		}
		if out.err != nil {
			return written, fmt.Errorf("write output: %w", out.err)
		}
		return written, toolFailure(scanner.Tail(), err)
	}

	e.logger.Debug("yt-dlp finished",
		logging.Int64("bytes", written),
		logging.Duration("elapsed", time.Since(start)),
	)
	return written, nil
}

// toolFailure converts captured stderr into a categorized error.
func toolFailure(stderr string, runErr error) error {
	detail := strings.TrimSpace(stderr)
	if m := toolErrorPattern.FindStringSubmatch(stderr); m != nil {
		detail = strings.TrimSpace(m[1])
	}
	if detail == "" {
		detail = runErr.Error()
	}
	cause := fmt.Errorf("yt-dlp: %s: %w", detail, runErr)

	if cat := Classify(stderr); cat != CategoryUnknown {
		return &CategorizedError{Category: cat, Err: cause}
	}
	return &CategorizedError{Category: CategoryTool, Message: "yt-dlp error: " + detail, Err: cause}
}

// Version runs "<path> --version" bounded by timeout.
func Version(ctx context.Context, path string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, path, "--version")
	cmd.WaitDelay = defaultWaitDelay
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(firstLine(string(out))), nil
}

func firstLine(s string) string {
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		return s[:idx]
	}
	return s
}

type countingWriter struct {
	mu  sync.Mutex
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.mu.Lock()
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	return n, err
}

func (c *countingWriter) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// stderrScanner splits tool output on both carriage returns and newlines so
// in-place progress updates are seen as separate lines. It keeps a bounded
// tail of raw output for error classification.
type stderrScanner struct {
	mu      sync.Mutex
	partial []byte
	tail    []byte
	onLine  func(string)
}

func newStderrScanner(onLine func(string)) *stderrScanner {
	return &stderrScanner{onLine: onLine}
}

func (s *stderrScanner) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tail = append(s.tail, p...)
	if over := len(s.tail) - stderrTailLimit; over > 0 {
		s.tail = s.tail[over:]
	}

	for _, b := range p {
		if b == '\r' || b == '\n' {
			s.flush()
			continue
		}
		if len(s.partial) < stderrLineLimit {
			s.partial = append(s.partial, b)
		}
	}
	return len(p), nil
}

func (s *stderrScanner) flush() {
	if len(s.partial) == 0 {
		return
	}
	line := string(s.partial)
	s.partial = s.partial[:0]
	if s.onLine != nil {
		s.onLine(line)
	}
}

// Tail returns the retained stderr text, including any unterminated line.
func (s *stderrScanner) Tail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flush()
	return string(s.tail)
}
