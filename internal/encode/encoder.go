// Package encode drives ffmpeg to mux separate video and audio files or to
// transcode audio to mp3.
package encode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/lvcoi/tubeflow/internal/logging"
)

const (
	defaultBinary  = "ffmpeg"
	defaultBitrate = "192k"
	stderrKeep     = 2048
)

// TranscodeJob describes one audio re-encode.
type TranscodeJob struct {
	Input  string
	Output string
	// Title is written into the ID3 tag of the result.
	Title string
	// Duration of the source, used to turn ffmpeg's timestamps into a percentage.
	Duration time.Duration
}

// Encoder runs ffmpeg through ffmpeg-go.
type Encoder struct {
	binary  string
	bitrate string
	logger  *slog.Logger
}

func New(binary, bitrate string, logger *slog.Logger) *Encoder {
	if binary == "" {
		binary = defaultBinary
	}
	if bitrate == "" {
		bitrate = defaultBitrate
	}
	return &Encoder{binary: binary, bitrate: bitrate, logger: logging.NewComponentLogger(logger, "encoder")}
}

// Merge copies the video stream of video and the audio stream of audio into
// a single mp4 at output without re-encoding.
func (e *Encoder) Merge(ctx context.Context, video, audio, output, title string, progress func(float64)) error {
	if err := e.run(ctx, e.mergeStream(video, audio, output, title), 0, progress); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	return nil
}

// TranscodeAudio re-encodes job.Input to an mp3 at the configured bitrate and
// tags it with job.Title.
func (e *Encoder) TranscodeAudio(ctx context.Context, job TranscodeJob, progress func(float64)) error {
	if err := e.run(ctx, e.transcodeStream(job), job.Duration, progress); err != nil {
		return fmt.Errorf("transcode: %w", err)
	}
	if job.Title != "" {
		if err := tagMP3(job.Output, job.Title); err != nil {
			e.logger.Warn("id3 tagging failed", logging.String("path", job.Output), logging.Error(err))
		}
	}
	return nil
}

func (e *Encoder) mergeStream(video, audio, output, title string) *ffmpeg.Stream {
	kwargs := ffmpeg.KwArgs{"c": "copy", "f": "mp4", "movflags": "+faststart"}
	if title != "" {
		kwargs["metadata"] = "title=" + title
	}
	return ffmpeg.Output(
		[]*ffmpeg.Stream{ffmpeg.Input(video).Video(), ffmpeg.Input(audio).Audio()},
		output,
		kwargs,
	)
}

func (e *Encoder) transcodeStream(job TranscodeJob) *ffmpeg.Stream {
	return ffmpeg.Input(job.Input).Output(job.Output, ffmpeg.KwArgs{
		"vn":     "",
		"acodec": "libmp3lame",
		"b:a":    e.bitrate,
		"f":      "mp3",
	})
}

// run executes stream, killing ffmpeg when ctx ends. Progress is read from
// "-progress pipe:1" on stdout.
func (e *Encoder) run(ctx context.Context, stream *ffmpeg.Stream, duration time.Duration, progress func(float64)) error {
	parser := newProgressParser(duration, progress)
	var stderr tailBuffer
	cmd := stream.
		GlobalArgs("-hide_banner", "-nostats", "-progress", "pipe:1").
		OverWriteOutput().
		SetFfmpegPath(e.binary).
		WithOutput(parser, &stderr).
		Compile()
	cmd.WaitDelay = 2 * time.Second

	e.logger.Debug("running ffmpeg", logging.String("args", strings.Join(cmd.Args[1:], " ")))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
		case <-done:
		}
	}()
	err := cmd.Wait()
	close(done)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		detail := lastLine(stderr.String())
		if detail == "" {
			return err
		}
		return fmt.Errorf("%s: %w", detail, err)
	}
	if !parser.Ended() {
		return errors.New("ffmpeg exited without reporting completion")
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// tailBuffer keeps the last stderrKeep bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if over := t.buf.Len() - stderrKeep; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return t.buf.String() }
