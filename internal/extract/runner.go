// Package extract retrieves media from the source service through either the
// yt-dlp command line tool or the bundled kkdai/youtube library.
package extract

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
)

// Kind is the deliverable the caller asked for.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// ParseKind accepts "video" or "audio"; the empty string means video.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(KindVideo):
		return KindVideo, nil
	case string(KindAudio):
		return KindAudio, nil
	default:
		return "", Errorf(CategoryInvalidInput, "Invalid format %q. Use \"video\" or \"audio\".", raw)
	}
}

// Backend names an extraction mechanism.
type Backend string

const (
	BackendExternal    Backend = "yt-dlp"
	BackendLibrary     Backend = "library"
	BackendUnavailable Backend = "unavailable"
)

// PostProcess is the encoder step a plan needs after extraction.
type PostProcess int

const (
	PostNone PostProcess = iota
	PostTranscode
	PostMerge
)

func (p PostProcess) String() string {
	switch p {
	case PostTranscode:
		return "transcode"
	case PostMerge:
		return "merge"
	default:
		return "none"
	}
}

// Container describes the delivered file.
type Container struct {
	ContentType string
	Ext         string
}

// TrackRole identifies what a track carries.
type TrackRole string

const (
	RoleMedia TrackRole = "media"
	RoleVideo TrackRole = "video"
	RoleAudio TrackRole = "audio"
)

// Track is one byte stream a plan extracts.
type Track struct {
	Role TrackRole
	Ext  string
	// Size is the declared length in bytes, zero when unknown.
	Size int64

	format *youtube.Format
}

// Plan is the resolved recipe for one request: what to pull, in how many
// streams, and what the encoder has to do afterwards.
type Plan struct {
	URL       string
	Title     string
	Kind      Kind
	Backend   Backend
	Tracks    []Track
	Post      PostProcess
	Container Container
	Duration  time.Duration

	args  []string
	video *youtube.Video
}

// Event is a progress observation for a single track. Percent is -1 when the
// total size is unknown.
type Event struct {
	Percent float64
	Bytes   int64
}

// Runner is one extraction backend.
type Runner interface {
	Backend() Backend
	// Inspect fetches metadata and decides the tracks for kind.
	Inspect(ctx context.Context, url string, kind Kind, encoderAvailable bool) (*Plan, error)
	// Produce streams track of plan into w, reporting progress as it goes.
	Produce(ctx context.Context, plan *Plan, track int, w io.Writer, progress func(Event)) (int64, error)
}

func trackAt(plan *Plan, idx int) (Track, error) {
	if plan == nil {
		return Track{}, fmt.Errorf("nil plan")
	}
	if idx < 0 || idx >= len(plan.Tracks) {
		return Track{}, fmt.Errorf("track %d out of range (plan has %d)", idx, len(plan.Tracks))
	}
	return plan.Tracks[idx], nil
}

func emit(progress func(Event), ev Event) {
	if progress != nil {
		progress(ev)
	}
}
