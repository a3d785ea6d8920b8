package extract

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kkdai/youtube/v2"
)

type mockYouTubeClient struct {
	getVideoFn  func(ctx context.Context, url string) (*youtube.Video, error)
	getStreamFn func(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error)

	mu         sync.Mutex
	chunkSizes []int64
}

func (m *mockYouTubeClient) GetVideoContext(ctx context.Context, url string) (*youtube.Video, error) {
	if m.getVideoFn != nil {
		return m.getVideoFn(ctx, url)
	}
	return &youtube.Video{}, nil
}

func (m *mockYouTubeClient) GetStreamContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error) {
	if m.getStreamFn != nil {
		return m.getStreamFn(ctx, video, format)
	}
	return io.NopCloser(strings.NewReader("")), 0, nil
}

func (m *mockYouTubeClient) SetChunkSize(s int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunkSizes = append(m.chunkSizes, s)
}

var _ YouTubeClient = (*mockYouTubeClient)(nil)

func sampleFormats() youtube.FormatList {
	return youtube.FormatList{
		{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, Width: 640, Height: 360, AudioChannels: 2, Bitrate: 500000},
		{ItagNo: 137, MimeType: `video/mp4; codecs="avc1.640028"`, Width: 1920, Height: 1080, Bitrate: 4000000, ContentLength: 1000},
		{ItagNo: 248, MimeType: `video/webm; codecs="vp9"`, Width: 1920, Height: 1080, Bitrate: 5000000},
		{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, AudioChannels: 2, Bitrate: 128000, ContentLength: 500},
		{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, AudioChannels: 2, Bitrate: 160000, ContentLength: 600},
	}
}

func TestPlanFormats(t *testing.T) {
	tests := []struct {
		name        string
		formats     youtube.FormatList
		kind        Kind
		encoder     bool
		wantPost    PostProcess
		wantType    string
		wantExt     string
		wantItags   []int
		wantErrText string
	}{
		{name: "audio with encoder transcodes", formats: sampleFormats(), kind: KindAudio, encoder: true, wantPost: PostTranscode, wantType: "audio/mpeg", wantExt: "mp3", wantItags: []int{251}},
		{name: "audio without encoder is direct", formats: sampleFormats(), kind: KindAudio, wantPost: PostNone, wantType: "application/octet-stream", wantExt: "webm", wantItags: []int{251}},
		{name: "video with encoder merges mp4", formats: sampleFormats(), kind: KindVideo, encoder: true, wantPost: PostMerge, wantType: "video/mp4", wantExt: "mp4", wantItags: []int{137, 251}},
		{name: "video without encoder uses progressive", formats: sampleFormats(), kind: KindVideo, wantPost: PostNone, wantType: "video/mp4", wantExt: "mp4", wantItags: []int{18}},
		{
			name:     "webm progressive is octet stream",
			formats:  youtube.FormatList{{ItagNo: 43, MimeType: "video/webm", Width: 640, Height: 360, AudioChannels: 2}},
			kind:     KindVideo,
			wantPost: PostNone, wantType: "application/octet-stream", wantExt: "webm", wantItags: []int{43},
		},
		{
			name:        "no audio formats",
			formats:     youtube.FormatList{{ItagNo: 137, MimeType: "video/mp4", Width: 1920, Height: 1080}},
			kind:        KindAudio,
			wantErrText: "No audio format available",
		},
		{
			name:        "no video formats",
			formats:     youtube.FormatList{{ItagNo: 140, MimeType: "audio/mp4", AudioChannels: 2}},
			kind:        KindVideo,
			encoder:     true,
			wantErrText: "Could not find suitable video/audio formats",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracks, post, container, err := planFormats(tt.formats, tt.kind, tt.encoder)
			if tt.wantErrText != "" {
				if err == nil {
					t.Fatal("expected error")
				}
				if CategoryOf(err) != CategoryNoFormat || UserMessage(err) != tt.wantErrText {
					t.Fatalf("unexpected error %v (%s)", UserMessage(err), CategoryOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if post != tt.wantPost {
				t.Fatalf("post = %s, want %s", post, tt.wantPost)
			}
			if container.ContentType != tt.wantType || container.Ext != tt.wantExt {
				t.Fatalf("container = %+v", container)
			}
			if len(tracks) != len(tt.wantItags) {
				t.Fatalf("got %d tracks, want %d", len(tracks), len(tt.wantItags))
			}
			for i, itag := range tt.wantItags {
				if tracks[i].format.ItagNo != itag {
					t.Fatalf("track %d itag = %d, want %d", i, tracks[i].format.ItagNo, itag)
				}
			}
		})
	}
}

func TestMimeToExt(t *testing.T) {
	tests := map[string]string{
		`audio/mp4; codecs="mp4a.40.2"`: "m4a",
		`video/mp4; codecs="avc1"`:      "mp4",
		"audio/webm":                    "webm",
		"video/3gpp":                    "3gp",
		"garbage":                       "bin",
	}
	for in, want := range tests {
		if got := mimeToExt(in); got != want {
			t.Errorf("mimeToExt(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLibraryInspectClassifiesErrors(t *testing.T) {
	client := &mockYouTubeClient{
		getVideoFn: func(ctx context.Context, url string) (*youtube.Video, error) {
			return nil, youtube.ErrVideoPrivate
		},
	}
	lib := NewLibraryWithClient(client, time.Second, nil)
	_, err := lib.Inspect(context.Background(), "https://youtu.be/dQw4w9WgXcQ", KindVideo, true)
	if CategoryOf(err) != CategoryPrivate {
		t.Fatalf("expected private category, got %v (%s)", err, CategoryOf(err))
	}
}

func TestLibraryProduceStreamsAndReportsProgress(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 500)
	client := &mockYouTubeClient{
		getVideoFn: func(ctx context.Context, url string) (*youtube.Video, error) {
			return &youtube.Video{ID: "dQw4w9WgXcQ", Title: "Song", Duration: time.Minute, Formats: sampleFormats()}, nil
		},
		getStreamFn: func(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error) {
			return io.NopCloser(bytes.NewReader(payload)), int64(len(payload)), nil
		},
	}
	lib := NewLibraryWithClient(client, time.Second, nil)
	plan, err := lib.Inspect(context.Background(), "https://youtu.be/dQw4w9WgXcQ", KindAudio, true)
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if plan.Title != "Song" || plan.Duration != time.Minute || plan.Backend != BackendLibrary {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	var events []Event
	var buf bytes.Buffer
	n, err := lib.Produce(context.Background(), plan, 0, &buf, func(ev Event) { events = append(events, ev) })
	if err != nil {
		t.Fatalf("Produce returned error: %v", err)
	}
	if n != int64(len(payload)) || buf.Len() != len(payload) {
		t.Fatalf("expected %d bytes, wrote %d (buffer %d)", len(payload), n, buf.Len())
	}
	if len(events) == 0 || events[len(events)-1].Percent != 100 {
		t.Fatalf("expected a final 100%% event, got %+v", events)
	}
	if len(client.chunkSizes) != 1 || client.chunkSizes[0] != minChunkSize {
		t.Fatalf("expected chunk size to be adjusted once to the minimum, got %v", client.chunkSizes)
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) > 0 {
		n := copy(p, r.data)
		r.data = r.data[n:]
		return n, nil
	}
	return 0, r.err
}

func TestLibraryProduceRetries403WithSingleRequest(t *testing.T) {
	var lengths []int64
	client := &mockYouTubeClient{
		getVideoFn: func(ctx context.Context, url string) (*youtube.Video, error) {
			return &youtube.Video{Title: "Clip", Formats: sampleFormats()}, nil
		},
		getStreamFn: func(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error) {
			lengths = append(lengths, format.ContentLength)
			if format.ContentLength > 0 {
				return io.NopCloser(&failingReader{data: []byte("partial"), err: youtube.ErrUnexpectedStatusCode(403)}), format.ContentLength, nil
			}
			return io.NopCloser(strings.NewReader("complete")), 8, nil
		},
	}
	lib := NewLibraryWithClient(client, time.Second, nil)
	plan, err := lib.Inspect(context.Background(), "https://youtu.be/dQw4w9WgXcQ", KindAudio, true)
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "audio.webm")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()

	n, err := lib.Produce(context.Background(), plan, 0, file, nil)
	if err != nil {
		t.Fatalf("Produce returned error: %v", err)
	}
	if n != 8 {
		t.Fatalf("expected 8 bytes from retry, got %d", n)
	}
	if len(lengths) != 2 || lengths[1] != 0 {
		t.Fatalf("expected a second single-request attempt, got %v", lengths)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "complete" {
		t.Fatalf("expected file to hold only the retried content, got %q", data)
	}
}

func TestLibraryProduce403WithoutRewindFails(t *testing.T) {
	client := &mockYouTubeClient{
		getVideoFn: func(ctx context.Context, url string) (*youtube.Video, error) {
			return &youtube.Video{Title: "Clip", Formats: sampleFormats()}, nil
		},
		getStreamFn: func(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error) {
			return io.NopCloser(&failingReader{data: []byte("partial"), err: youtube.ErrUnexpectedStatusCode(403)}), 100, nil
		},
	}
	lib := NewLibraryWithClient(client, time.Second, nil)
	plan, err := lib.Inspect(context.Background(), "https://youtu.be/dQw4w9WgXcQ", KindAudio, false)
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	var buf bytes.Buffer
	_, err = lib.Produce(context.Background(), plan, 0, &buf, nil)
	if CategoryOf(err) != CategoryForbidden {
		t.Fatalf("expected forbidden error, got %v", err)
	}
}

func TestLibraryProduceHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &mockYouTubeClient{
		getVideoFn: func(ctx context.Context, url string) (*youtube.Video, error) {
			return &youtube.Video{Title: "Clip", Formats: sampleFormats()}, nil
		},
		getStreamFn: func(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error) {
			cancel()
			return io.NopCloser(strings.NewReader("data")), 4, nil
		},
	}
	lib := NewLibraryWithClient(client, time.Second, nil)
	plan, err := lib.Inspect(ctx, "https://youtu.be/dQw4w9WgXcQ", KindVideo, false)
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	_, err = lib.Produce(ctx, plan, 0, io.Discard, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestChunkSizeFor(t *testing.T) {
	if got := chunkSizeFor(1000); got != minChunkSize {
		t.Fatalf("small files should use the minimum, got %d", got)
	}
	if got := chunkSizeFor(1 << 40); got != maxChunkSize {
		t.Fatalf("huge files should use the maximum, got %d", got)
	}
	if got := chunkSizeFor(64 * 512 * 1024); got != 512*1024 {
		t.Fatalf("expected proportional chunk size, got %d", got)
	}
}
