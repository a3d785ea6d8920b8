package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/lvcoi/tubeflow/internal/backend"
	"github.com/lvcoi/tubeflow/internal/encode"
	"github.com/lvcoi/tubeflow/internal/extract"
	"github.com/lvcoi/tubeflow/internal/logging"
	"github.com/lvcoi/tubeflow/internal/orchestrator"
	"github.com/lvcoi/tubeflow/internal/progress"
	"github.com/lvcoi/tubeflow/internal/session"
)

type stubLocator struct{ choice backend.Choice }

func (s stubLocator) Locate(context.Context) backend.Choice { return s.choice }

type stubProbe bool

func (s stubProbe) Available(context.Context) bool { return bool(s) }

// stubRunner serves a fixed plan. failAfter makes Produce fail once some
// bytes were written.
type stubRunner struct {
	plan       extract.Plan
	inspectErr error
	failAfter  bool
}

func (s *stubRunner) Backend() extract.Backend { return extract.BackendLibrary }

func (s *stubRunner) Inspect(_ context.Context, url string, kind extract.Kind, encoder bool) (*extract.Plan, error) {
	if s.inspectErr != nil {
		return nil, s.inspectErr
	}
	plan := s.plan
	plan.URL, plan.Kind = url, kind
	if kind == extract.KindAudio && encoder {
		plan.Tracks = []extract.Track{{Role: extract.RoleAudio, Ext: "webm"}}
		plan.Post = extract.PostTranscode
		plan.Container = extract.Container{ContentType: "audio/mpeg", Ext: "mp3"}
	}
	return &plan, nil
}

func (s *stubRunner) Produce(ctx context.Context, plan *extract.Plan, idx int, w io.Writer, report func(extract.Event)) (int64, error) {
	n, err := w.Write([]byte("payload"))
	report(extract.Event{Percent: 100, Bytes: int64(n)})
	if err != nil {
		return int64(n), err
	}
	if s.failAfter {
		return int64(n), errors.New("connection reset by peer")
	}
	return int64(n), nil
}

type copyEncoder struct{}

func (copyEncoder) Merge(_ context.Context, video, _ string, output, _ string, report func(float64)) error {
	return copyFile(video, output)
}

func (copyEncoder) TranscodeAudio(_ context.Context, job encode.TranscodeJob, report func(float64)) error {
	report(100)
	return copyFile(job.Input, job.Output)
}

func copyFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0o600)
}

func directPlan() extract.Plan {
	return extract.Plan{
		Title:     "Test Video",
		Tracks:    []extract.Track{{Role: extract.RoleMedia, Ext: "mp4"}},
		Container: extract.Container{ContentType: "video/mp4", Ext: "mp4"},
	}
}

type testEnv struct {
	server   *Server
	handler  http.Handler
	store    *progress.Store
	sessions *session.Registry
}

func newTestEnv(t *testing.T, choice backend.Choice, runner extract.Runner) *testEnv {
	t.Helper()
	store := progress.NewStore(time.Minute, nil)
	sessions := session.NewRegistry(time.Hour)
	locator := stubLocator{choice: choice}
	orch, err := orchestrator.New(orchestrator.Deps{
		Locator:      locator,
		EncoderProbe: stubProbe(true),
		Encoder:      copyEncoder{},
		Library:      runner,
		Progress:     store,
		Sessions:     sessions,
		TempDir:      t.TempDir(),
		Logger:       logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	srv, err := New(Options{
		Downloader:   orch,
		Progress:     store,
		Sessions:     sessions,
		Locator:      locator,
		EncoderProbe: stubProbe(true),
		Logger:       logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("web.New: %v", err)
	}
	return &testEnv{server: srv, handler: srv.Handler(), store: store, sessions: sessions}
}

var libChoice = backend.Choice{Backend: extract.BackendLibrary}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return payload["error"]
}

func TestDownloadAudio(t *testing.T) {
	env := newTestEnv(t, libChoice, &stubRunner{plan: directPlan()})

	rec := postJSON(env.handler, "/api/download", `{"url":"https://youtu.be/abc123","kind":"audio","sessionId":"s-audio"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("expected audio/mpeg, got %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.HasSuffix(cd, `.mp3"`) || !strings.HasPrefix(cd, "attachment;") {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	if rec.Body.String() != "payload" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}

	var snap progress.Snapshot
	if err := json.Unmarshal(get(env.handler, "/api/progress/s-audio").Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	if snap.Progress != 100 {
		t.Fatalf("expected final progress 100, got %+v", snap)
	}
}

func TestDownloadValidation(t *testing.T) {
	env := newTestEnv(t, libChoice, &stubRunner{plan: directPlan()})

	tests := []struct {
		name   string
		body   string
		status int
		want   string
	}{
		{"missing url", `{"kind":"video"}`, http.StatusBadRequest, "URL is required"},
		{"not youtube", `{"url":"https://example.com/watch?v=abc"}`, http.StatusBadRequest, "Invalid YouTube URL. Please make sure you entered a valid YouTube video URL."},
		{"bad kind", `{"url":"https://youtu.be/abc123","kind":"gif"}`, http.StatusBadRequest, `Invalid format "gif". Use "video" or "audio".`},
		{"unknown field", `{"url":"https://youtu.be/abc123","extra":1}`, http.StatusBadRequest, "invalid JSON payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(env.handler, "/api/download", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if got := decodeError(t, rec); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/download", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415 without content type, got %d", rec.Code)
	}
}

func TestLegacyFormatField(t *testing.T) {
	env := newTestEnv(t, libChoice, &stubRunner{plan: directPlan()})
	rec := postJSON(env.handler, "/api/download", `{"url":"https://youtu.be/abc123","format":"audio","sessionId":"legacy"}`)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "audio/mpeg" {
		t.Fatalf("legacy format field ignored: %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestClassifiedErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		choice backend.Choice
		runner extract.Runner
		status int
		want   string
	}{
		{
			name:   "private",
			choice: libChoice,
			runner: &stubRunner{inspectErr: errors.New("Private video")},
			status: http.StatusInternalServerError,
			want:   "This video is private and cannot be downloaded.",
		},
		{
			name:   "no format",
			choice: libChoice,
			runner: &stubRunner{inspectErr: extract.Errorf(extract.CategoryNoFormat, "No audio format available")},
			status: http.StatusBadRequest,
			want:   "No audio format available",
		},
		{
			name:   "unavailable backend",
			choice: backend.Choice{Backend: extract.BackendUnavailable},
			status: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.choice, tt.runner)
			rec := postJSON(env.handler, "/api/download", `{"url":"https://youtu.be/abc123"}`)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			got := decodeError(t, rec)
			if tt.want != "" && got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
			if got == "" {
				t.Fatal("expected an error message")
			}
		})
	}
}

func TestSecondaryDownload(t *testing.T) {
	env := newTestEnv(t, libChoice, &stubRunner{plan: directPlan()})

	rec := get(env.handler, "/api/secondary-download/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got != "Download session not found or expired" {
		t.Fatalf("unexpected message %q", got)
	}

	if rec := postJSON(env.handler, "/api/download", `{"url":"https://youtu.be/abc123","sessionId":"dev1"}`); rec.Code != http.StatusOK {
		t.Fatalf("primary download failed: %d", rec.Code)
	}

	for _, path := range []string{
		"/api/secondary-download/dev1",
		"/api/mobile-download/dev1?format=audio",
	} {
		rec := get(env.handler, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, rec.Code, rec.Body.String())
		}
	}
	if ct := get(env.handler, "/api/secondary-download/dev1?kind=audio").Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("kind override ignored, got %q", ct)
	}
	if rec := get(env.handler, "/api/secondary-download/dev1?kind=gif"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid kind, got %d", rec.Code)
	}
}

func TestProgressDefaultsToInitial(t *testing.T) {
	env := newTestEnv(t, libChoice, &stubRunner{plan: directPlan()})
	var snap progress.Snapshot
	if err := json.Unmarshal(get(env.handler, "/api/progress/nobody").Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap != progress.Initial() {
		t.Fatalf("expected initial snapshot, got %+v", snap)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, backend.Choice{Backend: extract.BackendExternal, Path: "/bin/yt-dlp", Version: "2024.01.01"}, &stubRunner{plan: directPlan()})
	var payload map[string]any
	if err := json.Unmarshal(get(env.handler, "/api/status").Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"backend", "backend_path", "backend_version", "encoder_available", "active_downloads", "uptime"} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("status missing %q: %v", key, payload)
		}
	}
	if payload["backend"] != "yt-dlp" || payload["backend_version"] != "2024.01.01" {
		t.Fatalf("unexpected status %v", payload)
	}
}

func TestRouting(t *testing.T) {
	env := newTestEnv(t, libChoice, &stubRunner{plan: directPlan()})

	rec := get(env.handler, "/api/does-not-exist")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var payload map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload["error"] != "API endpoint not found" || payload["path"] != "/api/does-not-exist" || payload["method"] != "GET" {
		t.Fatalf("unexpected body %v", payload)
	}

	for _, path := range []string{"/", "/some/client/route"} {
		rec := get(env.handler, path)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<title>tubeflow</title>") {
			t.Fatalf("%s: expected SPA shell, got %d", path, rec.Code)
		}
	}
	if rec := get(env.handler, "/app.js"); !strings.Contains(rec.Body.String(), "/api/progress/") {
		t.Fatal("expected static asset to be served")
	}
	if rec := get(env.handler, "/"); rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}

	opt := httptest.NewRequest(http.MethodOptions, "/api/download", nil)
	optRec := httptest.NewRecorder()
	env.handler.ServeHTTP(optRec, opt)
	if optRec.Code != http.StatusOK || optRec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected preflight response %d", optRec.Code)
	}
}

func TestFailureAfterHeadersAbortsResponse(t *testing.T) {
	env := newTestEnv(t, libChoice, &stubRunner{plan: directPlan(), failAfter: true})
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/download", "application/json", bytes.NewBufferString(`{"url":"https://youtu.be/abc123"}`))
	if err != nil {
		// The connection may be torn down before headers are read.
		return
	}
	defer resp.Body.Close()
	if _, err := io.ReadAll(resp.Body); err == nil {
		t.Fatal("expected truncated body to surface as a read error")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	h := withRecover(logging.NewNop(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestStatusForCategory(t *testing.T) {
	tests := []struct {
		cat  extract.Category
		want int
	}{
		{extract.CategoryInvalidInput, http.StatusBadRequest},
		{extract.CategoryNoFormat, http.StatusBadRequest},
		{extract.CategoryBackendUnavailable, http.StatusServiceUnavailable},
		{extract.CategoryBotDetection, http.StatusInternalServerError},
		{extract.CategoryEncoder, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForCategory(tt.cat); got != tt.want {
			t.Fatalf("statusForCategory(%s) = %d, want %d", tt.cat, got, tt.want)
		}
	}
}

func TestListenAndServeShutsDownOnCancel(t *testing.T) {
	env := newTestEnv(t, libChoice, &stubRunner{plan: directPlan()})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- env.server.ListenAndServe(ctx, addr) }()

	client := &http.Client{Timeout: 500 * time.Millisecond}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("server did not become ready in time")
		}
		resp, err := client.Get(fmt.Sprintf("http://%s/healthz", addr))
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("server error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}
}
