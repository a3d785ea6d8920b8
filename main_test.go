package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lvcoi/tubeflow/internal/backend"
	"github.com/lvcoi/tubeflow/internal/config"
	"github.com/lvcoi/tubeflow/internal/extract"
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func sampleConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tubeflow.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("create sample: %v", err)
	}
	return path
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected %q in output:\n%s", needle, haystack)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err := runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}

	out, _, err = runCLI(t, "--config", target, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
}

func TestGetRejectsInvalidURLs(t *testing.T) {
	out, _, err := runCLI(t, "--config", sampleConfig(t), "get", "--json", "https://example.com/video")
	var exit *exitError
	if !errors.As(err, &exit) || exit.code != 2 {
		t.Fatalf("expected exit code 2, got %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &payload); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if payload["type"] != "error" || payload["category"] != "invalid_input" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload["error"] != "Invalid YouTube URL. Please make sure you entered a valid YouTube video URL." {
		t.Fatalf("unexpected message %v", payload["error"])
	}
}

func TestGetRejectsUnknownKind(t *testing.T) {
	_, _, err := runCLI(t, "--config", sampleConfig(t), "get", "--kind", "gif", "https://youtu.be/abc123")
	if err == nil || !strings.Contains(err.Error(), `Invalid format "gif"`) {
		t.Fatalf("expected kind error, got %v", err)
	}
}

func TestProbeRows(t *testing.T) {
	tests := []struct {
		name    string
		choice  backend.Choice
		encoder bool
		want    []string
	}{
		{
			name:    "external",
			choice:  backend.Choice{Backend: extract.BackendExternal, Path: "/usr/bin/yt-dlp", Version: "2024.08.06"},
			encoder: true,
			want:    []string{"yt-dlp", "/usr/bin/yt-dlp (2024.08.06)", "merge up to 1080p; mp3 audio"},
		},
		{
			name:   "library",
			choice: backend.Choice{Backend: extract.BackendLibrary},
			want:   []string{"library", "bundled library", "combined streams only"},
		},
		{
			name:   "unavailable",
			choice: backend.Choice{Backend: extract.BackendUnavailable},
			want:   []string{"unavailable", "install yt-dlp"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rendered := renderReport(probeRows(tt.choice, "ffmpeg", tt.encoder))
			for _, want := range tt.want {
				requireContains(t, rendered, want)
			}
		})
	}
}
