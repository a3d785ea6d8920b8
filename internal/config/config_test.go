package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/lvcoi/tubeflow/internal/config"
)

func TestLoadDefaultsWhenConfigAbsent(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("PORT", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	want := filepath.Join(tempHome, ".config", "tubeflow", "config.toml")
	if resolved != want {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, want)
	}
	if cfg.Server.Listen != ":3000" {
		t.Fatalf("unexpected listen: %q", cfg.Server.Listen)
	}
	if cfg.Paths.TempDir != os.TempDir() {
		t.Fatalf("expected OS temp dir, got %q", cfg.Paths.TempDir)
	}
	if cfg.VersionTimeout() != 3*time.Second {
		t.Fatalf("unexpected version timeout: %v", cfg.VersionTimeout())
	}
	if cfg.TitleTimeout() != 10*time.Second {
		t.Fatalf("unexpected title timeout: %v", cfg.TitleTimeout())
	}
	if cfg.ProgressGrace() != 5*time.Second {
		t.Fatalf("unexpected progress grace: %v", cfg.ProgressGrace())
	}
	if cfg.SessionTTL() != time.Hour {
		t.Fatalf("unexpected session ttl: %v", cfg.SessionTTL())
	}
	if !cfg.Backend.LibraryFallback {
		t.Fatal("expected library fallback enabled by default")
	}
}

func TestLoadCustomConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("PORT", "")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
listen = "127.0.0.1:8080"

[paths]
temp_dir = "~/scratch"
tool_dir = "~/bin"

[backend]
ytdlp_path = "~/bin/yt-dlp"

[logging]
level = "DEBUG"
format = "json"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected %q to be loaded, got %q exists=%v", configPath, resolved, exists)
	}
	if cfg.Paths.TempDir != filepath.Join(tempHome, "scratch") {
		t.Fatalf("unexpected temp dir: %q", cfg.Paths.TempDir)
	}
	if cfg.Backend.YtDlpPath != filepath.Join(tempHome, "bin", "yt-dlp") {
		t.Fatalf("unexpected ytdlp path: %q", cfg.Backend.YtDlpPath)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.Server.Listen != "127.0.0.1:8080" {
		t.Fatalf("unexpected listen: %q", cfg.Server.Listen)
	}
}

func TestPortEnvOverridesListenPort(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PORT", "9123")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[server]\nlisten = \"127.0.0.1:8080\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:9123" {
		t.Fatalf("expected PORT to override listen port, got %q", cfg.Server.Listen)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "empty listen",
			mutate: func(c *config.Config) { c.Server.Listen = "" },
			want:   "server.listen",
		},
		{
			name:   "zero version timeout",
			mutate: func(c *config.Config) { c.Backend.VersionTimeoutSeconds = 0 },
			want:   "version_timeout_seconds",
		},
		{
			name:   "ttl shorter than grace",
			mutate: func(c *config.Config) { c.Retention.SessionTTLSeconds = 1 },
			want:   "session_ttl_seconds",
		},
		{
			name:   "bad bitrate",
			mutate: func(c *config.Config) { c.Audio.Bitrate = "loud" },
			want:   "audio.bitrate",
		},
		{
			name:   "bad log format",
			mutate: func(c *config.Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PORT", "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("sample is not valid toml: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Audio.Bitrate != "192k" {
		t.Fatalf("unexpected bitrate: %q", cfg.Audio.Bitrate)
	}
}
