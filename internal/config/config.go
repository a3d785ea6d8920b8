package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Server configures the HTTP boundary.
type Server struct {
	Listen string `toml:"listen"`
	// StaticDir overrides the embedded single-page shell when set.
	StaticDir string `toml:"static_dir"`
}

// Paths configures filesystem locations.
type Paths struct {
	// TempDir holds per-request temporary media. Empty means the OS temp dir.
	TempDir string `toml:"temp_dir"`
	// ToolDir is an extra directory searched for the extraction tool.
	ToolDir string `toml:"tool_dir"`
}

// Backend configures extraction backend discovery and limits.
type Backend struct {
	// YtDlpPath pins the external tool location; it is probed before anything else.
	YtDlpPath             string `toml:"ytdlp_path"`
	FFmpegPath            string `toml:"ffmpeg_path"`
	VersionTimeoutSeconds int    `toml:"version_timeout_seconds"`
	TitleTimeoutSeconds   int    `toml:"title_timeout_seconds"`
	LibraryTimeoutSeconds int    `toml:"library_timeout_seconds"`
	LibraryFallback       bool   `toml:"library_fallback"`
}

// Retention controls how long in-memory state survives a finished request.
type Retention struct {
	ProgressGraceSeconds int `toml:"progress_grace_seconds"`
	SessionTTLSeconds    int `toml:"session_ttl_seconds"`
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
}

// Audio configures transcoded audio output.
type Audio struct {
	Bitrate string `toml:"bitrate"`
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// History configures the download audit trail.
type History struct {
	Enabled bool   `toml:"enabled"`
	DSN     string `toml:"dsn"`
}

// Metrics toggles the Prometheus endpoint.
type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// Config encapsulates all configuration values for tubeflow.
type Config struct {
	Server    Server    `toml:"server"`
	Paths     Paths     `toml:"paths"`
	Backend   Backend   `toml:"backend"`
	Retention Retention `toml:"retention"`
	Audio     Audio     `toml:"audio"`
	Logging   Logging   `toml:"logging"`
	History   History   `toml:"history"`
	Metrics   Metrics   `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tubeflow/config.toml")
}

// Load locates, parses, and validates a configuration file. A missing file is not an
// error; defaults are returned and exists reports false.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tubeflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	c.Server.Listen = strings.TrimSpace(c.Server.Listen)
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		host := ""
		if h, _, err := net.SplitHostPort(c.Server.Listen); err == nil {
			host = h
		}
		c.Server.Listen = net.JoinHostPort(host, port)
	}

	var err error
	if c.Server.StaticDir, err = expandPath(strings.TrimSpace(c.Server.StaticDir)); err != nil {
		return err
	}
	if c.Paths.TempDir, err = expandPath(strings.TrimSpace(c.Paths.TempDir)); err != nil {
		return err
	}
	if c.Paths.TempDir == "" {
		c.Paths.TempDir = os.TempDir()
	}
	if c.Paths.ToolDir, err = expandPath(strings.TrimSpace(c.Paths.ToolDir)); err != nil {
		return err
	}
	if c.Backend.YtDlpPath, err = expandPath(strings.TrimSpace(c.Backend.YtDlpPath)); err != nil {
		return err
	}
	c.Backend.FFmpegPath = strings.TrimSpace(c.Backend.FFmpegPath)
	if c.Backend.FFmpegPath == "" {
		c.Backend.FFmpegPath = defaultFFmpegBinary
	}
	c.Audio.Bitrate = strings.ToLower(strings.TrimSpace(c.Audio.Bitrate))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.History.DSN = strings.TrimSpace(c.History.DSN)
	if c.History.DSN == "" {
		c.History.DSN = defaultHistoryDSN
	}
	return nil
}

// VersionTimeout bounds each external tool verification probe.
func (c *Config) VersionTimeout() time.Duration {
	return time.Duration(c.Backend.VersionTimeoutSeconds) * time.Second
}

// TitleTimeout bounds the external tool title lookup.
func (c *Config) TitleTimeout() time.Duration {
	return time.Duration(c.Backend.TitleTimeoutSeconds) * time.Second
}

// LibraryTimeout is the HTTP client timeout used by the library backend for metadata calls.
func (c *Config) LibraryTimeout() time.Duration {
	return time.Duration(c.Backend.LibraryTimeoutSeconds) * time.Second
}

// ProgressGrace is how long a terminal progress snapshot stays visible.
func (c *Config) ProgressGrace() time.Duration {
	return time.Duration(c.Retention.ProgressGraceSeconds) * time.Second
}

// SessionTTL is how long a finished session can be replayed from a second device.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Retention.SessionTTLSeconds) * time.Second
}

// SweepInterval is the period of the expired-session sweeper.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Retention.SweepIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
