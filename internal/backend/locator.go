// Package backend discovers the tools available on the host: the yt-dlp
// binary used by the external extraction backend and the ffmpeg encoder.
package backend

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/lvcoi/tubeflow/internal/extract"
	"github.com/lvcoi/tubeflow/internal/logging"
)

const defaultVersionTimeout = 3 * time.Second

var (
	wellKnownPaths = []string{
		"/usr/local/bin/yt-dlp",
		"/usr/bin/yt-dlp",
		"~/.local/bin/yt-dlp",
		"/opt/homebrew/bin/yt-dlp",
	}
	searchNames = []string{"yt-dlp", "youtube-dl"}
)

// Choice is the outcome of backend discovery.
type Choice struct {
	Backend extract.Backend
	// Path and Version are set for the external backend.
	Path    string
	Version string
}

// Options configures discovery.
type Options struct {
	// ConfiguredPath is probed before anything else.
	ConfiguredPath string
	// ToolDir is an extra directory searched for the binary.
	ToolDir        string
	VersionTimeout time.Duration
	// LibraryFallback allows the bundled library when no binary is found.
	LibraryFallback bool
}

// Locator probes for an extraction backend once and caches the result for
// the process lifetime.
type Locator struct {
	opts   Options
	logger *slog.Logger

	once   sync.Once
	choice Choice

	// lookPath is exec.LookPath, replaceable in tests.
	lookPath func(string) (string, error)
}

func NewLocator(opts Options, logger *slog.Logger) *Locator {
	if opts.VersionTimeout <= 0 {
		opts.VersionTimeout = defaultVersionTimeout
	}
	return &Locator{
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "locator"),
		lookPath: exec.LookPath,
	}
}

// Locate returns the cached Choice, probing on first use.
func (l *Locator) Locate(ctx context.Context) Choice {
	l.once.Do(func() {
		l.choice = l.Probe(ctx)
	})
	return l.choice
}

// Probe walks the candidate list without consulting the cache.
func (l *Locator) Probe(ctx context.Context) Choice {
	for _, candidate := range l.candidates() {
		if choice, ok := l.verify(ctx, candidate); ok {
			l.logger.Info("external backend selected",
				logging.String("path", choice.Path),
				logging.String("version", choice.Version),
			)
			return choice
		}
	}

	if l.opts.LibraryFallback {
		l.logger.Info("yt-dlp not found, using bundled library backend")
		return Choice{Backend: extract.BackendLibrary}
	}
	l.logger.Warn("no extraction backend available")
	return Choice{Backend: extract.BackendUnavailable}
}

// candidates lists paths in probe order: configured location, locations
// relative to the working directory and the executable, well-known install
// paths, then the executable search path.
func (l *Locator) candidates() []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(p string) {
		if p == "" {
			return
		}
		p = expandHome(p)
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	add(l.opts.ConfiguredPath)
	if cwd, err := os.Getwd(); err == nil {
		add(filepath.Join(cwd, "bin", "yt-dlp"))
	}
	if exe, err := os.Executable(); err == nil {
		add(filepath.Join(filepath.Dir(exe), "bin", "yt-dlp"))
	}
	if l.opts.ToolDir != "" {
		add(filepath.Join(l.opts.ToolDir, "yt-dlp"))
	}
	for _, p := range wellKnownPaths {
		add(p)
	}
	for _, name := range searchNames {
		if p, err := l.lookPath(name); err == nil {
			add(p)
		}
	}
	return out
}

// verify accepts a candidate whose --version call succeeds, or which exists
// and is executable even though verification failed.
func (l *Locator) verify(ctx context.Context, path string) (Choice, bool) {
	info, statErr := os.Stat(path)
	if statErr != nil || info.IsDir() {
		return Choice{}, false
	}

	version, err := extract.Version(ctx, path, l.opts.VersionTimeout)
	if err == nil {
		return Choice{Backend: extract.BackendExternal, Path: path, Version: version}, true
	}
	if isExecutable(info) {
		l.logger.Warn("yt-dlp version check failed, using binary anyway",
			logging.String("path", path),
			logging.Error(err),
		)
		return Choice{Backend: extract.BackendExternal, Path: path}, true
	}
	l.logger.Debug("candidate rejected", logging.String("path", path), logging.Error(err))
	return Choice{}, false
}

func isExecutable(info os.FileInfo) bool {
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

func expandHome(p string) string {
	if len(p) < 2 || p[0] != '~' || (p[1] != '/' && p[1] != '\\') {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
