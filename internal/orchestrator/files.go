package orchestrator

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lvcoi/tubeflow/internal/logging"
)

const (
	maxFilenameLen  = 100
	defaultFilename = "download"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SanitizeFilename replaces every non-alphanumeric character with an
// underscore and truncates to 100 characters.
func SanitizeFilename(title string) string {
	name := unsafeFilenameChars.ReplaceAllString(title, "_")
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	if strings.Trim(name, "_") == "" {
		return defaultFilename
	}
	return name
}

// tempSet hands out temp file paths for one attempt and removes all of them
// on cleanup.
type tempSet struct {
	dir    string
	prefix string
	logger *slog.Logger

	mu    sync.Mutex
	paths []string
}

func newTempSet(dir, sessionID string, logger *slog.Logger) *tempSet {
	prefix := fmt.Sprintf("%d_%s", time.Now().UnixNano(), SanitizeFilename(sessionID))
	return &tempSet{dir: dir, prefix: prefix, logger: logger}
}

func (t *tempSet) path(role, ext string) string {
	name := t.prefix + "_" + role
	if ext != "" {
		name += "." + ext
	}
	p := filepath.Join(t.dir, name)
	t.mu.Lock()
	t.paths = append(t.paths, p)
	t.mu.Unlock()
	return p
}

// cleanup removes every path handed out. Files that were never created or
// are already gone are not an error.
func (t *tempSet) cleanup() {
	t.mu.Lock()
	paths := t.paths
	t.paths = nil
	t.mu.Unlock()
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.logger.Warn("temp file cleanup failed", logging.String("path", p), logging.Error(err))
		}
	}
}
