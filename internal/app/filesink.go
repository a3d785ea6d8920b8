package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lvcoi/tubeflow/internal/orchestrator"
)

// FileSink writes a download into dir under the name chosen by the
// orchestrator. Data lands in a .part file that is renamed on success.
type FileSink struct {
	dir      string
	file     *os.File
	partPath string
	target   string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// FileSinks returns a SinkFactory writing every request into dir.
func FileSinks(dir string) SinkFactory {
	return func(_ orchestrator.Request) (Sink, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating output dir: %w", err)
		}
		return NewFileSink(dir), nil
	}
}

func (s *FileSink) Start(_ string, filename string) error {
	if s.file != nil {
		return errors.New("file sink already started")
	}
	file, target, err := claimPath(filepath.Join(s.dir, filepath.Base(filename)))
	if err != nil {
		return err
	}
	s.file = file
	s.partPath = target + ".part"
	s.target = target
	return nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	if s.file == nil {
		return 0, errors.New("file sink not started")
	}
	return s.file.Write(p)
}

// Close renames the part file into place, or removes it when runErr is set.
func (s *FileSink) Close(runErr error) (string, error) {
	if s.file == nil {
		return "", nil
	}
	closeErr := s.file.Close()
	s.file = nil
	if runErr != nil || closeErr != nil {
		_ = os.Remove(s.partPath)
		if closeErr != nil {
			return "", fmt.Errorf("closing output file: %w", closeErr)
		}
		return "", nil
	}
	if err := os.Rename(s.partPath, s.target); err != nil {
		return "", fmt.Errorf("renaming output: %w", err)
	}
	return s.target, nil
}

// claimPath picks the first of path, "name (1).ext", ... whose final file does
// not exist and whose part file it can create exclusively. Concurrent sinks
// given the same name therefore never share a part file.
func claimPath(path string) (*os.File, string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	for i := 0; i < 10000; i++ {
		candidate := path
		if i > 0 {
			candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", name, i, ext))
		}
		if _, err := os.Stat(candidate); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}
		file, err := os.OpenFile(candidate+".part", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("creating output file: %w", err)
		}
		return file, candidate, nil
	}
	return nil, "", fmt.Errorf("unable to find available filename for %s", path)
}
