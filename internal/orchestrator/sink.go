package orchestrator

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// Sink receives the delivered file. Start is called exactly once, before the
// first Write, with the content type and attachment filename.
type Sink interface {
	io.Writer
	Start(contentType, filename string) error
}

// lazySink defers Start until the first byte so a failure before any data
// can still become an error response.
type lazySink struct {
	dst Sink

	mu          sync.Mutex
	contentType string
	filename    string
	started     atomic.Bool
	startErr    error
}

func newLazySink(dst Sink) *lazySink {
	return &lazySink{dst: dst}
}

// Prepare records the headers used by the eventual Start.
func (s *lazySink) Prepare(contentType, filename string) {
	s.mu.Lock()
	s.contentType, s.filename = contentType, filename
	s.mu.Unlock()
}

// StartNow starts the underlying sink if it has not been started.
func (s *lazySink) StartNow() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.Load() {
		return s.startErr
	}
	if s.contentType == "" {
		return errors.New("sink started before headers were prepared")
	}
	s.startErr = s.dst.Start(s.contentType, s.filename)
	s.started.Store(true)
	return s.startErr
}

func (s *lazySink) Started() bool {
	return s.started.Load()
}

func (s *lazySink) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if !s.started.Load() {
		if err := s.StartNow(); err != nil {
			return 0, err
		}
	}
	return s.dst.Write(p)
}
