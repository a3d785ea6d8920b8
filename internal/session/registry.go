// Package session keeps the parameters of recent download requests so a
// second device can replay them.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lvcoi/tubeflow/internal/extract"
)

// Session is a retained download request.
type Session struct {
	ID          string       `json:"id"`
	URL         string       `json:"url"`
	Kind        extract.Kind `json:"kind"`
	Title       string       `json:"title,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt time.Time    `json:"completed_at,omitempty"`
}

func (s Session) expired(now time.Time, ttl time.Duration) bool {
	if s.CompletedAt.IsZero() {
		return false
	}
	return now.Sub(s.CompletedAt) >= ttl
}

// Registry maps session ids to Sessions. Entries live until ttl has passed
// since their first completion; in-flight entries never expire.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// NewID returns a fresh opaque session identifier.
func NewID() string {
	return uuid.NewString()
}

// Register records a request under id, generating an id when empty. A
// re-registration of an existing id replaces its parameters and clears the
// completion mark.
func (r *Registry) Register(id, url string, kind extract.Kind) Session {
	id = strings.TrimSpace(id)
	if id == "" {
		id = NewID()
	}
	s := &Session{ID: id, URL: url, Kind: kind, CreatedAt: r.now()}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return *s
}

// SetTitle stores the display title once metadata is known.
func (r *Registry) SetTitle(id, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Title = title
	}
}

// Complete starts the retention window for id. Later completions (secondary
// replays) do not extend it.
func (r *Registry) Complete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.CompletedAt.IsZero() {
		s.CompletedAt = r.now()
	}
}

// Get returns the session for id when present and unexpired.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	var out Session
	if ok {
		out = *s
	}
	r.mu.RUnlock()
	if !ok || out.expired(r.now(), r.ttl) {
		return Session{}, false
	}
	return out, true
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ActiveCount reports sessions that have not completed yet.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.CompletedAt.IsZero() {
			n++
		}
	}
	return n
}

// RemoveExpired drops every session whose retention window has passed.
func (r *Registry) RemoveExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, s := range r.sessions {
		if s.expired(now, r.ttl) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// StartCleanup sweeps expired sessions every interval until ctx is done.
func (r *Registry) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.RemoveExpired(now)
			}
		}
	}()
}
