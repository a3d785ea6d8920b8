// Package progress holds the latest progress snapshot per download session.
package progress

import (
	"sort"
	"sync"
	"time"
)

// Snapshot is what a poller sees for a session.
type Snapshot struct {
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
	Title    string  `json:"title"`
}

// Initial is returned for sessions the store has never seen.
func Initial() Snapshot {
	return Snapshot{Progress: 0, Message: "Initializing...", Title: ""}
}

// Publisher receives every snapshot written to the store.
type Publisher interface {
	Publish(id string, snap Snapshot)
}

type entry struct {
	snap  Snapshot
	gen   uint64
	timer *time.Timer
}

// Store is a concurrency-safe map of session id to its latest Snapshot.
// Terminal snapshots are evicted after a grace period so a final poll can
// still observe them.
type Store struct {
	mu        sync.Mutex
	entries   map[string]*entry
	grace     time.Duration
	publisher Publisher
}

func NewStore(grace time.Duration, publisher Publisher) *Store {
	return &Store{
		entries:   make(map[string]*entry),
		grace:     grace,
		publisher: publisher,
	}
}

// Set overwrites the snapshot for id and cancels any pending eviction.
func (s *Store) Set(id string, snap Snapshot) {
	s.mu.Lock()
	e := s.entryLocked(id)
	e.snap = snap
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	s.mu.Unlock()
	s.publish(id, snap)
}

// Complete writes the terminal snapshot and schedules its removal.
func (s *Store) Complete(id string, snap Snapshot) {
	s.mu.Lock()
	e := s.entryLocked(id)
	e.snap = snap
	e.gen++
	gen := e.gen
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(s.grace, func() { s.evict(id, gen) })
	s.mu.Unlock()
	s.publish(id, snap)
}

func (s *Store) evict(id string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok && e.gen == gen {
		delete(s.entries, id)
	}
}

// Get returns the snapshot for id, or Initial when none exists.
func (s *Store) Get(id string) Snapshot {
	if snap, ok := s.Lookup(id); ok {
		return snap
	}
	return Initial()
}

func (s *Store) Lookup(id string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Snapshot{}, false
	}
	return e.snap, true
}

// Delete removes id immediately.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, id)
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entry pairs a session id with its snapshot.
type Entry struct {
	ID       string
	Snapshot Snapshot
}

// All returns every live snapshot ordered by id.
func (s *Store) All() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, Entry{ID: id, Snapshot: e.snap})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) entryLocked(id string) *entry {
	e, ok := s.entries[id]
	if !ok {
		e = &entry{}
		s.entries[id] = e
	}
	return e
}

func (s *Store) publish(id string, snap Snapshot) {
	if s.publisher != nil {
		s.publisher.Publish(id, snap)
	}
}
