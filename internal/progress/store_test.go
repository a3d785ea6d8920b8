package progress

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type recordingPublisher struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingPublisher) Publish(id string, snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("%s:%.0f", id, snap.Progress))
}

func TestGetUnknownReturnsInitial(t *testing.T) {
	s := NewStore(time.Second, nil)
	snap := s.Get("nope")
	if snap != Initial() {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Progress != 0 || snap.Message != "Initializing..." {
		t.Fatalf("initial snapshot changed: %+v", snap)
	}
}

func TestSetOverwritesAndPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewStore(time.Second, pub)
	s.Set("a", Snapshot{Progress: 10, Message: "one"})
	s.Set("a", Snapshot{Progress: 20, Message: "two"})

	if s.Len() != 1 {
		t.Fatalf("expected one entry per id, got %d", s.Len())
	}
	if got := s.Get("a"); got.Progress != 20 || got.Message != "two" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if len(pub.calls) != 2 || pub.calls[1] != "a:20" {
		t.Fatalf("unexpected publish calls %v", pub.calls)
	}
}

func TestCompleteEvictsAfterGrace(t *testing.T) {
	s := NewStore(30*time.Millisecond, nil)
	s.Complete("a", Snapshot{Progress: 100, Message: "Download complete!"})

	if _, ok := s.Lookup("a"); !ok {
		t.Fatal("terminal snapshot should be visible during the grace period")
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.Lookup("a"); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("snapshot was not evicted after the grace period")
}

func TestSetCancelsPendingEviction(t *testing.T) {
	s := NewStore(20*time.Millisecond, nil)
	s.Complete("a", Snapshot{Progress: 100})
	s.Set("a", Snapshot{Progress: 5, Message: "restarted"})

	time.Sleep(80 * time.Millisecond)
	got, ok := s.Lookup("a")
	if !ok || got.Message != "restarted" {
		t.Fatalf("a newer request's snapshot must survive an older eviction, got %+v ok=%v", got, ok)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore(time.Millisecond, nil)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i%4)
			for p := range 50 {
				s.Set(id, Snapshot{Progress: float64(p)})
				_ = s.Get(id)
				_ = s.All()
			}
			s.Complete(id, Snapshot{Progress: 100})
		}(i)
	}
	wg.Wait()
}

func TestAllIsSorted(t *testing.T) {
	s := NewStore(time.Second, nil)
	s.Set("b", Snapshot{})
	s.Set("a", Snapshot{})
	all := s.All()
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Fatalf("unexpected order %+v", all)
	}
}
