package orchestrator

import (
	"sync"

	"github.com/lvcoi/tubeflow/internal/progress"
)

// reporter writes snapshots for one session and never lets the published
// value go backwards.
type reporter struct {
	store *progress.Store
	id    string

	mu    sync.Mutex
	last  float64
	title string
	parts [2]float64
	msg   string
}

func newReporter(store *progress.Store, id string) *reporter {
	rep := &reporter{store: store, id: id}
	snap := progress.Initial()
	rep.msg = snap.Message
	store.Set(id, snap)
	return rep
}

func (r *reporter) setTitle(title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.title = title
	r.publishLocked()
}

func (r *reporter) message(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msg = msg
	r.publishLocked()
}

func (r *reporter) set(pct float64, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanceLocked(pct)
	r.msg = msg
	r.publishLocked()
}

// part records the contribution of one of two parallel tracks; the published
// value is their sum.
func (r *reporter) part(idx int, pct float64, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx < 0 || idx >= len(r.parts) {
		return
	}
	if pct > r.parts[idx] {
		r.parts[idx] = pct
	}
	r.advanceLocked(r.parts[0] + r.parts[1])
	r.msg = msg
	r.publishLocked()
}

// complete writes the terminal snapshot. Successful requests always end at 100.
func (r *reporter) complete(success bool, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if success {
		r.last = 100
	}
	r.msg = msg
	r.store.Complete(r.id, r.snapshotLocked())
}

func (r *reporter) advanceLocked(pct float64) {
	if pct > 100 {
		pct = 100
	}
	if pct > r.last {
		r.last = pct
	}
}

func (r *reporter) snapshotLocked() progress.Snapshot {
	return progress.Snapshot{Progress: r.last, Message: r.msg, Title: r.title}
}

func (r *reporter) publishLocked() {
	r.store.Set(r.id, r.snapshotLocked())
}
