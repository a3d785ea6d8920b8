package orchestrator

import (
	"log/slog"
	"time"

	"github.com/lvcoi/tubeflow/internal/extract"
	"github.com/lvcoi/tubeflow/internal/logging"
)

// State is a step of a request's lifecycle.
type State string

const (
	StateIdle            State = "idle"
	StateBackendSelected State = "backend_selected"
	StateExtracting      State = "extracting"
	StateMerging         State = "merging"
	StateDelivering      State = "delivering"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StateCancelled       State = "cancelled"
)

func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRetryWithFallback
	outcomeFail
)

// outcome is what a single backend attempt reports back to Run, which alone
// decides whether to retry.
type outcome struct {
	kind      outcomeKind
	err       error
	backend   extract.Backend
	container extract.Container
	bytes     int64
}

// run is the per-request state.
type run struct {
	req     Request
	started time.Time
	state   State
	title   string
	logger  *slog.Logger
	report  *reporter
}

func (r *run) transition(to State) {
	if r.state == to || r.state.terminal() {
		return
	}
	r.logger.Debug("state change", logging.String("from", string(r.state)), logging.String("to", string(to)))
	r.state = to
}
