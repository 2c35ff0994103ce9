// Package summary is the append-only, thread-safe run event log (§4.8),
// grounded on the teacher's usecase-level result aggregation and on
// original_source's etl/utils/run_summary.py reduce step for totals.
package summary

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase names a stage within a source's lifecycle.
type Phase string

const (
	PhaseDownload Phase = "download"
	PhaseStage    Phase = "stage"
	PhaseSource   Phase = "source"
)

// Status is the terminal or intermediate outcome of a recorded event.
type Status string

const (
	StatusOK               Status = "ok"
	StatusSkipped          Status = "skipped"
	StatusFailed           Status = "failed"
	StatusPartial          Status = "partial"
	StatusSkippedCancelled Status = "skipped-cancelled"
)

// Event is one record() call's payload.
type Event struct {
	SourceID  string
	Phase     Phase
	Status    Status
	Detail    string
	Timestamp time.Time
}

// PerSourceResult is one source's terminal state in the finalized
// summary, per §7's "no source contributes more than one terminal
// record".
type PerSourceResult struct {
	SourceID string
	Status   Status
	Detail   string
}

// Totals aggregates outcomes across every source, including partial per
// §12 of SPEC_FULL (recovered from the original reduce step).
type Totals struct {
	Downloaded int
	Staged     int
	Skipped    int
	Failed     int
	Partial    int
}

// Result is finalize()'s return value.
type Result struct {
	RunID       string
	PerSource   []PerSourceResult
	Totals      Totals
	WallSeconds float64
}

// Notifier is the optional fire-and-forget publish hook wired when
// notify.amqp_url is set (§11.2 of SPEC_FULL). Publish must never block
// or fail the run; implementations swallow their own errors after
// logging.
type Notifier interface {
	Publish(event Event)
}

// Summary is a pure sink: Record and Finalize are its only public
// operations besides the RunID accessor, guarded by a single mutex per
// §5's "single-writer discipline".
type Summary struct {
	mu       sync.Mutex
	runID    string
	started  time.Time
	events   []Event
	terminal map[string]PerSourceResult
	notifier Notifier
}

// New starts a run, stamping it with a fresh correlation id.
func New(notifier Notifier) *Summary {
	return &Summary{
		runID:    uuid.NewString(),
		started:  time.Now(),
		terminal: make(map[string]PerSourceResult),
		notifier: notifier,
	}
}

// RunID returns the correlation id assigned at New.
func (s *Summary) RunID() string { return s.runID }

// Record appends an event to the log. A PhaseSource event is treated as
// that source's terminal record; recording a second one for the same
// source overwrites the first, matching §7's one-terminal-record-per-
// source guarantee by construction rather than by rejecting the call.
func (s *Summary) Record(sourceID string, phase Phase, status Status, detail string) {
	event := Event{SourceID: sourceID, Phase: phase, Status: status, Detail: detail, Timestamp: time.Now()}

	s.mu.Lock()
	s.events = append(s.events, event)
	if phase == PhaseSource {
		s.terminal[sourceID] = PerSourceResult{SourceID: sourceID, Status: status, Detail: detail}
	}
	s.mu.Unlock()

	if s.notifier != nil {
		s.notifier.Publish(event)
	}
}

// Finalize computes totals and returns the immutable run result. Safe to
// call once at the end of a run; subsequent Record calls after Finalize
// are still safe but have no effect on an already-returned Result.
func (s *Summary) Finalize() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	perSource := make([]PerSourceResult, 0, len(s.terminal))
	var totals Totals
	for _, r := range s.terminal {
		perSource = append(perSource, r)
		switch r.Status {
		case StatusOK:
			totals.Staged++
		case StatusSkipped, StatusSkippedCancelled:
			totals.Skipped++
		case StatusFailed:
			totals.Failed++
		case StatusPartial:
			totals.Partial++
		}
	}
	for _, e := range s.events {
		if e.Phase == PhaseDownload && e.Status == StatusOK {
			totals.Downloaded++
		}
	}

	return Result{
		RunID:       s.runID,
		PerSource:   perSource,
		Totals:      totals,
		WallSeconds: time.Since(s.started).Seconds(),
	}
}
