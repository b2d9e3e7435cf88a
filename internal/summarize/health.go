package summarize

import (
	"time"

	"github.com/MrWong99/murmur/internal/engine"
)

// DefaultFailureHistory is the number of engine failures kept for
// diagnostics.
const DefaultFailureHistory = 50

// Failure describes one failed engine run.
type Failure struct {
	RecordingID string
	Engine      string
	Elapsed     time.Duration
	InputWords  int
	Err         error
	At          time.Time
}

// failureRing keeps the most recent failures. Not safe for concurrent use.
type failureRing struct {
	buf  []Failure
	next int
	full bool
}

func newFailureRing(n int) *failureRing {
	return &failureRing{buf: make([]Failure, n)}
}

func (r *failureRing) add(f Failure) {
	if len(r.buf) == 0 {
		return
	}
	r.buf[r.next] = f
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// items returns the failures oldest first.
func (r *failureRing) items() []Failure {
	if !r.full {
		return append([]Failure(nil), r.buf[:r.next]...)
	}
	out := make([]Failure, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// EngineHealth is the per-engine part of a [HealthReport].
type EngineHealth struct {
	Name         string
	Kind         engine.Kind
	Available    bool
	Requirements []string
	Failures     int
	LastFailure  time.Time
	LastError    string
}

// HealthReport is a snapshot of the orchestrator's counters and the engines'
// last known state.
type HealthReport struct {
	CurrentEngine    string
	CurrentAvailable bool

	Successes int
	Degraded  int
	Failed    int
	Fallbacks int

	// RecentFailures counts the failures still held in the diagnostics
	// history.
	RecentFailures int

	Engines []EngineHealth
}

// HealthReport returns a consistent snapshot of the orchestrator state.
func (o *Orchestrator) HealthReport() HealthReport {
	o.mu.Lock()
	failures := o.failures.items()
	rep := HealthReport{
		Successes: o.counts.successes,
		Degraded:  o.counts.degraded,
		Failed:    o.counts.failed,
		Fallbacks: o.counts.fallbacks,
	}
	o.mu.Unlock()

	rep.CurrentEngine = o.registry.CurrentName()
	rep.CurrentAvailable = o.registry.CurrentAvailable()
	rep.RecentFailures = len(failures)

	for _, d := range o.registry.Descriptors() {
		eh := EngineHealth{
			Name:         d.Name,
			Kind:         d.Kind,
			Available:    d.Available,
			Requirements: d.Requirements,
		}
		for _, f := range failures {
			if f.Engine != d.Name {
				continue
			}
			eh.Failures++
			eh.LastFailure = f.At
			if f.Err != nil {
				eh.LastError = f.Err.Error()
			}
		}
		rep.Engines = append(rep.Engines, eh)
	}
	return rep
}

// Failures returns the retained failure diagnostics, oldest first.
func (o *Orchestrator) Failures() []Failure {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures.items()
}
