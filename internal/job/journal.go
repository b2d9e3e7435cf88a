package job

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/murmur/internal/store"
)

// JournalKey is the store key holding the job journal.
const JournalKey = "jobs"

// Status is the observable state of one job.
type Status struct {
	JobID       string    `json:"job_id"`
	RecordingID string    `json:"recording_id"`
	AudioRef    string    `json:"audio_ref"`
	Backend     string    `json:"backend"`
	State       State     `json:"state"`
	Reason      string    `json:"reason,omitempty"`
	Locator     string    `json:"locator,omitempty"`
	Sync        bool      `json:"sync,omitempty"`
	Resumes     int       `json:"resumes,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Journal persists the jobs that a restart must be able to pick up again:
// those still Submitted or Polling, and those that TimedOut while the remote
// job kept running. Completed, Failed and Cancelled jobs are dropped.
//
// Synchronous jobs are never journaled. The whole journal is one blob under
// [JournalKey], replaced on every save.
type Journal struct {
	mu    sync.Mutex
	store store.Store
}

// NewJournal returns a journal persisting into s.
func NewJournal(s store.Store) *Journal {
	return &Journal{store: s}
}

// Record saves st, replacing any previous entry for the same job id.
func (j *Journal) Record(ctx context.Context, st Status) error {
	if st.Sync {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.load(ctx)
	if err != nil {
		return err
	}
	switch st.State {
	case Completed, Failed, Cancelled:
		delete(entries, st.JobID)
	default:
		entries[st.JobID] = st
	}
	if err := store.SetJSON(ctx, j.store, JournalKey, entries); err != nil {
		return fmt.Errorf("job: journal: %w", err)
	}
	return nil
}

// Entries returns every journaled job, ordered by submission time.
func (j *Journal) Entries(ctx context.Context) ([]Status, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entries, err := j.load(ctx)
	if err != nil {
		return nil, err
	}
	out := slices.Collect(maps.Values(entries))
	slices.SortFunc(out, func(a, b Status) int {
		if c := a.SubmittedAt.Compare(b.SubmittedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.JobID, b.JobID)
	})
	return out, nil
}

// Pending returns the journaled jobs that should be resumed.
func (j *Journal) Pending(ctx context.Context) ([]Status, error) {
	all, err := j.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(s Status) bool {
		return s.Sync || (s.State.IsTerminal() && s.State != TimedOut)
	}), nil
}

// Retarget moves every entry of recording oldID to newID.
func (j *Journal) Retarget(ctx context.Context, oldID, newID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	entries, err := j.load(ctx)
	if err != nil {
		return err
	}
	changed := false
	for id, st := range entries {
		if st.RecordingID == oldID {
			st.RecordingID = newID
			entries[id] = st
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := store.SetJSON(ctx, j.store, JournalKey, entries); err != nil {
		return fmt.Errorf("job: journal: %w", err)
	}
	return nil
}

func (j *Journal) load(ctx context.Context) (map[string]Status, error) {
	entries := make(map[string]Status)
	err := store.GetJSON(ctx, j.store, JournalKey, &entries)
	if errors.Is(err, store.ErrNotFound) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("job: journal: %w", err)
	}
	return entries, nil
}
