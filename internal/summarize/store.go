package summarize

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/internal/store"
)

// SummariesKey is the store key of the summary set.
const SummariesKey = "summaries"

// Record is one persisted summary.
type Record struct {
	RecordingID string         `json:"recording_id"`
	Summary     engine.Summary `json:"summary"`
	Tier        string         `json:"tier"`
	Score       float64        `json:"score"`
	Degraded    bool           `json:"degraded"`
	Fallback    bool           `json:"fallback"`
	SavedAt     time.Time      `json:"saved_at"`
}

// SummaryStore keeps every summary in a single blob keyed by recording id.
// Each save rewrites the whole set. Thread-safe for concurrent use.
type SummaryStore struct {
	mu sync.Mutex
	s  store.Store
}

// NewSummaryStore returns a SummaryStore persisting into s.
func NewSummaryStore(s store.Store) *SummaryStore {
	return &SummaryStore{s: s}
}

func (ss *SummaryStore) load(ctx context.Context) (map[string]Record, error) {
	set := make(map[string]Record)
	err := store.GetJSON(ctx, ss.s, SummariesKey, &set)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("summarize: load summaries: %w", err)
	}
	return set, nil
}

func (ss *SummaryStore) save(ctx context.Context, set map[string]Record) error {
	if err := store.SetJSON(ctx, ss.s, SummariesKey, set); err != nil {
		return fmt.Errorf("summarize: save summaries: %w", err)
	}
	return nil
}

// Save stores rec, replacing any earlier record of the same recording.
func (ss *SummaryStore) Save(ctx context.Context, rec Record) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	set, err := ss.load(ctx)
	if err != nil {
		return err
	}
	set[rec.RecordingID] = rec
	return ss.save(ctx, set)
}

// Get returns the record of recordingID or an error wrapping
// [store.ErrNotFound].
func (ss *SummaryStore) Get(ctx context.Context, recordingID string) (Record, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	set, err := ss.load(ctx)
	if err != nil {
		return Record{}, err
	}
	rec, ok := set[recordingID]
	if !ok {
		return Record{}, fmt.Errorf("summarize: recording %q: %w", recordingID, store.ErrNotFound)
	}
	return rec, nil
}

// All returns every record ordered by recording id.
func (ss *SummaryStore) All(ctx context.Context) ([]Record, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	set, err := ss.load(ctx)
	if err != nil {
		return nil, err
	}
	return slices.SortedFunc(maps.Values(set), func(a, b Record) int {
		return cmp.Compare(a.RecordingID, b.RecordingID)
	}), nil
}

// Rename moves the record of oldID to newID. A missing record is not an
// error; an existing record under newID is replaced.
func (ss *SummaryStore) Rename(ctx context.Context, oldID, newID string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	set, err := ss.load(ctx)
	if err != nil {
		return err
	}
	rec, ok := set[oldID]
	if !ok || oldID == newID {
		return nil
	}
	delete(set, oldID)
	rec.RecordingID = newID
	set[newID] = rec
	return ss.save(ctx, set)
}

// Delete removes the record of recordingID if present.
func (ss *SummaryStore) Delete(ctx context.Context, recordingID string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	set, err := ss.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := set[recordingID]; !ok {
		return nil
	}
	delete(set, recordingID)
	return ss.save(ctx, set)
}
