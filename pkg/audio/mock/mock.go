// Package mock provides test doubles for the [audio.Inspector] and
// [audio.Exporter] interfaces.
//
// Exporter can write real (empty) files into a directory so tests can assert
// that transient chunks are cleaned up:
//
//	exp := &mock.Exporter{Dir: t.TempDir()}
//	path, _ := exp.Export(ctx, "rec.wav", 0, 300*time.Second)
package mock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
)

// Inspector is a mock implementation of [audio.Inspector].
type Inspector struct {
	mu sync.Mutex

	// Info and Err are returned by Inspect.
	Info audio.Info
	Err  error

	// Paths records the argument of every Inspect call.
	Paths []string
}

// Inspect records the call and returns Info, Err.
func (m *Inspector) Inspect(_ context.Context, path string) (audio.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Paths = append(m.Paths, path)
	return m.Info, m.Err
}

var _ audio.Inspector = (*Inspector)(nil)

// ExportCall records a single invocation of Exporter.Export.
type ExportCall struct {
	Src   string
	Start time.Duration
	End   time.Duration
}

// Exporter is a mock implementation of [audio.Exporter].
type Exporter struct {
	mu sync.Mutex

	// Dir, if non-empty, is where Export creates an empty file per call. When
	// empty no file is written and only the path is returned.
	Dir string

	// FailAt makes the call with this zero-based index fail with Err. Negative
	// or unset (with Err nil) never fails.
	FailAt int
	Err    error

	// Delay, if set, blocks each Export for this long or until ctx is done.
	Delay time.Duration

	// PerSecond and Overhead are returned by ExportRate. A zero PerSecond
	// means the output size is unknown.
	PerSecond int64
	Overhead  int64

	// Calls records every call to Export.
	Calls []ExportCall
}

// ExportRate returns PerSecond, Overhead.
func (m *Exporter) ExportRate() (perSecond, overhead int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PerSecond, m.Overhead
}

// Export records the call and produces a deterministic path.
func (m *Exporter) Export(ctx context.Context, src string, start, end time.Duration) (string, error) {
	m.mu.Lock()
	idx := len(m.Calls)
	m.Calls = append(m.Calls, ExportCall{Src: src, Start: start, End: end})
	dir, delay, failAt, failErr := m.Dir, m.Delay, m.FailAt, m.Err
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if failErr != nil && idx == failAt {
		return "", failErr
	}

	name := audio.ChunkName(src, start, end)
	if dir == "" {
		return name, nil
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		return "", fmt.Errorf("mock exporter: %w", err)
	}
	return path, nil
}

// CallCount returns the number of Export calls. Thread-safe.
func (m *Exporter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

var _ audio.SizedExporter = (*Exporter)(nil)
