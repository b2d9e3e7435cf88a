package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func startWatcher(t *testing.T, dir string, h Handler, opts ...Option) context.CancelFunc {
	t.Helper()
	w, err := New(dir, h, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		w.Close()
	})
	return cancel
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestWatcher_HandlesNewFile(t *testing.T) {
	dir := t.TempDir()
	got := make(chan string, 4)
	startWatcher(t, dir, func(_ context.Context, path string) error {
		got <- path
		return nil
	}, WithExtensions(".wav"), WithSettle(20*time.Millisecond))

	want := filepath.Join(dir, "meeting.WAV")
	writeFile(t, filepath.Join(dir, "notes.txt"))
	writeFile(t, filepath.Join(dir, ".partial.wav"))
	writeFile(t, want)

	select {
	case p := <-got:
		if p != want {
			t.Errorf("handled %q, want %q", p, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handler")
	}

	select {
	case p := <-got:
		t.Errorf("unexpected second dispatch of %q", p)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_HandlesEachPathOnce(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	done := make(chan struct{}, 4)
	startWatcher(t, dir, func(context.Context, string) error {
		calls.Add(1)
		done <- struct{}{}
		return nil
	}, WithSettle(20*time.Millisecond))

	path := filepath.Join(dir, "a.mp3")
	writeFile(t, path)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handler")
	}
	writeFile(t, path)
	time.Sleep(200 * time.Millisecond)

	if n := calls.Load(); n != 1 {
		t.Errorf("handler calls = %d, want 1", n)
	}
}

func TestWatcher_MaxConcurrent(t *testing.T) {
	dir := t.TempDir()
	release := make(chan struct{})
	var active, peak atomic.Int32
	finished := make(chan struct{}, 4)
	startWatcher(t, dir, func(context.Context, string) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		finished <- struct{}{}
		return nil
	}, WithMaxConcurrent(1), WithSettle(10*time.Millisecond))

	writeFile(t, filepath.Join(dir, "one.wav"))
	writeFile(t, filepath.Join(dir, "two.wav"))
	time.Sleep(200 * time.Millisecond)

	for range 2 {
		release <- struct{}{}
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for handler")
		}
	}
	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrency = %d, want 1", p)
	}
}

func TestWatcher_Existing(t *testing.T) {
	dir := t.TempDir()
	want := filepath.Join(dir, "old.ogg")
	writeFile(t, want)

	got := make(chan string, 1)
	startWatcher(t, dir, func(_ context.Context, path string) error {
		got <- path
		return nil
	}, WithExisting(), WithSettle(0))

	select {
	case p := <-got:
		if p != want {
			t.Errorf("handled %q, want %q", p, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for existing file")
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(t.TempDir(), nil); err == nil {
		t.Error("nil handler: want error")
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing"), func(context.Context, string) error { return nil }); err == nil {
		t.Error("missing dir: want error")
	}
}
