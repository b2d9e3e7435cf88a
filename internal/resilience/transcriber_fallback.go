package resilience

import (
	"context"

	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with automatic failover
// across multiple synchronous transcription backends. Each backend has its own
// circuit breaker.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// Compile-time interface assertion.
var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber as a fallback.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe sends the file to the first healthy backend. If it fails,
// subsequent fallbacks are tried with the same file.
func (f *TranscriberFallback) Transcribe(ctx context.Context, path string) (*stt.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (*stt.Result, error) {
		return t.Transcribe(ctx, path)
	})
}
