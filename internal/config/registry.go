package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	llm          map[string]func(ProviderEntry) (llm.Provider, error)
	transcribers map[string]func(ProviderEntry) (stt.Transcriber, error)
	jobs         map[string]func(context.Context, ProviderEntry) (stt.JobBackend, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:          make(map[string]func(ProviderEntry) (llm.Provider, error)),
		transcribers: make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		jobs:         make(map[string]func(context.Context, ProviderEntry) (stt.JobBackend, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTranscriber registers a synchronous transcription backend factory.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribers[name] = factory
}

// RegisterJobBackend registers an asynchronous transcription backend factory.
func (r *Registry) RegisterJobBackend(name string, factory func(context.Context, ProviderEntry) (stt.JobBackend, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranscriber instantiates a synchronous transcription backend.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcribers[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcriber/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateJobBackend instantiates an asynchronous transcription backend.
func (r *Registry) CreateJobBackend(ctx context.Context, entry ProviderEntry) (stt.JobBackend, error) {
	r.mu.RLock()
	factory, ok := r.jobs[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: job/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(ctx, entry)
}

// IsJobBackend reports whether name is registered as an asynchronous
// backend.
func (r *Registry) IsJobBackend(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.jobs[name]
	return ok
}

// Names returns the sorted registered names for kind ("llm", "transcriber"
// or "job").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "llm":
		return slices.Sorted(maps.Keys(r.llm))
	case "transcriber":
		return slices.Sorted(maps.Keys(r.transcribers))
	case "job":
		return slices.Sorted(maps.Keys(r.jobs))
	}
	return nil
}
