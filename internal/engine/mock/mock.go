// Package mock provides a test double for the engine.Engine interface.
//
// Engine records every call and returns the configured results. Leave a
// result field at its zero value to get an empty answer; set ProcessFunc to
// take full control of ProcessComplete.
//
// Example:
//
//	e := &mock.Engine{EngineName: "openai", EngineKind: engine.KindOpenAI, Available: true}
//	e.Summary = &engine.Summary{Text: "done"}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/murmur/internal/engine"
)

// Engine is a mock implementation of engine.Engine. It is safe for concurrent
// use.
type Engine struct {
	mu sync.Mutex

	EngineName string
	EngineKind engine.Kind

	// Available and Requirements populate the descriptor.
	Available    bool
	Requirements []string
	ComingSoon   bool

	// Draft, Tasks, Reminders and Content are returned by the capability
	// methods. Err, when set, is returned by every capability method and by
	// ProcessComplete.
	Draft     engine.Draft
	Tasks     []engine.Task
	Reminders []engine.Reminder
	Content   engine.ContentType
	Err       error

	// Summary is returned by ProcessComplete when set. Otherwise
	// ProcessComplete assembles the capability results.
	Summary *engine.Summary

	// ProcessFunc, if set, takes precedence over Summary and Err.
	ProcessFunc func(ctx context.Context, text string) (*engine.Summary, error)

	// ProcessCalls records the text of every ProcessComplete call.
	ProcessCalls []string

	// DescriptorCalls counts Descriptor invocations.
	DescriptorCalls int
}

var _ engine.Engine = (*Engine)(nil)

func (e *Engine) Kind() engine.Kind { return e.EngineKind }
func (e *Engine) Name() string      { return e.EngineName }

// SetAvailable flips availability. Thread-safe.
func (e *Engine) SetAvailable(ok bool, requirements ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Available = ok
	e.Requirements = requirements
}

// Descriptor returns a descriptor built from the mock's fields.
func (e *Engine) Descriptor(context.Context) engine.Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.DescriptorCalls++
	return engine.Descriptor{
		Name:         e.EngineName,
		Kind:         e.EngineKind,
		Available:    e.Available,
		ComingSoon:   e.ComingSoon,
		Requirements: append([]string(nil), e.Requirements...),
		Version:      "mock",
	}
}

func (e *Engine) GenerateSummary(context.Context, string) (engine.Draft, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Draft, e.Err
}

func (e *Engine) ExtractTasks(context.Context, string) ([]engine.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Tasks, e.Err
}

func (e *Engine) ExtractReminders(context.Context, string) ([]engine.Reminder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Reminders, e.Err
}

func (e *Engine) ClassifyContent(context.Context, string) (engine.ContentType, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Content, e.Err
}

// ProcessComplete records the call and returns the configured result.
func (e *Engine) ProcessComplete(ctx context.Context, text string) (*engine.Summary, error) {
	e.mu.Lock()
	e.ProcessCalls = append(e.ProcessCalls, text)
	fn, sum, err := e.ProcessFunc, e.Summary, e.Err
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if err != nil {
		return nil, err
	}
	if sum != nil {
		cp := *sum
		if cp.Engine == "" {
			cp.Engine = e.EngineName
		}
		if cp.GeneratedAt.IsZero() {
			cp.GeneratedAt = time.Now().UTC()
		}
		return &cp, nil
	}
	return engine.Assemble(ctx, e, text)
}

// CallCount returns the number of ProcessComplete calls. Thread-safe.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ProcessCalls)
}
