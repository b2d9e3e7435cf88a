// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic, Gemini,
// a local Ollama or llama.cpp server, ...) and exposes the single
// request/response call the summarisation engines need, plus enough metadata
// to budget prompts against the model's context window.
//
// Prompt construction and response parsing belong to the caller; a provider
// only moves text in and out.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"errors"
)

// ErrContextExceeded is returned (wrapped) when a request is known to exceed
// the model's context window before it is sent.
var ErrContextExceeded = errors.New("llm: context window exceeded")

// Provider is the abstraction over any LLM backend.
//
// Each method should propagate context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns an error if the request fails or if ctx is cancelled before
	// the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens that the given messages would
	// consume in the model's context window. The result need not be exact but
	// should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata describing what the underlying model
	// supports. The result is constant for the lifetime of the Provider.
	Capabilities() ModelCapabilities
}

// EstimateTokens approximates the token count of messages at roughly four
// characters per token plus a small per-message overhead. Providers without a
// tokenizer endpoint use it for CountTokens.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		// role + formatting tokens
		total += 4
	}
	return total
}

// Fits reports whether req, including its system prompt and reserved output
// budget, fits into the context window of p.
func Fits(p Provider, req CompletionRequest) (bool, error) {
	caps := p.Capabilities()
	if caps.ContextWindow <= 0 {
		return true, nil
	}
	msgs := req.Messages
	if req.SystemPrompt != "" {
		msgs = append([]Message{{Role: RoleSystem, Content: req.SystemPrompt}}, msgs...)
	}
	n, err := p.CountTokens(msgs)
	if err != nil {
		return false, err
	}
	reserve := req.MaxTokens
	if reserve <= 0 {
		reserve = caps.MaxOutputTokens
	}
	return n+reserve <= caps.ContextWindow, nil
}
