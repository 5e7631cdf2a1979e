// Package reasoning defines the reasoning backend port (interface).
//
// A backend turns one agent prompt into one completion. Prompt content,
// parsing, and retries belong to the callers; the backend only moves text.
package reasoning

import "context"

// Request is a single completion request on behalf of a pipeline agent.
type Request struct {
	Agent       string  `json:"agent"`
	System      string  `json:"system"`
	User        string  `json:"user"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Response is the completion returned by a backend.
type Response struct {
	Content   string `json:"content"`
	Model     string `json:"model"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
}

// Backend is the port interface for a reasoning model provider.
type Backend interface {
	// Name returns the unique identifier for this backend (e.g. "openai", "simulated").
	Name() string

	// Complete runs one prompt and returns the raw completion.
	Complete(ctx context.Context, req Request) (*Response, error)
}
