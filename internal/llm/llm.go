// Package llm defines the model invocation contract. It serves as the
// boundary between the processing pipeline and external language-model
// services, following the hexagonal architecture pattern.
package llm

import "context"

// Request describes one model invocation.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float32
}

// Response carries the generated text plus the provider-reported token
// counts needed for usage accounting.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Invoker makes a single model call. Implementations classify their
// failures into the sentinel errors in errors.go; they do not retry.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}
