// Package llm wraps the text generation and embedding providers used by the
// turn stages.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// CompleteOptions holds options for LLM completion.
type CompleteOptions struct {
	CacheSystemPrompt bool // Enable prompt caching for the system prompt
	SchemaName        string
	Schema            *jsonschema.Schema // Constrain the response to this JSON schema
	Temperature       *float32
}

// CompleteOption is a functional option for Complete.
type CompleteOption func(*CompleteOptions)

// WithCacheControl enables prompt caching for the system prompt.
func WithCacheControl() CompleteOption {
	return func(o *CompleteOptions) {
		o.CacheSystemPrompt = true
	}
}

// WithJSONSchema asks the provider for a JSON document matching schema.
// Providers without native structured output get the schema in the system
// prompt instead.
func WithJSONSchema(name string, schema *jsonschema.Schema) CompleteOption {
	return func(o *CompleteOptions) {
		o.SchemaName = name
		o.Schema = schema
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) CompleteOption {
	return func(o *CompleteOptions) {
		o.Temperature = &t
	}
}

func applyOptions(opts []CompleteOption) CompleteOptions {
	var o CompleteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Client is the interface for interacting with an LLM.
type Client interface {
	// Complete sends a prompt to the LLM and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error)
}

// Embedder turns texts into vectors for similarity search.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// SchemaFor builds the JSON schema of T, the same way MCP tool schemas are
// built.
func SchemaFor[T any]() (*jsonschema.Schema, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build schema: %w", err)
	}
	return s, nil
}

func schemaInstruction(o CompleteOptions) (string, error) {
	if o.Schema == nil {
		return "", nil
	}
	b, err := json.Marshal(o.Schema)
	if err != nil {
		return "", fmt.Errorf("failed to marshal response schema: %w", err)
	}
	return "\n\nRespond with a single JSON object and nothing else. It must validate against this JSON schema:\n" + string(b), nil
}
