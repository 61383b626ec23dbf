// Package oracle wraps the external suggestion, correction and validation
// services behind one failure contract.
//
// Every call either returns a usable structured payload or a *Failure. No
// transport error, malformed response or panic inside a client crosses the
// Gateway boundary any other way.
package oracle

import (
	"context"
	"fmt"
)

// Request is a single text-in/text-out completion request.
type Request struct {
	System      string
	User        string
	Temperature float32
	// JSON asks the provider to return a single JSON object.
	JSON bool
}

// Client is a minimal interface for making LLM API calls.
// The gateway doesn't care about the provider -- it just needs
// a function that takes a request and returns text.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Validator runs the project-wide validation procedure.
type Validator interface {
	Validate(ctx context.Context, repoPath string) (passed bool, diagnostic string)
}

// ClientConfig selects and configures an LLM provider.
type ClientConfig struct {
	Provider string // "openai" (any OpenAI-compatible endpoint) or "anthropic"
	BaseURL  string
	APIKey   string
	Model    string
}

// NewClient creates a Client for the configured provider.
func NewClient(cfg ClientConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle API key not set")
	}
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case "anthropic":
		return NewAnthropicClient(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported oracle provider %q (want openai or anthropic)", cfg.Provider)
	}
}
