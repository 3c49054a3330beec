// Package generation defines the text-generation collaborator contract.
// The engine treats every generation failure as retryable or degradable,
// never fatal to the process.
package generation

import (
	"context"
	"fmt"

	"github.com/conductor-ai/conductor/pkg/config"
)

// Generator produces text for a prompt given contextual lines.
// Implementations must classify failures as fault.ErrUnavailable,
// fault.ErrRateLimited, or fault.ErrMalformed.
type Generator interface {
	// Generate returns a completion for the prompt. Context lines are
	// prepended as system context in implementation-specific form.
	Generate(ctx context.Context, prompt string, contextLines []string) (string, error)

	// Close releases resources held by the generator.
	Close() error
}

// New creates a generator from configuration.
func New(cfg config.GenerationConfig) (Generator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIGenerator(cfg)
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", cfg.Provider)
	}
}
