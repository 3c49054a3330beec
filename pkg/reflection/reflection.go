// Package reflection evaluates a candidate response against the turn's
// intent and recent history. Reflection is advisory: a failing backend
// never blocks the primary response.
package reflection

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/conductor-ai/conductor/pkg/generation"
	"github.com/conductor-ai/conductor/pkg/memory"
)

// Verdict is the outcome of one reflection pass. It is consumed
// immediately and never persisted.
type Verdict struct {
	Accepted     bool
	RevisionHint string
	// Skipped is set when the backend was unavailable and the verdict
	// defaulted to accepted.
	Skipped bool
}

// Engine performs one critique pass per Execute cycle.
type Engine struct {
	gen generation.Generator
	log *zap.Logger
}

// NewEngine creates a reflection engine over the generation backend.
func NewEngine(gen generation.Generator, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{gen: gen, log: log}
}

const critiquePrompt = `You are reviewing an assistant's draft reply.
User request: %s
Draft reply: %s

Answer with exactly one line: "ACCEPT" if the draft addresses the request,
or "REVISE: <short hint>" if it should be redone.`

// Evaluate critiques a candidate response. One generation call per pass;
// backend failure defaults to accepted with Skipped set, so correctness of
// the primary response never depends on reflection succeeding.
func (e *Engine) Evaluate(ctx context.Context, input, candidate string, history []memory.Exchange) Verdict {
	contextLines := make([]string, 0, len(history))
	for _, ex := range history {
		contextLines = append(contextLines, fmt.Sprintf("user: %s / assistant: %s", ex.Input, ex.Response))
	}

	out, err := e.gen.Generate(ctx, fmt.Sprintf(critiquePrompt, input, candidate), contextLines)
	if err != nil {
		e.log.Warn("reflection skipped, backend unavailable", zap.Error(err))
		return Verdict{Accepted: true, Skipped: true}
	}

	return parseVerdict(out)
}

// parseVerdict reads the critique line. Anything that is not an explicit
// revision request counts as acceptance: reflection must fail open.
func parseVerdict(out string) Verdict {
	line := strings.TrimSpace(out)
	upper := strings.ToUpper(line)

	if strings.HasPrefix(upper, "REVISE") {
		hint := strings.TrimLeft(line[len("REVISE"):], ": ")
		return Verdict{Accepted: false, RevisionHint: strings.TrimSpace(hint)}
	}
	return Verdict{Accepted: true}
}
