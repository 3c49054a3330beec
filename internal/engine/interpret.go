package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/conductor-ai/conductor/pkg/fault"
	"github.com/conductor-ai/conductor/pkg/memory"
	"github.com/conductor-ai/conductor/pkg/skill"
)

// errNoIntent means interpretation produced nothing actionable.
var errNoIntent = errors.New("no actionable intent")

const routePrompt = `You are routing a user request to skills.
Available skills:
%s
User request: %s

Answer with exactly one line:
"SKILL <name>" to invoke a skill,
"CLARIFY" if the request is ambiguous,
or a short direct reply for conversational requests.`

// interpret turns raw input into an intent. Perception and goal capture
// run first; keyword seeding handles the common cases without a model
// call, and the generator resolves the rest.
func (e *Engine) interpret(ctx context.Context, turn Turn, memCtx memory.Context, strict bool) (intent, error) {
	text := strings.TrimSpace(turn.Input)
	if text == "" {
		return intent{}, fmt.Errorf("%w: empty input", errNoIntent)
	}

	out := intent{entities: extractEntities(text)}
	if looksLikeGoal(text) {
		out.goals = append(out.goals, text)
	}

	// Keyword plan seeding for the common productivity intents.
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "meeting") || strings.Contains(lower, "schedule"):
		out.invocations = append(out.invocations, invocationFor("calendar.create_event", map[string]any{
			"title": text,
			"when":  extractWhen(lower),
		}))
		return out, nil
	case strings.Contains(lower, "note") || strings.Contains(lower, "remember"):
		out.invocations = append(out.invocations, invocationFor("notes.append", map[string]any{
			"text": text,
		}))
		return out, nil
	}

	// Fall back to the generator for everything else.
	skills := e.registry.List()
	var names []string
	for _, m := range skills {
		names = append(names, fmt.Sprintf("- %s: %s", m.Name, m.Description))
	}

	prompt := fmt.Sprintf(routePrompt, strings.Join(names, "\n"), text)
	if strict {
		prompt += "\nDo not answer CLARIFY; interpret the request literally."
	}

	reply, err := e.generate(ctx, prompt, contextLines(memCtx))
	if err != nil {
		return intent{}, fmt.Errorf("%w: %v", errNoIntent, err)
	}

	line := strings.TrimSpace(reply)
	switch {
	case strings.EqualFold(line, "CLARIFY"):
		out.ambiguous = true
		return out, nil
	case strings.HasPrefix(strings.ToUpper(line), "SKILL "):
		name := strings.TrimSpace(line[len("SKILL "):])
		if _, ok := e.registry.Get(name); !ok {
			return intent{}, fmt.Errorf("%w: routed to unknown skill %q", errNoIntent, name)
		}
		out.invocations = append(out.invocations, invocationFor(name, map[string]any{
			"text":  text,
			"title": text,
		}))
		return out, nil
	default:
		out.reply = line
		return out, nil
	}
}

// generate calls the backend with one bounded retry on transient faults.
func (e *Engine) generate(ctx context.Context, prompt string, contextLines []string) (string, error) {
	reply, err := e.gen.Generate(ctx, prompt, contextLines)
	if err != nil && fault.Retryable(err) && ctx.Err() == nil {
		reply, err = e.gen.Generate(ctx, prompt, contextLines)
	}
	return reply, err
}

func invocationFor(name string, args map[string]any) skill.Invocation {
	return skill.Invocation{Skill: name, Args: args}
}

// extractEntities pulls capitalized tokens as a lightweight entity signal.
func extractEntities(text string) []string {
	var entities []string
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, ",.!?;:")
		if tok == "" {
			continue
		}
		if r := rune(tok[0]); r >= 'A' && r <= 'Z' {
			entities = append(entities, tok)
		}
	}
	return entities
}

// looksLikeGoal treats punctuated or sufficiently long sentences as goals.
func looksLikeGoal(text string) bool {
	return strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") ||
		strings.HasSuffix(text, "?") || len(strings.Fields(text)) > 3
}

// extractWhen grabs a trailing time expression when one is present.
func extractWhen(lower string) string {
	for _, marker := range []string{"tomorrow", "today", "tonight", "next week", "monday", "tuesday", "wednesday", "thursday", "friday"} {
		if idx := strings.Index(lower, marker); idx >= 0 {
			return strings.TrimSpace(lower[idx:])
		}
	}
	return ""
}

func contextLines(memCtx memory.Context) []string {
	lines := make([]string, 0, len(memCtx.Facts)+len(memCtx.WorkingMemory))
	for _, f := range memCtx.Facts {
		lines = append(lines, fmt.Sprintf("%s %s %s", f.Subject, f.Predicate, f.Object))
	}
	for k, v := range memCtx.WorkingMemory {
		lines = append(lines, fmt.Sprintf("%s: %s", k, v))
	}
	return lines
}
