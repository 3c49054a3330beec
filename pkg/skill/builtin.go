package skill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conductor-ai/conductor/pkg/fault"
)

// SchedulingSkill creates calendar events from interpreted arguments.
// The actual booking side effect belongs to the skill, not the dispatcher.
type SchedulingSkill struct{}

func (SchedulingSkill) Name() string        { return "calendar.create_event" }
func (SchedulingSkill) Class() string       { return "scheduling" }
func (SchedulingSkill) Description() string { return "Creates a calendar event with a title and time" }

func (SchedulingSkill) Execute(ctx context.Context, args map[string]any, sc Context) (map[string]any, error) {
	title, _ := args["title"].(string)
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title is required", fault.ErrInvalidArguments)
	}
	when, _ := args["when"].(string)

	return map[string]any{
		"event_id": uuid.New().String(),
		"title":    title,
		"when":     when,
		"created":  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// NoteSkill records a free-text note. The payload carries the note back so
// the engine can surface it as a long-term fact.
type NoteSkill struct{}

func (NoteSkill) Name() string        { return "notes.append" }
func (NoteSkill) Class() string       { return "notes" }
func (NoteSkill) Description() string { return "Appends a free-text note for the user" }

func (NoteSkill) Execute(ctx context.Context, args map[string]any, sc Context) (map[string]any, error) {
	text, _ := args["text"].(string)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is required", fault.ErrInvalidArguments)
	}

	return map[string]any{
		"note_id": uuid.New().String(),
		"text":    text,
		"fact": map[string]string{
			"subject":   sc.UserID,
			"predicate": "noted",
			"object":    text,
		},
	}, nil
}
