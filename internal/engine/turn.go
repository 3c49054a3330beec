// Package engine drives one user turn through the workflow graph:
// Interpret → Route → Execute → Reflect → Respond, with bounded loops and
// per-invocation failure containment.
package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/conductor-ai/conductor/pkg/skill"
)

// Turn is one user interaction. Immutable once created; owned by the
// engine for the duration of processing.
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Input     string    `json:"input"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn, filling in missing identifiers.
func NewTurn(userID, sessionID, input string) Turn {
	if userID == "" {
		userID = uuid.New().String()
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	return Turn{
		ID:        uuid.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		Input:     input,
		Timestamp: time.Now().UTC(),
	}
}

// Confidence annotates how much the engine trusts its own response.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// Response is the single terminal output of a turn.
type Response struct {
	Text          string         `json:"text"`
	ActionResults []skill.Result `json:"action_results"`
	Confidence    Confidence     `json:"confidence"`
}

// intent is the interpreted meaning of a turn.
type intent struct {
	// invocations to execute, in routing order.
	invocations []skill.Invocation
	// reply short-circuits execution for conversational turns.
	reply string
	// ambiguous asks Route to loop back to Interpret once.
	ambiguous bool
	// goals captured for working memory.
	goals []string
	// entities extracted during perception.
	entities []string
}
