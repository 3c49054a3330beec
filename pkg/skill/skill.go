// Package skill holds the registry of named capabilities and the
// dispatcher that executes them with uniform result shape, deadline
// enforcement, and fault classification.
package skill

import (
	"context"

	"github.com/conductor-ai/conductor/pkg/memory"
)

// Status is the terminal state of one skill invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusPartial Status = "partial"
)

// Context carries the enriched execution context handed to a skill.
type Context struct {
	UserID    string
	SessionID string
	Memory    memory.Context
}

// Skill is a named, independently executable capability. Side effects are
// the skill's own responsibility; the dispatcher only guarantees result
// shape and timeout enforcement.
type Skill interface {
	// Name is the unique registry key.
	Name() string
	// Class groups skills for routing weights (e.g. "scheduling").
	Class() string
	// Description is surfaced by the discovery endpoint.
	Description() string
	// Execute runs the capability. Errors must map onto the fault
	// taxonomy; fault.ErrInvalidArguments aborts retrying.
	Execute(ctx context.Context, args map[string]any, sc Context) (map[string]any, error)
}

// Invocation is one attempt at running a named skill.
type Invocation struct {
	Skill   string         `json:"skill"`
	Args    map[string]any `json:"args"`
	Attempt int            `json:"attempt"`
}

// Result is the immutable outcome of an invocation.
type Result struct {
	Skill       string         `json:"skill"`
	Status      Status         `json:"status"`
	Payload     map[string]any `json:"payload,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// Metadata describes a registered skill for discovery.
type Metadata struct {
	Name        string `json:"name"`
	Class       string `json:"class"`
	Description string `json:"description"`
}
