// Package memory is the single point of truth for session state and
// long-term user memory. All mutation flows through the Manager, which
// serializes writes per session and per user.
package memory

import (
	"time"
)

// Fact is one long-term memory triple. Facts about the same subject and
// predicate conflict; the newer UpdatedAt wins.
type Fact struct {
	Subject   string    `json:"subject"`
	Predicate string    `json:"predicate"`
	Object    string    `json:"object"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key identifies the fact for last-write-wins merging.
func (f Fact) Key() string {
	return f.Subject + "\x1f" + f.Predicate
}

// LongTermRecord holds all persistent facts for one user.
type LongTermRecord struct {
	UserID      string          `json:"userId"`
	Facts       map[string]Fact `json:"facts"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// Exchange is one completed turn and its response, appended to session
// history in arrival order.
type Exchange struct {
	TurnID    string    `json:"turnId"`
	Input     string    `json:"input"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionState is the mutable per-session record. Exactly one live state
// exists per session ID; the Manager enforces this.
type SessionState struct {
	SessionID     string            `json:"sessionId"`
	UserID        string            `json:"userId"`
	History       []Exchange        `json:"history"`
	WorkingMemory map[string]string `json:"workingMemory"`
	// Durable is false once a persistence write has been degraded to
	// in-process-only memory; readers then know long-term facts may be
	// stale.
	Durable    bool      `json:"durable"`
	LastActive time.Time `json:"lastActive"`
}

// Context is the bounded slice of memory handed to downstream consumers.
type Context struct {
	WorkingMemory map[string]string
	History       []Exchange
	Facts         []Fact
	Durable       bool
}
