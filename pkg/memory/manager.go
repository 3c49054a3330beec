package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/conductor-ai/conductor/pkg/config"
	"github.com/conductor-ai/conductor/pkg/fault"
)

// Manager owns all reads and writes of session state and long-term memory.
// Writes are serialized per session and per user; different sessions never
// block each other.
type Manager struct {
	store       Store
	log         *zap.Logger
	factLimit   int
	sessionIdle time.Duration

	mu       sync.RWMutex
	sessions map[string]*SessionState

	locks locker
	cron  *cron.Cron
}

// locker hands out one mutex per key. Different keys proceed in parallel;
// the same key is exclusive.
type locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *locker) get(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

// NewManager creates a memory manager over the given store.
func NewManager(store Store, cfg config.MemoryConfig, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:       store,
		log:         log,
		factLimit:   cfg.FactLimit,
		sessionIdle: cfg.SessionIdle,
		sessions:    make(map[string]*SessionState),
	}
}

func sessionKey(sessionID string) string { return "session:" + sessionID }
func userKey(userID string) string       { return "ltm:" + userID }

// AcquireSession takes the per-session sequencing lock. The engine holds it
// for the duration of a turn so that history entries for one session are
// appended in strict arrival order. The returned function releases it.
func (m *Manager) AcquireSession(sessionID string) func() {
	lock := m.locks.get("turn:" + sessionID)
	lock.Lock()
	return lock.Unlock
}

// getSession returns the live state for a session, loading a persisted
// snapshot or creating a fresh state on first access.
func (m *Manager) getSession(ctx context.Context, sessionID, userID string) *SessionState {
	m.mu.RLock()
	state, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return state
	}

	state = &SessionState{
		SessionID:     sessionID,
		UserID:        userID,
		WorkingMemory: make(map[string]string),
		Durable:       true,
		LastActive:    time.Now().UTC(),
	}

	if raw, err := m.store.Get(ctx, sessionKey(sessionID)); err == nil {
		var snapshot SessionState
		if jerr := json.Unmarshal(raw, &snapshot); jerr == nil {
			state = &snapshot
			if state.WorkingMemory == nil {
				state.WorkingMemory = make(map[string]string)
			}
		}
	} else if !errors.Is(err, ErrKeyNotFound) {
		m.log.Warn("session snapshot unavailable, starting fresh",
			zap.String("session_id", sessionID), zap.Error(err))
		state.Durable = false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another goroutine may have won the race; keep the existing state so
	// exactly one live SessionState exists per session ID.
	if existing, ok := m.sessions[sessionID]; ok {
		return existing
	}
	m.sessions[sessionID] = state
	return state
}

// ReadContext returns working memory plus a bounded slice of long-term
// facts, most recently updated first.
func (m *Manager) ReadContext(ctx context.Context, sessionID, userID string) Context {
	lock := m.locks.get("session:" + sessionID)
	lock.Lock()
	state := m.getSession(ctx, sessionID, userID)
	state.LastActive = time.Now().UTC()

	out := Context{
		WorkingMemory: make(map[string]string, len(state.WorkingMemory)),
		History:       append([]Exchange(nil), state.History...),
		Durable:       state.Durable,
	}
	for k, v := range state.WorkingMemory {
		out.WorkingMemory[k] = v
	}
	lock.Unlock()

	record, err := m.loadRecord(ctx, userID)
	if err != nil {
		m.log.Warn("long-term memory read degraded",
			zap.String("user_id", userID), zap.Error(err))
		return out
	}

	facts := make([]Fact, 0, len(record.Facts))
	for _, f := range record.Facts {
		facts = append(facts, f)
	}
	sort.Slice(facts, func(i, j int) bool {
		if facts[i].UpdatedAt.Equal(facts[j].UpdatedAt) {
			return facts[i].Key() < facts[j].Key()
		}
		return facts[i].UpdatedAt.After(facts[j].UpdatedAt)
	})
	if len(facts) > m.factLimit {
		facts = facts[:m.factLimit]
	}
	out.Facts = facts
	return out
}

func (m *Manager) loadRecord(ctx context.Context, userID string) (*LongTermRecord, error) {
	raw, err := m.store.Get(ctx, userKey(userID))
	if errors.Is(err, ErrKeyNotFound) {
		return &LongTermRecord{UserID: userID, Facts: make(map[string]Fact)}, nil
	}
	if err != nil {
		return nil, err
	}

	var record LongTermRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("unmarshal long-term record: %w", err)
	}
	if record.Facts == nil {
		record.Facts = make(map[string]Fact)
	}
	return &record, nil
}

// AppendHistory appends one exchange to session history. It never fails
// the caller's turn: if persistence is unavailable the session degrades to
// in-process-only memory and is marked not durable. Returns whether the
// session is still durable.
func (m *Manager) AppendHistory(ctx context.Context, sessionID, userID string, ex Exchange) bool {
	lock := m.locks.get("session:" + sessionID)
	lock.Lock()
	defer lock.Unlock()

	state := m.getSession(ctx, sessionID, userID)
	state.History = append(state.History, ex)
	state.LastActive = time.Now().UTC()

	raw, err := json.Marshal(state)
	if err != nil {
		m.log.Error("marshal session state", zap.Error(err))
		return state.Durable
	}

	if err := m.store.Put(ctx, sessionKey(sessionID), raw); err != nil {
		state.Durable = false
		m.log.Warn("history persistence degraded to in-process memory",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return state.Durable
}

// SetWorking stores one key in a session's working memory.
func (m *Manager) SetWorking(ctx context.Context, sessionID, userID, key, value string) {
	lock := m.locks.get("session:" + sessionID)
	lock.Lock()
	defer lock.Unlock()

	state := m.getSession(ctx, sessionID, userID)
	state.WorkingMemory[key] = value
	state.LastActive = time.Now().UTC()
}

// MergeFacts merges facts into a user's long-term memory. The merge is
// idempotent and last-write-wins per fact key. One retry is attempted on
// transient failures; an unavailable backend degrades with a log line and
// never fails the turn.
func (m *Manager) MergeFacts(ctx context.Context, userID string, facts []Fact) error {
	if len(facts) == 0 {
		return nil
	}

	lock := m.locks.get("user:" + userID)
	lock.Lock()
	defer lock.Unlock()

	patch := &LongTermRecord{
		UserID: userID,
		Facts:  make(map[string]Fact, len(facts)),
	}
	for _, f := range facts {
		if f.UpdatedAt.IsZero() {
			f.UpdatedAt = time.Now().UTC()
		}
		patch.Facts[f.Key()] = f
		if f.UpdatedAt.After(patch.LastUpdated) {
			patch.LastUpdated = f.UpdatedAt
		}
	}

	err := m.store.Merge(ctx, userKey(userID), patch)
	if err != nil && fault.Retryable(err) {
		err = m.store.Merge(ctx, userKey(userID), patch)
	}
	if err != nil {
		m.log.Warn("fact merge degraded",
			zap.String("user_id", userID), zap.Int("facts", len(facts)), zap.Error(err))
		return fault.New(fault.ClassDegraded, err)
	}
	return nil
}

// HistoryLen reports the in-process history length for a session. Used by
// transports and tests; returns 0 for unknown sessions.
func (m *Manager) HistoryLen(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.sessions[sessionID]; ok {
		return len(state.History)
	}
	return 0
}

// Sessions reports how many session states are live in process.
func (m *Manager) Sessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictIdle drops in-process session state that has been idle longer than
// the configured timeout. Persisted snapshots remain in the store. Returns
// the number of sessions evicted.
func (m *Manager) EvictIdle(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, state := range m.sessions {
		if now.Sub(state.LastActive) > m.sessionIdle {
			delete(m.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		m.log.Info("evicted idle sessions", zap.Int("count", evicted))
	}
	return evicted
}

// StartEviction runs the idle-session sweep on the given cron schedule.
func (m *Manager) StartEviction(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		m.EvictIdle(time.Now().UTC())
	}); err != nil {
		return fmt.Errorf("eviction schedule: %w", err)
	}
	c.Start()
	m.cron = c
	return nil
}

// Close stops the eviction sweep and closes the store.
func (m *Manager) Close() error {
	if m.cron != nil {
		m.cron.Stop()
	}
	return m.store.Close()
}
