package generation

import (
	"context"
	"strings"
	"sync"
)

// MockGenerator is a deterministic in-process generator used in tests and
// for offline runs. Responses can be scripted per prompt substring.
type MockGenerator struct {
	mu       sync.Mutex
	scripted []scriptedReply
	err      error
	calls    int
}

type scriptedReply struct {
	contains string
	reply    string
}

// NewMockGenerator creates a mock that echoes a canned acknowledgement.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Script registers a reply returned when the prompt contains the substring.
// Later registrations win over earlier ones.
func (m *MockGenerator) Script(contains, reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted = append([]scriptedReply{{contains, reply}}, m.scripted...)
}

// Fail makes every subsequent call return err.
func (m *MockGenerator) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Generate ran.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate returns the first matching scripted reply or a default line.
func (m *MockGenerator) Generate(ctx context.Context, prompt string, contextLines []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	for _, s := range m.scripted {
		if strings.Contains(prompt, s.contains) {
			return s.reply, nil
		}
	}
	return "Understood.", nil
}

// Close is a no-op.
func (m *MockGenerator) Close() error {
	return nil
}
