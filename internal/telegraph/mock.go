package telegraph

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/perito/internal/dialogue"
)

// Sent is one prompt recorded by MockDispatcher.
type Sent struct {
	To     string
	Prompt dialogue.Prompt
}

// MockDispatcher implements Dispatcher for testing. It records every
// delivered prompt and can be told to fail.
type MockDispatcher struct {
	mu      sync.Mutex
	sent    []Sent
	failFor map[string]error
	failAll error
	calls   int
}

// NewMockDispatcher creates an empty MockDispatcher.
func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{failFor: make(map[string]error)}
}

// Dispatch records the prompt, or returns the configured failure.
func (m *MockDispatcher) Dispatch(ctx context.Context, to string, p dialogue.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failAll != nil {
		return m.failAll
	}
	if err, ok := m.failFor[to]; ok {
		return err
	}
	m.sent = append(m.sent, Sent{To: to, Prompt: p})
	return nil
}

// --- Test helpers ---

// FailAll makes every Dispatch return err. A nil err clears it.
func (m *MockDispatcher) FailAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
}

// FailFor makes Dispatch to one identity return err. A nil err clears it.
func (m *MockDispatcher) FailFor(to string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failFor, to)
		return
	}
	m.failFor[to] = err
}

// LastSent returns the most recently delivered prompt.
func (m *MockDispatcher) LastSent() (Sent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Sent{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of delivered prompts.
func (m *MockDispatcher) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// Calls returns the number of Dispatch calls, failed ones included.
func (m *MockDispatcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// AllSent returns a copy of all delivered prompts.
func (m *MockDispatcher) AllSent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sent, len(m.sent))
	copy(out, m.sent)
	return out
}

// MockNotifier implements Notifier for testing.
type MockNotifier struct {
	mu     sync.Mutex
	name   string
	alerts []Alert
	err    error
}

// NewMockNotifier creates a MockNotifier reporting name.
func NewMockNotifier(name string) *MockNotifier {
	return &MockNotifier{name: name}
}

// Name implements Notifier.
func (m *MockNotifier) Name() string { return m.name }

// Notify records the alert, or returns the configured failure.
func (m *MockNotifier) Notify(_ context.Context, alert Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return fmt.Errorf("%s: %w", m.name, m.err)
	}
	m.alerts = append(m.alerts, alert)
	return nil
}

// SetError makes Notify fail with err.
func (m *MockNotifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Alerts returns a copy of the recorded alerts.
func (m *MockNotifier) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
