// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// -- Notifier Mock --

// MockNotifier mocks notify.Notifier. Calls are recorded for assertions and
// never fail the caller, matching the fire-and-forget contract.
type MockNotifier struct {
	mock.Mock
	mu       sync.Mutex
	messages []string
}

// Notify records the message and delegates to the testify mock when expectations are set.
func (m *MockNotifier) Notify(ctx context.Context, address, message string) {
	m.mu.Lock()
	m.messages = append(m.messages, message)
	m.mu.Unlock()
	if len(m.ExpectedCalls) > 0 {
		m.Called(ctx, address, message)
	}
}

// Messages returns a copy of every message seen so far.
func (m *MockNotifier) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}
