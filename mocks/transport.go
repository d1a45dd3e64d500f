// Package mocks provides testify mocks for the gateway's interfaces.
package mocks

import (
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockTransport mocks session.Transport. Besides expectation matching
// it records every written frame so tests can assert on forwarded
// traffic in order.
type MockTransport struct {
	mock.Mock

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (m *MockTransport) WriteText(data []byte) error {
	m.mu.Lock()
	copied := make([]byte, len(data))
	copy(copied, data)
	m.writes = append(m.writes, copied)
	m.mu.Unlock()

	args := m.Called(data)
	return args.Error(0)
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	args := m.Called()
	return args.Error(0)
}

// Closed reports whether Close has been called. Safe to poll from
// another goroutine.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

// Writes returns a snapshot of everything written so far.
func (m *MockTransport) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}
