// Package mock provides mock implementations of the mq package interfaces for testing.
package mock

import (
	"context"
	"sync"

	"airguard.dev/gateway/pkg/mq"
)

// MockClient is a mock implementation of mq.Bus for testing.
// It tracks method calls and allows configuring return values and behavior.
// Messages written to Inbound are handed to the active Subscribe handler.
type MockClient struct {
	mu sync.Mutex

	// Inbound feeds Subscribe. Closing it ends the subscription.
	Inbound chan []byte

	// PublishFunc is called when Publish is invoked. If nil, returns PublishError.
	PublishFunc func(ctx context.Context, payload []byte) error
	// PublishError is returned by Publish if PublishFunc is nil.
	PublishError error
	// PublishCalls tracks all payloads passed to Publish.
	PublishCalls [][]byte

	// WaitReadyError is returned by WaitReady.
	WaitReadyError error

	// SubscribeError is returned by Subscribe before any message is read.
	SubscribeError error
	// SubscribeCalls tracks the number of times Subscribe was called.
	SubscribeCalls int
	// Acked counts messages whose handler returned nil.
	Acked int
	// Nacked counts messages whose handler returned an error.
	Nacked int

	// disconnected is reported by IsConnected; see SetConnected.
	disconnected bool

	// CloseError is returned by Close.
	CloseError error
	// CloseCalls tracks the number of times Close was called.
	CloseCalls int
}

// NewMockClient creates a new MockClient with default behavior (no errors).
func NewMockClient() *MockClient {
	return &MockClient{
		Inbound: make(chan []byte, 16),
	}
}

// Publish implements mq.Publisher.
func (m *MockClient) Publish(ctx context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishCalls = append(m.PublishCalls, payload)

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, payload)
	}
	return m.PublishError
}

// Subscribe implements mq.Subscriber.
func (m *MockClient) Subscribe(ctx context.Context, handler mq.Handler) error {
	m.mu.Lock()
	m.SubscribeCalls++
	err := m.SubscribeError
	m.mu.Unlock()

	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-m.Inbound:
			if !ok {
				return nil
			}
			herr := handler(ctx, payload)

			m.mu.Lock()
			if herr != nil {
				m.Nacked++
			} else {
				m.Acked++
			}
			m.mu.Unlock()
		}
	}
}

// WaitReady implements mq.Bus.
func (m *MockClient) WaitReady(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.WaitReadyError
}

// Close implements mq.Bus.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	return m.CloseError
}

// IsConnected implements mq.Bus. A new mock reports connected.
func (m *MockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.disconnected
}

// SetConnected changes what IsConnected reports.
func (m *MockClient) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = !connected
}

// Counts returns the acked and nacked message counts.
func (m *MockClient) Counts() (acked, nacked int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Acked, m.Nacked
}

// Published returns a copy of the payloads passed to Publish.
func (m *MockClient) Published() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.PublishCalls...)
}

// Reset clears all tracked calls.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishCalls = nil
	m.SubscribeCalls = 0
	m.Acked = 0
	m.Nacked = 0
	m.CloseCalls = 0
}

// Ensure MockClient implements mq.Bus.
var _ mq.Bus = (*MockClient)(nil)
