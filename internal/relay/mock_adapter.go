package relay

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockAdapter implements Adapter for testing. It records delivered payloads
// and updates, and allows simulating inbound events via SimulateEvent.
type MockAdapter struct {
	mu         sync.Mutex
	connected  bool
	closed     bool
	inbound    chan Event
	delivered  []Payload
	updates    []MockUpdate
	posts      []string
	deliverErr error
	refCounter int
}

// MockUpdate records an Update call.
type MockUpdate struct {
	Ref          MessageRef
	Text         string
	ClearActions bool
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{inbound: make(chan Event, 100)}
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Deliver records the payload and returns a synthetic message reference.
func (m *MockAdapter) Deliver(ctx context.Context, p Payload) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return MessageRef{}, fmt.Errorf("mock adapter: not connected")
	}
	if m.deliverErr != nil {
		return MessageRef{}, m.deliverErr
	}
	m.delivered = append(m.delivered, p)
	m.refCounter++
	return MessageRef{ChannelID: "mock-channel", Ref: fmt.Sprintf("msg-%d", m.refCounter)}, nil
}

// Update records the update call.
func (m *MockAdapter) Update(ctx context.Context, ref MessageRef, text string, clearActions bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.updates = append(m.updates, MockUpdate{Ref: ref, Text: text, ClearActions: clearActions})
	return nil
}

// Post records the plain text message.
func (m *MockAdapter) Post(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.posts = append(m.posts, text)
	return nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateEvent sends an event into the inbound channel as if it came from
// the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateEvent(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	m.inbound <- e
}

// FailDeliveries makes subsequent Deliver calls return err.
func (m *MockAdapter) FailDeliveries(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliverErr = err
}

// LastDelivered returns the most recently delivered payload.
// Returns zero value and false if nothing has been delivered.
func (m *MockAdapter) LastDelivered() (Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.delivered) == 0 {
		return Payload{}, false
	}
	return m.delivered[len(m.delivered)-1], true
}

// DeliveredCount returns the number of delivered payloads.
func (m *MockAdapter) DeliveredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delivered)
}

// Updates returns a copy of all recorded update calls.
func (m *MockAdapter) Updates() []MockUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockUpdate, len(m.updates))
	copy(out, m.updates)
	return out
}

// Posts returns a copy of all plain text posts.
func (m *MockAdapter) Posts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.posts))
	copy(out, m.posts)
	return out
}
