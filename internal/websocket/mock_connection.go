package websocket

import (
	"errors"
	"sync"
	"time"
)

// MockConnection is an in-memory Connection for tests. Reads block until a
// frame is pushed with AddReadMessage or the connection is closed.
type MockConnection struct {
	mu sync.Mutex

	// WriteMessageFunc overrides the default recording behavior
	WriteMessageFunc func(messageType int, data []byte) error
	WrittenMessages  []MockMessage

	incoming  chan MockMessage
	closed    chan struct{}
	closeOnce sync.Once

	ReadDeadline  time.Time
	WriteDeadline time.Time
	PongHandler   func(string) error
	ReadLimit     int64
}

// MockMessage represents a message for mocking
type MockMessage struct {
	Type int
	Data []byte
	Err  error
}

// NewMockConnection creates a new mock connection
func NewMockConnection() *MockConnection {
	return &MockConnection{
		incoming: make(chan MockMessage, 64),
		closed:   make(chan struct{}),
	}
}

// WriteMessage implements Connection.WriteMessage
func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsClosed() {
		return errors.New("connection closed")
	}
	if m.WriteMessageFunc != nil {
		return m.WriteMessageFunc(messageType, data)
	}
	m.WrittenMessages = append(m.WrittenMessages, MockMessage{Type: messageType, Data: data})
	return nil
}

// ReadMessage implements Connection.ReadMessage
func (m *MockConnection) ReadMessage() (messageType int, p []byte, err error) {
	select {
	case msg := <-m.incoming:
		return msg.Type, msg.Data, msg.Err
	case <-m.closed:
		return 0, nil, errors.New("connection closed")
	}
}

// Close implements Connection.Close
func (m *MockConnection) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// IsClosed reports whether Close was called.
func (m *MockConnection) IsClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// SetReadDeadline implements Connection.SetReadDeadline
func (m *MockConnection) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadDeadline = t
	return nil
}

// SetWriteDeadline implements Connection.SetWriteDeadline
func (m *MockConnection) SetWriteDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteDeadline = t
	return nil
}

// SetReadLimit implements Connection.SetReadLimit
func (m *MockConnection) SetReadLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadLimit = limit
}

// SetPongHandler implements Connection.SetPongHandler
func (m *MockConnection) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PongHandler = h
}

// AddReadMessage queues a frame for ReadMessage
func (m *MockConnection) AddReadMessage(messageType int, data []byte, err error) {
	m.incoming <- MockMessage{Type: messageType, Data: data, Err: err}
}

// GetWrittenMessages returns all messages written to the connection
func (m *MockConnection) GetWrittenMessages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]MockMessage, len(m.WrittenMessages))
	copy(result, m.WrittenMessages)
	return result
}
