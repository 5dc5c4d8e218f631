package doip

import (
	"context"
	"sync"
	"sync/atomic"
)

// MockConnectionTransport is an in-process ConnectionTransport for
// tests, ported from original_source/inc/tp/MockConnectionTransport.h
// and inc/ThreadSafeQueue.h: two queues, one for messages the
// Connection under test sends (inspectable via PopSent), one for
// messages injected as if received from the peer (via Inject).
type MockConnectionTransport struct {
	log    Logger
	id     string
	active int32

	mu   sync.Mutex
	sent []*DoIPMessage
	recv chan *DoIPMessage
}

// NewMockConnectionTransport builds a mock transport identified by id
// (used in test assertions and log lines).
func NewMockConnectionTransport(id string, log Logger) *MockConnectionTransport {
	if log == nil {
		log = NewLogger()
	}
	return &MockConnectionTransport{
		log:    log,
		id:     id,
		active: 1,
		recv:   make(chan *DoIPMessage, 64),
	}
}

func (m *MockConnectionTransport) Send(ctx context.Context, msg *DoIPMessage) error {
	if !m.IsActive() {
		return ErrTransportClosed
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

func (m *MockConnectionTransport) Receive(ctx context.Context) (*DoIPMessage, error) {
	if !m.IsActive() {
		return nil, ErrTransportClosed
	}
	select {
	case msg, ok := <-m.recv:
		if !ok {
			return nil, ErrTransportClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *MockConnectionTransport) Close(reason CloseReason) error {
	if !atomic.CompareAndSwapInt32(&m.active, 1, 0) {
		return nil
	}
	m.log.Debugf("mock transport %s closed: %v", m.id, reason)
	close(m.recv)
	return nil
}

func (m *MockConnectionTransport) IsActive() bool { return atomic.LoadInt32(&m.active) == 1 }
func (m *MockConnectionTransport) Identifier() string { return m.id }

// Inject pushes msg onto the receive queue, as if it arrived from the
// peer. Blocks if the queue is full, which a test should never hit.
func (m *MockConnectionTransport) Inject(msg *DoIPMessage) {
	m.recv <- msg
}

// PopSent removes and returns the oldest message the connection under
// test sent, or nil if none are queued.
func (m *MockConnectionTransport) PopSent() *DoIPMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	msg := m.sent[0]
	m.sent = m.sent[1:]
	return msg
}

// SentCount reports how many unpopped messages are queued.
func (m *MockConnectionTransport) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// MockServerTransport is a ServerTransport that hands out
// MockConnectionTransports pushed onto it by a test via Offer, and
// records broadcasts for assertions.
type MockServerTransport struct {
	log    Logger
	active int32

	mu         sync.Mutex
	pending    chan ConnectionTransport
	errs       chan error
	broadcasts []*DoIPMessage
}

func NewMockServerTransport(log Logger) *MockServerTransport {
	if log == nil {
		log = NewLogger()
	}
	return &MockServerTransport{log: log, active: 1, pending: make(chan ConnectionTransport, 16), errs: make(chan error, 1)}
}

func (s *MockServerTransport) Setup(port uint16) error { return nil }

func (s *MockServerTransport) Accept(ctx context.Context) (ConnectionTransport, error) {
	select {
	case c, ok := <-s.pending:
		if !ok {
			return nil, ErrTransportClosed
		}
		return c, nil
	case err := <-s.errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Offer makes a new mock connection available to the next Accept call.
func (s *MockServerTransport) Offer(c ConnectionTransport) { s.pending <- c }

// OfferError makes the next Accept call fail with err, simulating an
// unrecoverable listener error (distinct from ErrTransportClosed).
func (s *MockServerTransport) OfferError(err error) { s.errs <- err }

func (s *MockServerTransport) SendBroadcast(msg *DoIPMessage, port uint16) error {
	s.mu.Lock()
	s.broadcasts = append(s.broadcasts, msg)
	s.mu.Unlock()
	return nil
}

// Broadcasts returns every message SendBroadcast has recorded.
func (s *MockServerTransport) Broadcasts() []*DoIPMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*DoIPMessage(nil), s.broadcasts...)
}

func (s *MockServerTransport) Close() error {
	if atomic.CompareAndSwapInt32(&s.active, 1, 0) {
		close(s.pending)
	}
	return nil
}

func (s *MockServerTransport) IsActive() bool    { return atomic.LoadInt32(&s.active) == 1 }
func (s *MockServerTransport) Identifier() string { return "TCP-Server:mock" }
