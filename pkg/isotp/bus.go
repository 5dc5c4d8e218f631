package isotp

import (
	"context"
	"fmt"
	"sync"

	"github.com/notnil/canbus"
)

// Bus is the raw CAN link a Pipe segments ISO-TP messages over: one
// arbitration ID and up to 8 data bytes per frame, nothing more.
// Separating it from Pipe keeps the segmentation logic testable without
// a real CAN interface (see MemoryBus) and lets a composition root swap
// in SocketCANBus for a real vehicle network.
type Bus interface {
	Send(ctx context.Context, f canbus.Frame) error
	Receive(ctx context.Context) (canbus.Frame, error)
	Close() error
}

// MemoryBus is an in-process Bus used by tests and, doubling as a
// loopback, by callers with no physical CAN interface attached. Frames
// sent are delivered to Receive in FIFO order, same as a real bus would
// deliver frames from one sender to one listener.
type MemoryBus struct {
	mu     sync.Mutex
	ch     chan canbus.Frame
	closed bool
}

// NewMemoryBus builds a MemoryBus with the given frame buffer depth.
func NewMemoryBus(depth int) *MemoryBus {
	return &MemoryBus{ch: make(chan canbus.Frame, depth)}
}

func (b *MemoryBus) Send(ctx context.Context, f canbus.Frame) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("isotp: bus closed")
	}
	select {
	case b.ch <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBus) Receive(ctx context.Context) (canbus.Frame, error) {
	select {
	case f, ok := <-b.ch:
		if !ok {
			return canbus.Frame{}, fmt.Errorf("isotp: bus closed")
		}
		return f, nil
	case <-ctx.Done():
		return canbus.Frame{}, ctx.Err()
	}
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	return nil
}

// LoopbackPair returns two in-memory buses wired so frames sent on one are
// received on the other, letting a test exercise a Pipe against a peer
// that plays the ECU (answers requests, originates nothing).
func LoopbackPair(depth int) (gateway, ecu *pairedBus) {
	aTob := make(chan canbus.Frame, depth)
	bToa := make(chan canbus.Frame, depth)
	return &pairedBus{send: aTob, recv: bToa}, &pairedBus{send: bToa, recv: aTob}
}

type pairedBus struct {
	mu     sync.Mutex
	send   chan canbus.Frame
	recv   chan canbus.Frame
	closed bool
}

func (b *pairedBus) Send(ctx context.Context, f canbus.Frame) error {
	select {
	case b.send <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *pairedBus) Receive(ctx context.Context) (canbus.Frame, error) {
	select {
	case f, ok := <-b.recv:
		if !ok {
			return canbus.Frame{}, fmt.Errorf("isotp: bus closed")
		}
		return f, nil
	case <-ctx.Done():
		return canbus.Frame{}, ctx.Err()
	}
}

func (b *pairedBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.send)
	}
	return nil
}
