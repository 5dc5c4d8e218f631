package isotp

import (
	"context"
	"fmt"
	"time"

	"github.com/notnil/canbus"
)

// Logger is the subset of pkg/uds.Logger (itself the subset of
// pkg/doip.Logger this package needs) that Pipe logs through, so this
// package does not import either of its consumers.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
}

// Pipe implements pkg/uds.TransPipe over one or more ECUs reachable on a
// single CAN Bus, each addressed by the UDS logical address a
// doip.DiagnosticMessageBody names as TargetAddress. Segmentation and
// reassembly follow LoveWonYoung-isotp/tp/stack.go's Transport, reworked
// from its channel/event-loop shape into a synchronous call matching
// what TransPipe.Send/Receive expect (uds.go already runs UDS exchanges
// on their own goroutine through pkg/uds.Provider, so Pipe does not need
// its own internal concurrency).
type Pipe struct {
	log    Logger
	bus    Bus
	cfg    Config
	routes map[uint16]Address
}

// NewPipe builds a Pipe that segments over bus, routing UDS logical
// addresses to CAN arbitration ID pairs per routes.
func NewPipe(log Logger, bus Bus, routes map[uint16]Address, cfg Config) *Pipe {
	return &Pipe{log: log, bus: bus, cfg: cfg, routes: routes}
}

// routeByRxID finds the logical UDS address whose route answers on
// rxID, so Receive can identify a sender without depending on what Send
// last targeted - needed on the ECU side of a bus with more than one
// routed address, where a request can arrive with no prior Send.
func (p *Pipe) routeByRxID(rxID uint32) (Address, uint16, bool) {
	for logical, addr := range p.routes {
		if addr.RxID == rxID {
			return addr, logical, true
		}
	}
	return Address{}, 0, false
}

// Connect is a no-op: the Bus is expected to already be open (SocketCAN
// interfaces are brought up at the OS level, see SocketCANBus's doc
// comment), matching how uds.go only calls Connect/Disconnect around an
// already-dialed transport in the teacher's own usage.
func (p *Pipe) Connect() error { return nil }

// Disconnect closes the underlying Bus.
func (p *Pipe) Disconnect() {
	if err := p.bus.Close(); err != nil {
		p.log.Debugf("isotp: close bus: %v", err)
	}
}

// Send segments data into one or more CAN frames addressed to target's
// routed TxID and blocks until the last frame is on the wire (or a flow
// control wait/overflow aborts it).
func (p *Pipe) Send(target uint16, data []byte) error {
	addr, ok := p.routes[target]
	if !ok {
		return fmt.Errorf("isotp: no route for UDS address %#04x", target)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConsecutiveFrameTimeout)
	defer cancel()

	if len(data) <= 7 {
		return p.bus.Send(ctx, canbus.MustFrame(addr.TxID, packSingleFrame(data, p.cfg.PaddingByte)))
	}
	return p.sendMultiFrame(ctx, addr, data)
}

func (p *Pipe) sendMultiFrame(ctx context.Context, addr Address, data []byte) error {
	first, consumed := packFirstFrame(data, p.cfg.PaddingByte)
	if err := p.bus.Send(ctx, canbus.MustFrame(addr.TxID, first)); err != nil {
		return err
	}
	remaining := data[consumed:]

	fcCtx, cancel := context.WithTimeout(ctx, p.cfg.FlowControlTimeout)
	fc, err := p.awaitFlowControl(fcCtx, addr)
	cancel()
	if err != nil {
		return fmt.Errorf("isotp: awaiting flow control: %w", err)
	}
	if fc.status == fcOverflow {
		return fmt.Errorf("isotp: peer reported buffer overflow")
	}

	seq := 1
	blockSize := int(fc.blockSize)
	stMin := stMinDuration(fc.stMin)
	sinceBlock := 0
	for len(remaining) > 0 {
		if fc.status == fcWait {
			fc, err = p.awaitFlowControl(ctx, addr)
			if err != nil {
				return fmt.Errorf("isotp: awaiting flow control: %w", err)
			}
			continue
		}
		frame, n := packConsecutiveFrame(seq, remaining, p.cfg.PaddingByte)
		if err := p.bus.Send(ctx, canbus.MustFrame(addr.TxID, frame)); err != nil {
			return err
		}
		remaining = remaining[n:]
		seq = (seq + 1) & 0x0F
		sinceBlock++

		if len(remaining) == 0 {
			break
		}
		if blockSize > 0 && sinceBlock >= blockSize {
			sinceBlock = 0
			fc, err = p.awaitFlowControl(ctx, addr)
			if err != nil {
				return fmt.Errorf("isotp: awaiting flow control: %w", err)
			}
			blockSize = int(fc.blockSize)
			stMin = stMinDuration(fc.stMin)
			continue
		}
		if stMin > 0 {
			time.Sleep(stMin)
		}
	}
	return nil
}

func (p *Pipe) awaitFlowControl(ctx context.Context, addr Address) (*flowControl, error) {
	for {
		f, err := p.bus.Receive(ctx)
		if err != nil {
			return nil, err
		}
		if f.ID != addr.RxID {
			continue
		}
		kind, err := kindOf(f.Data[0])
		if err != nil || kind != flowControlFrame {
			continue
		}
		return unpackFlowControl(f.Data[:f.Len])
	}
}

// Receive reassembles the next complete ISO-TP message addressed to the
// route whose RxID the frame carries, sending flow control frames of its
// own as consecutive frames arrive. The routed address identifies the
// sender: addressing here is fixed per ECU, so TransPipe's source and
// target are both that logical address.
func (p *Pipe) Receive() (source uint16, target uint16, data []byte, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConsecutiveFrameTimeout)
	defer cancel()

	for {
		f, rerr := p.bus.Receive(ctx)
		if rerr != nil {
			return 0, 0, nil, rerr
		}
		addr, logical, ok := p.routeByRxID(f.ID)
		if !ok {
			continue
		}
		kind, kerr := kindOf(f.Data[0])
		if kerr != nil {
			continue
		}
		switch kind {
		case singleFrame:
			payload, perr := unpackSingleFrame(f.Data[:f.Len])
			if perr != nil {
				return 0, 0, nil, perr
			}
			return logical, logical, payload, nil
		case firstFrame:
			payload, cerr := p.receiveConsecutive(ctx, addr, f.Data[:f.Len])
			if cerr != nil {
				return 0, 0, nil, cerr
			}
			return logical, logical, payload, nil
		default:
			continue
		}
	}
}

func (p *Pipe) receiveConsecutive(ctx context.Context, addr Address, firstPayload []byte) ([]byte, error) {
	total, buf, err := unpackFirstFrame(firstPayload)
	if err != nil {
		return nil, err
	}
	fcFrame := canbus.MustFrame(addr.TxID, packFlowControl(fcContinue, p.cfg.BlockSize, p.cfg.STMin))
	if err := p.bus.Send(ctx, fcFrame); err != nil {
		return nil, fmt.Errorf("isotp: sending flow control: %w", err)
	}

	expectSeq := 1
	for len(buf) < total {
		f, err := p.bus.Receive(ctx)
		if err != nil {
			return nil, fmt.Errorf("isotp: waiting for consecutive frame: %w", err)
		}
		if f.ID != addr.RxID {
			continue
		}
		kind, err := kindOf(f.Data[0])
		if err != nil || kind != consecutiveFrame {
			continue
		}
		seq, chunk, err := unpackConsecutiveFrame(f.Data[:f.Len])
		if err != nil {
			return nil, err
		}
		if seq != expectSeq {
			return nil, fmt.Errorf("isotp: expected sequence %d, got %d", expectSeq, seq)
		}
		need := total - len(buf)
		if len(chunk) > need {
			chunk = chunk[:need]
		}
		buf = append(buf, chunk...)
		expectSeq = (expectSeq + 1) & 0x0F
	}
	return buf, nil
}
