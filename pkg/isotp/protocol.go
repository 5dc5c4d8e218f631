package isotp

import (
	"fmt"
	"time"
)

// frameKind identifies an ISO-TP protocol data unit, decoded from the top
// nibble of a CAN frame's first data byte. Names and values follow
// LoveWonYoung-isotp/tp/protocol.go's PDU type constants.
type frameKind int

const (
	singleFrame frameKind = iota
	firstFrame
	consecutiveFrame
	flowControlFrame
)

// flow control status values, ISO 15765-2 table 10.
const (
	fcContinue  = 0
	fcWait      = 1
	fcOverflow  = 2
	maxSegments = 0x10000 // guards against a runaway first-frame length
)

func kindOf(b byte) (frameKind, error) {
	k := frameKind(b >> 4)
	if k > flowControlFrame {
		return 0, fmt.Errorf("isotp: unknown frame type %#x", b>>4)
	}
	return k, nil
}

// packSingleFrame builds a CAN payload carrying the whole message, used
// when len(data) <= 7.
func packSingleFrame(data []byte, padding byte) []byte {
	out := make([]byte, 8)
	for i := range out {
		out[i] = padding
	}
	out[0] = byte(len(data)) & 0x0F
	copy(out[1:], data)
	return out[:8]
}

func unpackSingleFrame(payload []byte) ([]byte, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("isotp: empty single frame")
	}
	n := int(payload[0] & 0x0F)
	if n == 0 || n > len(payload)-1 {
		return nil, fmt.Errorf("isotp: single frame length %d exceeds payload", n)
	}
	return append([]byte(nil), payload[1:1+n]...), nil
}

// packFirstFrame builds the first of a multi-frame message and returns
// the bytes it consumed from data.
func packFirstFrame(data []byte, padding byte) (frame []byte, consumed int) {
	total := len(data)
	out := make([]byte, 8)
	for i := range out {
		out[i] = padding
	}
	out[0] = byte(firstFrame)<<4 | byte(total>>8&0x0F)
	out[1] = byte(total & 0xFF)
	n := copy(out[2:], data)
	return out, n
}

func unpackFirstFrame(payload []byte) (totalLen int, data []byte, err error) {
	if len(payload) < 2 {
		return 0, nil, fmt.Errorf("isotp: first frame shorter than 2 bytes")
	}
	total := int(payload[0]&0x0F)<<8 | int(payload[1])
	if total == 0 || total >= maxSegments {
		return 0, nil, fmt.Errorf("isotp: implausible first frame length %d", total)
	}
	end := len(payload)
	if end > 8 {
		end = 8
	}
	return total, append([]byte(nil), payload[2:end]...), nil
}

// packConsecutiveFrame builds one continuation frame tagged with seq
// (0-15, wrapping), returning the bytes consumed from data.
func packConsecutiveFrame(seq int, data []byte, padding byte) (frame []byte, consumed int) {
	out := make([]byte, 8)
	for i := range out {
		out[i] = padding
	}
	out[0] = byte(consecutiveFrame)<<4 | byte(seq&0x0F)
	n := copy(out[1:], data)
	return out, n
}

func unpackConsecutiveFrame(payload []byte) (seq int, data []byte, err error) {
	if len(payload) < 1 {
		return 0, nil, fmt.Errorf("isotp: empty consecutive frame")
	}
	return int(payload[0] & 0x0F), append([]byte(nil), payload[1:]...), nil
}

// packFlowControl builds a flow control frame per
// LoveWonYoung-isotp/tp/protocol.go's CraftFlowControlData.
func packFlowControl(status int, blockSize uint8, stMin uint8) []byte {
	return []byte{byte(0x30 | status&0x0F), blockSize, stMin}
}

type flowControl struct {
	status    int
	blockSize uint8
	stMin     uint8
}

func unpackFlowControl(payload []byte) (*flowControl, error) {
	if len(payload) < 3 {
		return nil, fmt.Errorf("isotp: flow control frame shorter than 3 bytes")
	}
	status := int(payload[0] & 0x0F)
	if status > fcOverflow {
		return nil, fmt.Errorf("isotp: unknown flow status %d", status)
	}
	return &flowControl{status: status, blockSize: payload[1], stMin: payload[2]}, nil
}

// stMinDuration converts an ISO 15765-2 STmin byte to a wait duration:
// 0x00-0x7F are whole milliseconds, 0xF1-0xF9 are 100-900 microseconds.
func stMinDuration(b byte) time.Duration {
	switch {
	case b <= 0x7F:
		return time.Duration(b) * time.Millisecond
	case b >= 0xF1 && b <= 0xF9:
		return time.Duration(b-0xF0) * 100 * time.Microsecond
	default:
		return 0
	}
}
