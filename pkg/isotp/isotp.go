// Package isotp implements ISO 15765-2 (ISO-TP) segmentation over a CAN
// bus and exposes the result as a pkg/uds.TransPipe, so a doip.ServerModel
// can route diagnostic requests onward to an ECU that only speaks CAN
// instead of DoIP. The addressing and frame layout are adapted from
// LoveWonYoung-isotp/tp (address.go, protocol.go): normal 11/29-bit
// addressing only, since that is what a DoIP-to-CAN gateway's fixed
// routing table needs; extended and mixed addressing, and the upstream
// package's rate limiter, are left out as unused generality.
package isotp

import "time"

// Address pairs the CAN arbitration IDs a single ECU is reached on: one
// for requests the gateway transmits, one for responses it receives.
// Mirrors LoveWonYoung-isotp's Address for the Normal11bits/Normal29bits
// case, the only addressing mode original_source/inc/can/CanIsoTpProvider.h
// configures (tx_address/rx_address bound straight to a socket).
type Address struct {
	TxID uint32
	RxID uint32
}

// Config carries the ISO-TP flow-control parameters this gateway offers
// to its sender: the block size and separation time it reports back to a
// first-frame sender, and the padding byte classical (8-byte) CAN frames
// are filled with. Field names and defaults follow
// LoveWonYoung-isotp/tp/config.go.
type Config struct {
	BlockSize   uint8
	STMin       uint8
	PaddingByte byte

	// FlowControlTimeout bounds how long Send waits for the flow control
	// frame after a first frame. ConsecutiveFrameTimeout bounds each whole
	// Pipe.Send and Pipe.Receive call, so it also caps Receive's wait for
	// the first frame of a message.
	FlowControlTimeout      time.Duration
	ConsecutiveFrameTimeout time.Duration
}

// DefaultConfig matches python-can-isotp/LoveWonYoung-isotp's stated
// defaults: no throttling requested of the peer, 1ms separation time,
// zero padding.
func DefaultConfig() Config {
	return Config{
		BlockSize:               0,
		STMin:                   1,
		PaddingByte:             0x00,
		FlowControlTimeout:      1 * time.Second,
		ConsecutiveFrameTimeout: 1 * time.Second,
	}
}
