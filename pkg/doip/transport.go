package doip

import (
	"context"
	"errors"
)

// ErrTransportClosed is returned by transport operations once Close
// has been called.
var ErrTransportClosed = errors.New("doip: transport closed")

// ConnectionTransport is the byte-level capability a Connection needs
// from its peer socket, collapsing the teacher's
// defaultReader/defaultWriter/response trio (three overlapping
// responsibilities, doip/server.go) into the single capability from
// original_source/inc/tp/IConnectionTransport.h.
type ConnectionTransport interface {
	// Send writes a fully framed DoIPMessage.
	Send(ctx context.Context, msg *DoIPMessage) error
	// Receive blocks for the next fully framed DoIPMessage, or returns
	// an error (including ErrTransportClosed) when none will arrive.
	Receive(ctx context.Context) (*DoIPMessage, error)
	// Close releases the underlying socket. Idempotent.
	Close(reason CloseReason) error
	IsActive() bool
	Identifier() string
}

// ServerTransport is the listener-level capability the Server needs:
// accept new connections and broadcast UDP vehicle announcements,
// ported from original_source/inc/IServerTransport.h.
type ServerTransport interface {
	Setup(port uint16) error
	// Accept blocks until a new ConnectionTransport is available, the
	// transport is closed (ErrTransportClosed), or ctx is done.
	Accept(ctx context.Context) (ConnectionTransport, error)
	// SendBroadcast sends msg as a UDP broadcast/loopback datagram. A
	// zero port uses the transport's configured default.
	SendBroadcast(msg *DoIPMessage, port uint16) error
	Close() error
	IsActive() bool
	Identifier() string
}
