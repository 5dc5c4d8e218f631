package doip

// ResponseSink is handed to onDownstreamRequest so the downstream
// provider can deliver its answer asynchronously, on its own
// goroutine, without re-entering the Connection's state machine
// directly (the "callback hell" the original's synchronous
// receiveDownstreamResponse invited). The Connection itself reads the
// delivered value off its own event channel.
type ResponseSink interface {
	// Respond delivers ack (nil Code for positive) and userData for the
	// pending diagnostic request. Safe to call from any goroutine,
	// at most once; later calls are ignored.
	Respond(ack DiagnosticAck, userData []byte)
}

// ServerModel is the configuration + callback bundle the Server hands
// each Connection, the collaborator interface from
// original_source's DoIPServerModel / DoIPDownstreamServerModel
// (referenced by examples/socket-can/CanIsoTpServerModel.h) and
// generalizing the teacher's MsgHandler function-pointer struct
// (doip/server.go) to the richer hook set spec'd here.
type ServerModel struct {
	// Config carries the entity's static identity.
	Config EntityConfig

	// OnOpenConnection is invoked once, immediately after a Connection
	// is constructed for an accepted ConnectionTransport.
	OnOpenConnection func(conn *Connection)

	// OnDiagnosticMessage is invoked for every validated
	// DiagnosticMessage and returns an optional negative-ack code; a
	// DiagnosticAck with a nil Code is a positive acknowledgement.
	OnDiagnosticMessage func(conn *Connection, msg *DiagnosticMessageBody) DiagnosticAck

	// OnDiagnosticNotification fires after the ack has been written to
	// the wire, informing the model the message was accepted/rejected.
	OnDiagnosticNotification func(conn *Connection, msg *DiagnosticMessageBody, ack DiagnosticAck)

	// OnDownstreamRequest is invoked after a positive ack to forward
	// msg to a downstream provider. Implementations that cannot answer
	// synchronously must retain sink and call it later, returning
	// DownstreamPending.
	OnDownstreamRequest func(conn *Connection, msg *DiagnosticMessageBody, sink ResponseSink) DownstreamResult

	// OnCloseConnection fires exactly once, after the Connection
	// reaches StateClosed.
	OnCloseConnection func(conn *Connection, reason CloseReason)
}

// EntityConfig carries the DoIP entity identity advertised in routing
// activation responses and UDP vehicle announcements.
type EntityConfig struct {
	VIN            string
	LogicalAddress uint16
	EID            [6]byte
	GID            [6]byte
	FurtherAction  byte
}

// ServerModelFactory builds a fresh ServerModel per accepted
// connection, so per-connection state (e.g. per-client queues) never
// needs shared mutation across connections, per spec.md §4.6.
type ServerModelFactory func() *ServerModel
