package doip

import (
	"fmt"
	"io/ioutil"
	"log"
)

// Logger is the narrow logging interface threaded through every
// component in this package. internal/logging supplies a
// logrus-backed implementation wired in production; NewLogger below
// remains the pre-fork discard sink used before daemonization installs
// the real one.
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
}

// NewLogger creates the default discard-sink logger instance, used
// before a real Logger (internal/logging) is installed.
func NewLogger() Logger {
	return &logger{
		log0: log.New(ioutil.Discard, "INFO: ", log.Lshortfile),
	}
}

type logger struct {
	log0 *log.Logger
}

func (l *logger) Debug(v ...interface{})                 { l.log0.Println(v...) }
func (l *logger) Debugf(format string, v ...interface{}) { l.log0.Printf(format, v...) }
func (l *logger) Info(v ...interface{})                  { l.log0.Println(v...) }
func (l *logger) Infof(format string, v ...interface{})  { l.log0.Printf(format, v...) }
func (l *logger) Warn(v ...interface{})                  { l.log0.Println(v...) }
func (l *logger) Warnf(format string, v ...interface{})  { l.log0.Printf(format, v...) }
func (l *logger) Error(v ...interface{})                 { l.log0.Println(v...) }
func (l *logger) Errorf(format string, v ...interface{}) { l.log0.Printf(format, v...) }

// ConnectionState is the state of a Connection's DoIP state machine.
type ConnectionState int

// The states a Connection moves through from accept to close.
// WaitRoutingActivation is the constructed initial state: the
// original's SocketInitialized entry transitions here unconditionally
// on construction, so there is no observable SocketInitialized state.
const (
	StateWaitRoutingActivation ConnectionState = iota
	StateRoutingActivated
	StateWaitAliveCheckResponse
	StateWaitDownstreamResponse
	StateFinalize
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateWaitRoutingActivation:
		return "WaitRoutingActivation"
	case StateRoutingActivated:
		return "RoutingActivated"
	case StateWaitAliveCheckResponse:
		return "WaitAliveCheckResponse"
	case StateWaitDownstreamResponse:
		return "WaitDownstreamResponse"
	case StateFinalize:
		return "Finalize"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// TimerID identifies one of the timers a Connection may have armed.
type TimerID int

const (
	TimerInitialInactivity TimerID = iota
	TimerGeneralInactivity
	TimerAliveCheck
	TimerDownstreamResponse
	TimerUserDefined
)

func (t TimerID) String() string {
	switch t {
	case TimerInitialInactivity:
		return "InitialInactivity"
	case TimerGeneralInactivity:
		return "GeneralInactivity"
	case TimerAliveCheck:
		return "AliveCheck"
	case TimerDownstreamResponse:
		return "DownstreamResponse"
	case TimerUserDefined:
		return "UserDefined"
	default:
		return fmt.Sprintf("TimerID(%d)", int(t))
	}
}

// CloseReason records why a Connection was closed.
type CloseReason int

const (
	CloseApplicationRequest CloseReason = iota
	CloseSocketError
	CloseInvalidMessage
	CloseInitialInactivityTimeout
	CloseAliveCheckTimeout
	ClosePeerDisconnect
)

func (r CloseReason) String() string {
	switch r {
	case CloseApplicationRequest:
		return "ApplicationRequest"
	case CloseSocketError:
		return "SocketError"
	case CloseInvalidMessage:
		return "InvalidMessage"
	case CloseInitialInactivityTimeout:
		return "InitialInactivityTimeout"
	case CloseAliveCheckTimeout:
		return "AliveCheckTimeout"
	case ClosePeerDisconnect:
		return "PeerDisconnect"
	default:
		return fmt.Sprintf("CloseReason(%d)", int(r))
	}
}

// DownstreamResult is returned by a ServerModel's OnDownstreamRequest
// callback to tell the Connection how to proceed.
type DownstreamResult int

const (
	// DownstreamPending means the provider will invoke the response
	// sink asynchronously; the Connection waits in
	// StateWaitDownstreamResponse until it does, or until the
	// DownstreamResponse timer fires.
	DownstreamPending DownstreamResult = iota
	// DownstreamHandled means a synchronous response was already
	// produced; no waiting is necessary.
	DownstreamHandled
	// DownstreamError means the provider refused the request.
	DownstreamError
	// DownstreamTimeout reports a DownstreamResponse timer expiry
	// through the same result type the callback uses.
	DownstreamTimeout
)

func (r DownstreamResult) String() string {
	switch r {
	case DownstreamPending:
		return "Pending"
	case DownstreamHandled:
		return "Handled"
	case DownstreamError:
		return "Error"
	case DownstreamTimeout:
		return "Timeout"
	default:
		return fmt.Sprintf("DownstreamResult(%d)", int(r))
	}
}

// Negative acknowledgement codes a ServerModel callback may return for
// a diagnostic message (ISO 13400 table 15 / ISO 14229).
const (
	NackInvalidSourceAddress   byte = 0x02
	NackUnknownTargetAddress   byte = 0x03
	NackMessageTooLarge        byte = 0x04
	NackOutOfMemory            byte = 0x05
	NackTargetUnreachable      byte = 0x06
	NackUnknownNetwork         byte = 0x07
	NackTransportProtocolError byte = 0x08
)

// DiagnosticAck is the optional negative-ack code returned for a
// diagnostic message. A nil Code means a positive acknowledgement.
type DiagnosticAck struct {
	Code *byte
}

// Positive reports whether this ack is a positive acknowledgement.
func (a DiagnosticAck) Positive() bool { return a.Code == nil }

// Ack builds a negative DiagnosticAck carrying code.
func Ack(code byte) DiagnosticAck {
	c := code
	return DiagnosticAck{Code: &c}
}
