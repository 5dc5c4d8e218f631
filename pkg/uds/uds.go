package uds

import (
	"fmt"
	"time"
)

// Positive/negative response markers. The definition of these constants
// can be found in ISO 14229-1.
const (
	udsPosRespMask   uint8 = 0x40
	udsNegRespServID uint8 = 0x7f
	udsRespPending   uint8 = 0x78
)

// Logger interface should be implemented by the client
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Info(v ...interface{})
	Infof(format string, v ...interface{})
}

// TransPipe interface should be implemented by the layers
// intended to be used by uds. E.g. DoIP and DoCAN
type TransPipe interface {
	Connect() error
	Disconnect()
	Send(TargetAddress uint16, data []byte) error
	Receive() (SourceAddress uint16, TargetAddress uint16, data []byte, err error)
}

// TransReceiveError : interface for the errors in Receive()
type TransReceiveError interface {
	error
	IsDisconnected() bool
	IsTimeout() bool
	Responses() [][]byte
}

// Error : specific uds error
type Error interface {
	error
	Unrecoverable() bool
}

type udsError struct {
	code     int
	request  []byte
	response []byte
	addr     uint16
	source   uint16
	count    int8
	err      error
}

const (
	innerError             int = 0
	tooManyResponsePending int = 2
	unexpectedResponse     int = 4
	zeroLengthResponse     int = 5
	responseFromWrongEcu   int = 6
	unknownError           int = 12
)

func (u *udsError) Error() string {
	switch u.code {
	case innerError:
		return fmt.Sprintf("#%02d.%x.%x %s", u.code, u.addr, u.request, u.err)
	case tooManyResponsePending:
		return fmt.Sprintf("#%02d.%x.%x.%02x <%s>", u.code, u.addr, u.request, u.count, "Uds: Too many response pending messages received")
	case unexpectedResponse:
		return fmt.Sprintf("#%02d.%x.%x.%x <%s>", u.code, u.addr, u.request, u.response, "Uds: Unexpected response")
	case zeroLengthResponse:
		return fmt.Sprintf("#%02d.%x.%x.%x <%s>", u.code, u.addr, u.request, u.source, "Uds: Zero length Response")
	case responseFromWrongEcu:
		return fmt.Sprintf("#%02d.%x.%x.%x <%s>", u.code, u.addr, u.request, u.source, "Uds: Response from wrong ecu")
	default:
		return fmt.Sprintf("#%02d <Uds: Unknown error>", unknownError)
	}
}

func (u *udsError) Unrecoverable() bool {
	if u.err == nil {
		return false
	}

	doxErr, ok := u.err.(TransReceiveError)
	return ok && doxErr.IsDisconnected()
}

// UDS is the single exchange operation the gateway drives: hand it an
// already-built UDS request (diagnostic payloads are opaque to the
// gateway, which only forwards what the tester sent, never constructs
// service-specific requests itself) and get back the ECU's validated
// response, with ISO 14229-1's response-pending (0x78) retry handled
// transparently.
type UDS interface {
	Exchange(addr uint16, request []byte) ([]byte, error)
}

type uds struct {
	log               Logger
	trans             TransPipe
	pendingCount      int8
	interRequestDelay time.Duration
}

// NewUDS creates a new UDS session with trans as the bearer, with the default value five for pendingCount
// trans can either be an DoIP or DoCAN session.
func NewUDS(log Logger, trans TransPipe) UDS {
	// The default value here is just set arbitrary
	return NewUDSWithPendingCount(log, trans, 5)
}

// NewUDSWithPendingCount creates a new UDS session with trans as the bearer.
// count is the number or response pending messages the UDS layer will accept before returning an error.
// trans can either be an DoIP or DoCAN session.
func NewUDSWithPendingCount(log Logger, trans TransPipe, count int8) UDS {
	u := new(uds)
	u.log = log
	u.trans = trans
	u.pendingCount = count
	return u
}

// Exchange sends request to addr and waits for its response, retrying
// while the ECU reports it is still processing the request and
// validating the response's service ID and source before returning it.
func (u *uds) Exchange(addr uint16, request []byte) ([]byte, error) {
	return u.doUdsRawReq(addr, request)
}

// doUdsRawReq is a helper function that handles errors in send/receive and retries on UDS response pending
func (u *uds) doUdsRawReq(addr uint16, request []byte) (response []byte, err error) {
	u.log.Debugf("Sending uds request to %x with payload %x", addr, request)
	err = u.trans.Send(addr, request)
	if err != nil {
		u.log.Infof("Sending uds request to %x with payload %x failed with %s", addr, request, err)
		err = &udsError{
			err:     err,
			code:    innerError,
			request: request,
			addr:    addr,
			source:  addr,
		}
		return
	}

	var source uint16
	count := int8(0)

	for count <= u.pendingCount {
		u.log.Debugf("Waiting for uds response for request %x", request)
		source, _, response, err = u.trans.Receive()
		if len(response) == 0 && err == nil {
			err = &udsError{
				code:    zeroLengthResponse,
				request: request,
				addr:    addr,
				source:  source,
			}
			return
		}
		switch {
		case err != nil:
			err = &udsError{
				code:    innerError,
				request: request,
				addr:    addr,
				err:     err,
			}
			return

		case response[0] == udsNegRespServID:
			if len(response) < 3 || response[2] != udsRespPending {
				u.log.Debugf("Received a negative response %v", response)
				return // got a negative response, all good for us send it up
			}

			// try to handle the pending response by call Receive again
			count++
			u.log.Debugf("response pending, count: %v of %v", count, u.pendingCount)

		case source != addr:
			u.log.Debugf("Received a response from the wrong source %d with payload %v", source, response)
			err = &udsError{
				code:    responseFromWrongEcu,
				request: request,
				addr:    addr,
				source:  source,
			}
			return

		case !u.validatePositiveResponse(request, response):
			u.log.Debugf("Received an unexpected response %v", response)
			err = &udsError{
				code:     unexpectedResponse,
				request:  request,
				addr:     addr,
				response: response,
			}
			return

		default: // good answer
			u.log.Debugf("Received positive response %v", response)
			return
		}
	}
	err = &udsError{
		code:    tooManyResponsePending,
		request: request,
		addr:    addr,
		count:   count,
	}
	return
}

// validatePositiveResponse : check that the response matches the
// request's service ID under ISO 14229-1's positive-response mask.
func (u *uds) validatePositiveResponse(request []byte, response []byte) bool {
	if len(request) == 0 || len(response) == 0 {
		return false
	}
	return request[0]|udsPosRespMask == response[0]
}
