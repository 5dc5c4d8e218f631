package doip

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// TestClient is a minimal white-box DoIP client used only by
// integration-style tests (spec.md §1 explicitly scopes the
// client-side implementation out of the core). Adapted from the
// teacher's DoIP client (doip/client.go): same
// Connect/Disconnect/activation-handshake/input-loop shape, rewired to
// speak the package's own DoIPMessage/PayloadType codec instead of the
// teacher's MsgTid/Pack dispatch table.
type TestClient struct {
	log         Logger
	source      uint16
	server      string
	readTimeout time.Duration

	mtx     sync.Mutex
	conn    net.Conn
	inChan  chan *DiagnosticMessageBody
	errChan chan error
	running chan struct{}
	raCh    chan *RoutingActivationResponseBody
}

// NewTestClient builds a client that will activate routing as
// sourceAddress against server ("host:port").
func NewTestClient(log Logger, sourceAddress uint16, server string) *TestClient {
	if log == nil {
		log = NewLogger()
	}
	return &TestClient{log: log, source: sourceAddress, server: server, readTimeout: 5 * time.Second}
}

// SetReadTimeout overrides the default 5s Receive timeout.
func (c *TestClient) SetReadTimeout(d time.Duration) { c.readTimeout = d }

// Connect dials the server, starts the input loop, and performs the
// routing activation handshake (ISO 13400-2 table 22).
func (c *TestClient) Connect() error {
	conn, err := net.DialTimeout("tcp", c.server, 10*time.Second)
	if err != nil {
		return fmt.Errorf("doip testclient: dial: %w", err)
	}
	c.conn = conn
	c.inChan = make(chan *DiagnosticMessageBody, 1)
	c.errChan = make(chan error, 1)
	c.running = make(chan struct{})
	c.raCh = make(chan *RoutingActivationResponseBody, 1)

	go c.inputLoop(conn)

	if err := c.activationHandshake(); err != nil {
		c.Disconnect()
		return err
	}
	return nil
}

// Disconnect closes the connection. Idempotent.
func (c *TestClient) Disconnect() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.conn == nil {
		return
	}
	close(c.running)
	c.conn.Close()
	c.conn = nil
}

// Exchange sends a diagnostic request to targetAddr and waits for the
// matching response.
func (c *TestClient) Exchange(targetAddr uint16, data []byte) ([]byte, error) {
	if err := c.send(targetAddr, DiagnosticMessage, data); err != nil {
		return nil, err
	}
	ind, err := c.Receive()
	if err != nil {
		return nil, err
	}
	return ind.UserData, nil
}

// Receive waits for the next diagnostic indication or an error,
// bounded by the client's read timeout.
func (c *TestClient) Receive() (*DiagnosticMessageBody, error) {
	select {
	case msg, ok := <-c.inChan:
		if !ok {
			return nil, fmt.Errorf("doip testclient: session disconnected")
		}
		return msg, nil
	case err, ok := <-c.errChan:
		if !ok {
			return nil, fmt.Errorf("doip testclient: session disconnected")
		}
		return nil, err
	case <-time.After(c.readTimeout):
		return nil, fmt.Errorf("doip testclient: receive timeout")
	}
}

func (c *TestClient) send(targetAddr uint16, t PayloadType, data []byte) error {
	var payload []byte
	switch t {
	case AliveCheckRequest:
		payload = nil
	case RoutingActivationRequest:
		b := &RoutingActivationRequestBody{SourceAddress: c.source, ActivationType: 0x00}
		payload = append([]byte{byte(b.SourceAddress >> 8), byte(b.SourceAddress)}, 0x00, 0, 0, 0, 0)
	case DiagnosticMessage:
		m := &DiagnosticMessageBody{SourceAddress: c.source, TargetAddress: targetAddr, UserData: data}
		payload = m.Marshal()
	default:
		return fmt.Errorf("doip testclient: unsupported send type %v", t)
	}

	msg := &DoIPMessage{Type: t, Payload: payload}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.conn == nil {
		return fmt.Errorf("doip testclient: not connected")
	}
	_, err := c.conn.Write(msg.Marshal())
	return err
}

func (c *TestClient) activationHandshake() error {
	if err := c.send(c.source, RoutingActivationRequest, nil); err != nil {
		return err
	}
	select {
	case err, ok := <-c.errChan:
		if ok {
			return err
		}
		return fmt.Errorf("doip testclient: session disconnected")
	case raw := <-c.activationResponses():
		if raw.Code != RoutingSuccessfullyActivated {
			return fmt.Errorf("doip testclient: routing activation denied: code 0x%02x", raw.Code)
		}
		return nil
	case <-time.After(c.readTimeout):
		return fmt.Errorf("doip testclient: activation handshake timeout")
	}
}

// activationResponses is a one-shot adapter: the input loop pushes
// RoutingActivationResponse bodies here during the handshake window.
func (c *TestClient) activationResponses() <-chan *RoutingActivationResponseBody {
	return c.raCh
}

func (c *TestClient) isStopped() bool {
	select {
	case _, ok := <-c.running:
		return !ok
	default:
		return false
	}
}

func (c *TestClient) inputLoop(conn net.Conn) {
	defer close(c.inChan)
	defer close(c.errChan)

	header := make([]byte, headerLength)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if !c.isStopped() && err != io.EOF && err != io.ErrUnexpectedEOF {
				c.log.Debugf("doip testclient: header read failed: %v", err)
			}
			return
		}
		t, l, err := ParseHeader(header)
		if err != nil {
			c.errChan <- err
			continue
		}
		payload := make([]byte, l)
		if l > 0 {
			if _, err := io.ReadFull(conn, payload); err != nil {
				if !c.isStopped() {
					c.log.Debugf("doip testclient: payload read failed: %v", err)
				}
				return
			}
		}

		switch t {
		case RoutingActivationResponse:
			if len(payload) < 5 {
				c.errChan <- ErrMalformedPayload
				continue
			}
			resp := &RoutingActivationResponseBody{
				TesterAddress: uint16(payload[0])<<8 | uint16(payload[1]),
				EntityAddress: uint16(payload[2])<<8 | uint16(payload[3]),
				Code:          payload[4],
			}
			select {
			case c.raCh <- resp:
			default:
			}
		case DiagnosticMessage:
			body, err := unpackDiagnosticMessage(payload)
			if err != nil {
				c.errChan <- err
				continue
			}
			c.inChan <- body.(*DiagnosticMessageBody)
		case DiagnosticMessagePositiveAcknowledge, DiagnosticMessageNegativeAcknowledge:
			// acks are consumed silently by this simple test client;
			// only the eventual DiagnosticMessage indication is surfaced.
		case GenericHeaderNegativeAcknowledge:
			c.errChan <- ErrUnknownPayload
		default:
			c.log.Debugf("doip testclient: dropping unhandled payload type %v", t)
		}
	}
}
