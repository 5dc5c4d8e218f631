package doip

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDiscoveryPort is the well-known UDP port DoIP vehicle
// discovery listens on (ISO 13400-2 DOIP_UDP_DISCOVERY_PORT).
const DefaultDiscoveryPort uint16 = 13400

// DefaultTesterRequestPort is the UDP port broadcasts are sent to,
// mirroring DOIP_UDP_TEST_EQUIPMENT_REQUEST_PORT in the original.
const DefaultTesterRequestPort uint16 = 13400

// TCPServerTransport listens for TCP diagnostic connections and
// broadcasts UDP vehicle announcements. Ported from
// original_source/src/TcpServerTransport.cpp: a TCP listener plus a
// UDP socket configured either for loopback unicast or for
// SO_BROADCAST, depending on Loopback.
type TCPServerTransport struct {
	log              Logger
	loopback         bool
	maxPayloadLength uint32

	mu       sync.Mutex
	port     uint16
	listener net.Listener
	udpConn  *net.UDPConn
	bcastTo  *net.UDPAddr
	active   int32
}

// NewTCPServerTransport constructs a transport; loopback selects
// between unicast-to-127.0.0.1 and SO_BROADCAST-to-255.255.255.255 for
// vehicle announcements, matching configureBroadcast in the original.
// maxPayloadLength bounds the header-declared payload length each
// accepted connection will allocate for; 0 falls back to
// DefaultMaxPayloadLength.
func NewTCPServerTransport(loopback bool, maxPayloadLength uint32, log Logger) *TCPServerTransport {
	if log == nil {
		log = NewLogger()
	}
	if maxPayloadLength == 0 {
		maxPayloadLength = DefaultMaxPayloadLength
	}
	return &TCPServerTransport{log: log, loopback: loopback, maxPayloadLength: maxPayloadLength}
}

func (t *TCPServerTransport) Setup(port uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.port = port
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("doip: tcp listen: %w", err)
	}
	t.listener = ln

	udpConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(DefaultDiscoveryPort)})
	if err != nil {
		ln.Close()
		return fmt.Errorf("doip: udp listen: %w", err)
	}
	t.udpConn = udpConn

	host := "255.255.255.255"
	if t.loopback {
		host = "127.0.0.1"
	}
	t.bcastTo = &net.UDPAddr{IP: net.ParseIP(host), Port: int(DefaultTesterRequestPort)}

	atomic.StoreInt32(&t.active, 1)
	t.log.Infof("TCP server transport ready on port %d (loopback=%v)", port, t.loopback)
	return nil
}

func (t *TCPServerTransport) Accept(ctx context.Context) (ConnectionTransport, error) {
	t.mu.Lock()
	ln := t.listener
	t.mu.Unlock()
	if ln == nil || !t.IsActive() {
		return nil, ErrTransportClosed
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			if !t.IsActive() {
				return nil, ErrTransportClosed
			}
			return nil, r.err
		}
		t.log.Infof("accepted connection from %s", r.conn.RemoteAddr())
		return NewTCPConnectionTransport(r.conn, t.maxPayloadLength, t.log), nil
	}
}

func (t *TCPServerTransport) SendBroadcast(msg *DoIPMessage, port uint16) error {
	t.mu.Lock()
	conn := t.udpConn
	dest := *t.bcastTo
	t.mu.Unlock()
	if conn == nil {
		return ErrTransportClosed
	}
	if port != 0 {
		dest.Port = int(port)
	}
	_, err := conn.WriteToUDP(msg.Marshal(), &dest)
	return err
}

func (t *TCPServerTransport) Close() error {
	if !atomic.CompareAndSwapInt32(&t.active, 1, 0) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log.Info("closing TCP server transport")
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	if t.udpConn != nil {
		if e := t.udpConn.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

func (t *TCPServerTransport) IsActive() bool { return atomic.LoadInt32(&t.active) == 1 }

func (t *TCPServerTransport) Identifier() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("TCP-Server:0.0.0.0:%d", t.port)
}

// TCPConnectionTransport carries one accepted diagnostic session,
// generalizing the teacher's readTCP (doip/server.go): an 8-byte
// header read, followed by an exact-length payload read.
type TCPConnectionTransport struct {
	log              Logger
	conn             net.Conn
	maxPayloadLength uint32
	active           int32
}

// NewTCPConnectionTransport wraps conn; maxPayloadLength bounds the
// header-declared payload length Receive will allocate for, with 0
// falling back to DefaultMaxPayloadLength.
func NewTCPConnectionTransport(conn net.Conn, maxPayloadLength uint32, log Logger) *TCPConnectionTransport {
	if log == nil {
		log = NewLogger()
	}
	if maxPayloadLength == 0 {
		maxPayloadLength = DefaultMaxPayloadLength
	}
	return &TCPConnectionTransport{log: log, conn: conn, maxPayloadLength: maxPayloadLength, active: 1}
}

func (c *TCPConnectionTransport) Send(ctx context.Context, msg *DoIPMessage) error {
	if !c.IsActive() {
		return ErrTransportClosed
	}
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
	}
	_, err := c.conn.Write(msg.Marshal())
	return err
}

func (c *TCPConnectionTransport) Receive(ctx context.Context) (*DoIPMessage, error) {
	if !c.IsActive() {
		return nil, ErrTransportClosed
	}
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(dl)
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	hdr := make([]byte, headerLength)
	if _, err := io.ReadFull(c.conn, hdr); err != nil {
		return nil, err
	}
	t, l, err := ParseHeader(hdr)
	if err != nil {
		c.sendGenericNack(ctx, HdrErrIncorrectPattern)
		return nil, err
	}
	if l > c.maxPayloadLength {
		c.log.Debugf("connection %s: declared payload length %d exceeds bound %d", c.Identifier(), l, c.maxPayloadLength)
		c.sendGenericNack(ctx, HdrErrMessageTooLarge)
		return nil, ErrPayloadTooLarge
	}
	payload := make([]byte, l)
	if l > 0 {
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return nil, err
		}
	}
	return &DoIPMessage{Type: t, Payload: payload}, nil
}

// sendGenericNack writes a GenericHeaderNegativeAcknowledge carrying
// code, best-effort: the header that triggered it is already fatal to
// the stream (Receive's caller closes the connection right after), so
// a failure writing the nack itself is only logged.
func (c *TCPConnectionTransport) sendGenericNack(ctx context.Context, code byte) {
	nack := &DoIPMessage{Type: GenericHeaderNegativeAcknowledge, Payload: (&GenericNackBody{Code: code}).Marshal()}
	if err := c.Send(ctx, nack); err != nil {
		c.log.Debugf("connection %s: sending generic nack %#02x: %v", c.Identifier(), code, err)
	}
}

func (c *TCPConnectionTransport) Close(reason CloseReason) error {
	if !atomic.CompareAndSwapInt32(&c.active, 1, 0) {
		return nil
	}
	c.log.Debugf("closing connection %s: %v", c.Identifier(), reason)
	return c.conn.Close()
}

func (c *TCPConnectionTransport) IsActive() bool { return atomic.LoadInt32(&c.active) == 1 }

func (c *TCPConnectionTransport) Identifier() string {
	return c.conn.RemoteAddr().String()
}
