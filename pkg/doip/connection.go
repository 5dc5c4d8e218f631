package doip

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Connection is one accepted DoIP diagnostic session and its state
// machine, ported from original_source/src/DoIPDefaultConnection.cpp.
// Per the REDESIGN FLAG there, dispatch is a switch over ConnectionState
// rather than a state-descriptor array indexed by enum value, and
// WaitRoutingActivation (not SocketInitialized) is the constructed
// initial state, since the original's SocketInitialized handler never
// observably runs before the unconditional transition out of it.
type Connection struct {
	id        string
	log       Logger
	transport ConnectionTransport
	model     *ServerModel
	timers    *TimerManager
	registry  *ConnectionRegistry
	cfg       ServerConfig

	timerCh      chan TimerExpiry
	downstreamCh chan downstreamDelivery

	state        ConnectionState
	clientAddr   uint16
	registered   bool
	aliveAttempts int
	pendingDiag  *DiagnosticMessageBody

	closeOnce   sync.Once
	closeReason CloseReason
	closed      chan struct{}
}

type downstreamDelivery struct {
	ack  DiagnosticAck
	data []byte
}

// downstreamResponseSink implements ResponseSink, delivering at most
// one response onto the owning Connection's event channel instead of
// calling back into the state machine directly (the "callback hell"
// design note).
type downstreamResponseSink struct {
	once sync.Once
	ch   chan<- downstreamDelivery
}

func (s *downstreamResponseSink) Respond(ack DiagnosticAck, data []byte) {
	s.once.Do(func() {
		select {
		case s.ch <- downstreamDelivery{ack: ack, data: data}:
		default:
		}
	})
}

// NewConnection constructs a Connection in its initial
// WaitRoutingActivation state and arms the InitialInactivity timer.
// Callers must call Run to drive it.
func NewConnection(transport ConnectionTransport, model *ServerModel, timers *TimerManager, registry *ConnectionRegistry, cfg ServerConfig, log Logger) *Connection {
	if log == nil {
		log = NewLogger()
	}
	c := &Connection{
		id:           uuid.NewString(),
		log:          log,
		transport:    transport,
		model:        model,
		timers:       timers,
		registry:     registry,
		cfg:          cfg,
		timerCh:      make(chan TimerExpiry, 4),
		downstreamCh: make(chan downstreamDelivery, 1),
		state:        StateWaitRoutingActivation,
		closed:       make(chan struct{}),
	}
	if model != nil && model.OnOpenConnection != nil {
		model.OnOpenConnection(c)
	}
	timers.Add(c.timerCh, TimerInitialInactivity, cfg.InitialInactivityTimeout)
	return c
}

// ID returns the connection's unique identifier, suitable for log
// correlation.
func (c *Connection) ID() string { return c.id }

// State returns the current state, safe to call from any goroutine
// (the caller should treat it as a best-effort snapshot; only the
// connection's own goroutine mutates it).
func (c *Connection) State() ConnectionState { return c.state }

// ClientAddress returns the tester logical address recorded at
// routing activation, or 0 if activation has not happened yet.
func (c *Connection) ClientAddress() uint16 { return c.clientAddr }

// Run drives the connection until its transport is exhausted, ctx is
// cancelled, or Close is called. It owns a single reader goroutine and
// processes every event on the calling goroutine, so timer callbacks,
// incoming messages, and downstream responses never race each other
// (spec's linearizability guarantee).
func (c *Connection) Run(ctx context.Context) {
	type recvResult struct {
		msg *DoIPMessage
		err error
	}
	recvCh := make(chan recvResult, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			msg, err := c.transport.Receive(ctx)
			select {
			case recvCh <- recvResult{msg, err}:
			case <-c.closed:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.Close(CloseApplicationRequest)
			<-readerDone
			return
		case <-c.closed:
			<-readerDone
			return
		case r := <-recvCh:
			if r.err != nil {
				c.log.Debugf("connection %s: receive error: %v", c.id, r.err)
				c.Close(CloseSocketError)
				<-readerDone
				return
			}
			c.handleMessage(r.msg)
		case exp := <-c.timerCh:
			c.handleTimeout(exp.Timer)
		case d := <-c.downstreamCh:
			c.handleDownstreamDelivered(d)
		}
	}
}

func (c *Connection) handleMessage(msg *DoIPMessage) {
	switch c.state {
	case StateWaitRoutingActivation:
		c.onWaitRoutingActivation(msg)
	case StateRoutingActivated:
		c.onRoutingActivated(msg)
	case StateWaitAliveCheckResponse:
		c.onWaitAliveCheckResponse(msg)
	case StateWaitDownstreamResponse:
		// "no client messages processed" per spec; any traffic here is
		// protocol-wise premature, nacked without changing state.
		c.sendTransportProtocolErrorFor(msg)
	}
}

func (c *Connection) onWaitRoutingActivation(msg *DoIPMessage) {
	if msg.Type != RoutingActivationRequest {
		c.Close(CloseInvalidMessage)
		return
	}
	body, err := Unpack(msg.Type, msg.Payload)
	if err != nil {
		c.Close(CloseInvalidMessage)
		return
	}
	req := body.(*RoutingActivationRequestBody)

	c.clientAddr = req.SourceAddress
	if c.registry != nil {
		if err := c.registry.Register(c.clientAddr, c); err != nil {
			c.log.Warnf("connection %s: %v", c.id, err)
		} else {
			c.registered = true
		}
	}
	c.timers.Cancel(c.timerCh, TimerInitialInactivity)

	resp := &RoutingActivationResponseBody{
		TesterAddress: c.clientAddr,
		EntityAddress: c.model.Config.LogicalAddress,
		Code:          RoutingSuccessfullyActivated,
	}
	c.send(RoutingActivationResponse, resp.Marshal())
	c.transition(StateRoutingActivated)
}

func (c *Connection) onRoutingActivated(msg *DoIPMessage) {
	switch msg.Type {
	case DiagnosticMessage:
		body, err := Unpack(msg.Type, msg.Payload)
		if err != nil {
			c.sendTransportProtocolErrorFor(msg)
			return
		}
		c.handleDiagnosticMessage(body.(*DiagnosticMessageBody))
	case AliveCheckResponse:
		c.timers.Add(c.timerCh, TimerGeneralInactivity, c.cfg.GeneralInactivityTimeout)
	default:
		c.sendTransportProtocolErrorFor(msg)
	}
}

func (c *Connection) onWaitAliveCheckResponse(msg *DoIPMessage) {
	switch msg.Type {
	case AliveCheckResponse:
		c.timers.Cancel(c.timerCh, TimerAliveCheck)
		c.transition(StateRoutingActivated)
	case DiagnosticMessage:
		c.timers.Cancel(c.timerCh, TimerAliveCheck)
		c.transition(StateRoutingActivated)
		c.onRoutingActivated(msg)
	default:
		c.sendTransportProtocolErrorFor(msg)
	}
}

// handleDiagnosticMessage implements the sub-flow from spec.md §4.4,
// the hardest path in the original: validate, ack, notify, restart the
// inactivity timer, then optionally dispatch downstream.
func (c *Connection) handleDiagnosticMessage(body *DiagnosticMessageBody) {
	if body.SourceAddress != c.clientAddr {
		c.sendDiagnosticAck(body, Ack(NackInvalidSourceAddress))
		return
	}

	ack := DiagnosticAck{}
	if c.model != nil && c.model.OnDiagnosticMessage != nil {
		ack = c.model.OnDiagnosticMessage(c, body)
	}
	c.sendDiagnosticAck(body, ack)
	if c.model != nil && c.model.OnDiagnosticNotification != nil {
		c.model.OnDiagnosticNotification(c, body, ack)
	}
	if !ack.Positive() {
		return
	}

	c.timers.Add(c.timerCh, TimerGeneralInactivity, c.cfg.GeneralInactivityTimeout)

	if c.model == nil || c.model.OnDownstreamRequest == nil {
		return
	}
	sink := &downstreamResponseSink{ch: c.downstreamCh}
	switch c.model.OnDownstreamRequest(c, body, sink) {
	case DownstreamPending:
		c.pendingDiag = body
		c.transition(StateWaitDownstreamResponse)
		c.timers.Add(c.timerCh, TimerDownstreamResponse, c.cfg.DownstreamResponseTimeout)
	case DownstreamHandled:
		// remain RoutingActivated
	case DownstreamError:
		c.sendDiagnosticAck(body, Ack(NackTargetUnreachable))
	}
}

func (c *Connection) handleDownstreamDelivered(d downstreamDelivery) {
	if c.state != StateWaitDownstreamResponse || c.pendingDiag == nil {
		return // stale delivery after timeout/close already resolved it
	}
	c.timers.Cancel(c.timerCh, TimerDownstreamResponse)

	if d.ack.Positive() {
		ind := &DiagnosticMessageBody{
			SourceAddress: c.pendingDiag.TargetAddress,
			TargetAddress: c.pendingDiag.SourceAddress,
			UserData:      d.data,
		}
		c.send(DiagnosticMessage, ind.Marshal())
	} else {
		c.sendDiagnosticAck(c.pendingDiag, d.ack)
	}
	c.pendingDiag = nil
	c.transition(StateRoutingActivated)
}

func (c *Connection) handleTimeout(id TimerID) {
	switch c.state {
	case StateWaitRoutingActivation:
		if id == TimerInitialInactivity {
			c.Close(CloseInitialInactivityTimeout)
		}
	case StateRoutingActivated:
		if id == TimerGeneralInactivity {
			c.send(AliveCheckRequest, (&AliveCheckRequestBody{}).Marshal())
			c.transition(StateWaitAliveCheckResponse)
		}
	case StateWaitAliveCheckResponse:
		if id == TimerAliveCheck {
			c.aliveAttempts++
			retries := c.cfg.AliveCheckRetries
			if retries <= 0 {
				retries = 3
			}
			if c.aliveAttempts >= retries {
				c.Close(CloseAliveCheckTimeout)
				return
			}
			c.send(AliveCheckRequest, (&AliveCheckRequestBody{}).Marshal())
			c.timers.Add(c.timerCh, TimerAliveCheck, c.cfg.AliveCheckTimeout)
		}
	case StateWaitDownstreamResponse:
		if id == TimerDownstreamResponse && c.pendingDiag != nil {
			c.sendDiagnosticAck(c.pendingDiag, Ack(NackTargetUnreachable))
			c.pendingDiag = nil
			c.transition(StateRoutingActivated)
		}
	}
}

// transition moves to state and runs its enter hook, grounded on the
// original's per-state enter callbacks (RoutingActivated resets the
// alive-check counter; WaitAliveCheckResponse arms its timer and
// begins the first attempt).
func (c *Connection) transition(state ConnectionState) {
	c.state = state
	switch state {
	case StateRoutingActivated:
		c.aliveAttempts = 0
		c.timers.Add(c.timerCh, TimerGeneralInactivity, c.cfg.GeneralInactivityTimeout)
	case StateWaitAliveCheckResponse:
		c.aliveAttempts = 1
		c.timers.Add(c.timerCh, TimerAliveCheck, c.cfg.AliveCheckTimeout)
	}
}

func (c *Connection) sendDiagnosticAck(req *DiagnosticMessageBody, ack DiagnosticAck) {
	a := &DiagnosticMessageAckBody{
		SourceAddress: req.SourceAddress,
		TargetAddress: req.TargetAddress,
		Negative:      !ack.Positive(),
	}
	if !ack.Positive() {
		a.AckCode = *ack.Code
	}
	c.send(a.Type(), a.Marshal())
}

// sendTransportProtocolErrorFor sends a DiagnosticNegativeAck with
// TransportProtocolError for a message that cannot be a diagnostic
// message at all (unknown type, wrong state) — there is no originating
// DiagnosticMessageBody to echo addresses from, so the recorded client
// address and the model's own logical address stand in.
func (c *Connection) sendTransportProtocolErrorFor(msg *DoIPMessage) {
	a := &DiagnosticMessageAckBody{
		SourceAddress: c.clientAddr,
		TargetAddress: c.modelLogicalAddress(),
		Negative:      true,
		AckCode:       NackTransportProtocolError,
	}
	c.send(a.Type(), a.Marshal())
}

func (c *Connection) modelLogicalAddress() uint16 {
	if c.model == nil {
		return 0
	}
	return c.model.Config.LogicalAddress
}

func (c *Connection) send(t PayloadType, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.transport.Send(ctx, &DoIPMessage{Type: t, Payload: payload}); err != nil {
		c.log.Warnf("connection %s: send %v failed: %v", c.id, t, err)
	}
}

// Close transitions to Closed, idempotently: stops all timers, closes
// the transport, unregisters from the registry, then notifies
// onCloseConnection exactly once. Safe to call concurrently and from
// within Run's own goroutine.
func (c *Connection) Close(reason CloseReason) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		c.state = StateFinalize
		c.timers.CancelAll(c.timerCh)
		c.transport.Close(reason)
		if c.registered {
			c.registry.Unregister(c.clientAddr, c)
		}
		c.state = StateClosed
		close(c.closed)
		if c.model != nil && c.model.OnCloseConnection != nil {
			c.model.OnCloseConnection(c, reason)
		}
	})
}
