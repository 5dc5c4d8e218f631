package uds

import (
	"github.com/vehicledx/doipgw/pkg/doip"
)

// Provider adapts the teacher's blocking UDS session (uds.go: ISO
// 14229 pending-response retry and positive-response validation,
// narrowed to the raw Exchange a passthrough gateway needs) to the
// core's asynchronous DownstreamProvider shape: a
// doip.ServerModel.OnDownstreamRequest callback that answers through a
// doip.ResponseSink instead of returning synchronously, since a UDS
// exchange over a bus (TransPipe) is itself request/response and must
// not block the Connection's goroutine while it runs.
type Provider struct {
	log Logger
	uds UDS
}

// NewProvider builds a Provider bridging trans (an ECU-facing
// TransPipe — typically a CAN/ISO-TP pipe from pkg/isotp) to the
// core's downstream callback shape.
func NewProvider(log Logger, trans TransPipe) *Provider {
	return &Provider{log: log, uds: NewUDS(log, trans)}
}

// OnDownstreamRequest matches doip.ServerModel.OnDownstreamRequest's
// signature structurally; wire it in with:
//
//	model.OnDownstreamRequest = provider.OnDownstreamRequest
//
// It always answers asynchronously (DownstreamPending), running the
// blocking UDS exchange on its own goroutine and delivering the result
// to sink exactly once, matching spec.md §4.4 step 5/6.
func (p *Provider) OnDownstreamRequest(conn *doip.Connection, msg *doip.DiagnosticMessageBody, sink doip.ResponseSink) doip.DownstreamResult {
	go p.exchange(msg, sink)
	return doip.DownstreamPending
}

func (p *Provider) exchange(msg *doip.DiagnosticMessageBody, sink doip.ResponseSink) {
	data, err := p.uds.Exchange(msg.TargetAddress, msg.UserData)
	if err != nil {
		p.log.Debugf("uds provider: exchange with %#04x failed: %v", msg.TargetAddress, err)
		sink.Respond(doip.Ack(doip.NackTargetUnreachable), nil)
		return
	}
	sink.Respond(DiagnosticAckPositive(), data)
}

// DiagnosticAckPositive is a readability wrapper for a positive
// doip.DiagnosticAck, avoiding a direct zero-value literal at call
// sites that aren't obviously doip-aware.
func DiagnosticAckPositive() doip.DiagnosticAck { return doip.DiagnosticAck{} }
