package doip

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntity() EntityConfig {
	var e EntityConfig
	copy(e.EID[:], []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff})
	e.GID = e.EID
	e.LogicalAddress = 0x1000
	e.VIN = "WAUZZZ8V8KA012345"
	return e
}

// TestServerAnnouncementLoopBroadcastsConfiguredCount is grounded on
// doip/server_test.go's BenchmarkServe-adjacent style: stand up a
// Server over a MockServerTransport and assert the announcement loop
// broadcasts exactly AnnounceCount VehicleIdentificationResponses,
// each carrying the entity's logical address.
func TestServerAnnouncementLoopBroadcastsConfiguredCount(t *testing.T) {
	transport := NewMockServerTransport(NewLogger())
	cfg := ServerConfig{
		TCPPort:          13400,
		AnnounceCount:    3,
		AnnounceInterval: 10 * time.Millisecond,
	}
	entity := testEntity()
	server := NewServer(transport, cfg, func() *ServerModel { return &ServerModel{Config: entity} }, NewLogger())

	require.NoError(t, server.Start())
	defer server.Stop()

	require.Eventually(t, func() bool { return len(transport.Broadcasts()) == 3 }, time.Second, 5*time.Millisecond)

	broadcasts := transport.Broadcasts()
	for _, msg := range broadcasts {
		assert.Equal(t, VehicleIdentificationResponse, msg.Type)
		require.Len(t, msg.Payload, 33)
		assert.Equal(t, uint16(0x1000), uint16(msg.Payload[17])<<8|uint16(msg.Payload[18]))
	}
}

// TestServerAcceptLoopConstructsOneConnectionPerOffer confirms a fresh
// ServerModel and Connection are created per accepted transport, per
// spec.md §4.6's factory-per-connection requirement.
func TestServerAcceptLoopConstructsOneConnectionPerOffer(t *testing.T) {
	transport := NewMockServerTransport(NewLogger())
	cfg := DefaultServerConfig()
	cfg.AnnounceCount = 0
	var factoryCalls int
	entity := testEntity()
	server := NewServer(transport, cfg, func() *ServerModel {
		factoryCalls++
		return &ServerModel{Config: entity}
	}, NewLogger())

	require.NoError(t, server.Start())
	defer server.Stop()

	a := NewMockConnectionTransport("a", NewLogger())
	b := NewMockConnectionTransport("b", NewLogger())
	transport.Offer(a)
	transport.Offer(b)

	require.Eventually(t, func() bool { return factoryCalls >= 2 }, time.Second, 5*time.Millisecond)

	a.Inject(&DoIPMessage{Type: RoutingActivationRequest, Payload: routingActivationRequestPayload(0x0e80)})
	b.Inject(&DoIPMessage{Type: RoutingActivationRequest, Payload: routingActivationRequestPayload(0x0e81)})
	waitSent(t, a)
	waitSent(t, b)
	assert.Equal(t, 2, server.Registry().Len())
}

// TestServerStopOrderingClosesTransportAfterLoops exercises the
// mandatory ordering from DoIPServer.cpp's stop(): Stop must not
// return (and must not close the transport) until the accept and
// announcement loops have both observed the stop signal and exited.
func TestServerStopOrderingClosesTransportAfterLoops(t *testing.T) {
	transport := NewMockServerTransport(NewLogger())
	cfg := ServerConfig{TCPPort: 13400, AnnounceCount: 1, AnnounceInterval: time.Hour}
	entity := testEntity()
	server := NewServer(transport, cfg, func() *ServerModel { return &ServerModel{Config: entity} }, NewLogger())

	require.NoError(t, server.Start())
	server.Stop()

	assert.False(t, transport.IsActive())

	// Stop must be idempotent.
	assert.NotPanics(t, func() { server.Stop() })
}

// TestServerFatalReportsUnrecoverableAcceptError confirms an Accept
// error other than ErrTransportClosed or a poll-timeout deadline is
// surfaced on Fatal rather than silently retried forever.
func TestServerFatalReportsUnrecoverableAcceptError(t *testing.T) {
	transport := NewMockServerTransport(NewLogger())
	cfg := ServerConfig{TCPPort: 13400, AnnounceCount: 0}
	entity := testEntity()
	server := NewServer(transport, cfg, func() *ServerModel { return &ServerModel{Config: entity} }, NewLogger())

	require.NoError(t, server.Start())
	defer server.Stop()

	boom := errors.New("accept: too many open files")
	transport.OfferError(boom)

	select {
	case err := <-server.Fatal():
		assert.Equal(t, boom, err)
	case <-time.After(time.Second):
		t.Fatal("Fatal never reported the accept error")
	}
}
