package doip

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTCPConnectionTransportRejectsOversizedPayloadWithGenericNack
// covers spec.md §6's bound on header-declared payload length: a
// header claiming more than the configured maximum must be rejected
// with a GenericHeaderNegativeAcknowledge(HdrErrMessageTooLarge)
// rather than allocating a buffer sized off an attacker-controlled
// field.
func TestTCPConnectionTransportRejectsOversizedPayloadWithGenericNack(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	transport := NewTCPConnectionTransport(server, 16, NewLogger())

	recvErr := make(chan error, 1)
	go func() {
		_, err := transport.Receive(context.Background())
		recvErr <- err
	}()

	_, err := client.Write(EncodeHeader(DiagnosticMessage, 1024))
	require.NoError(t, err)

	nackHdr := make([]byte, headerLength)
	_, err = io.ReadFull(client, nackHdr)
	require.NoError(t, err)
	nackType, nackLen, err := ParseHeader(nackHdr)
	require.NoError(t, err)
	assert.Equal(t, GenericHeaderNegativeAcknowledge, nackType)
	require.EqualValues(t, 1, nackLen)

	nackPayload := make([]byte, 1)
	_, err = io.ReadFull(client, nackPayload)
	require.NoError(t, err)
	assert.Equal(t, HdrErrMessageTooLarge, nackPayload[0])

	select {
	case err := <-recvErr:
		assert.Equal(t, ErrPayloadTooLarge, err)
	case <-time.After(time.Second):
		t.Fatal("Receive never returned")
	}
}

// TestTCPConnectionTransportRejectsBadProtocolPatternWithGenericNack
// covers the header-pattern half of the same table: a protocol
// version whose inverse byte doesn't match gets
// HdrErrIncorrectPattern rather than silently closing.
func TestTCPConnectionTransportRejectsBadProtocolPatternWithGenericNack(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	transport := NewTCPConnectionTransport(server, DefaultMaxPayloadLength, NewLogger())

	recvErr := make(chan error, 1)
	go func() {
		_, err := transport.Receive(context.Background())
		recvErr <- err
	}()

	bad := EncodeHeader(DiagnosticMessage, 0)
	bad[1] = bad[0] // break the inverse-byte pattern
	_, err := client.Write(bad)
	require.NoError(t, err)

	nackHdr := make([]byte, headerLength)
	_, err = io.ReadFull(client, nackHdr)
	require.NoError(t, err)
	nackType, _, err := ParseHeader(nackHdr)
	require.NoError(t, err)
	assert.Equal(t, GenericHeaderNegativeAcknowledge, nackType)

	nackPayload := make([]byte, 1)
	_, err = io.ReadFull(client, nackPayload)
	require.NoError(t, err)
	assert.Equal(t, HdrErrIncorrectPattern, nackPayload[0])

	select {
	case err := <-recvErr:
		assert.Equal(t, ErrProtocolMismatch, err)
	case <-time.After(time.Second):
		t.Fatal("Receive never returned")
	}
}

// TestTCPConnectionTransportAcceptsPayloadAtBound confirms the bound
// check is strictly "larger than", not "at least": a payload exactly
// at the configured maximum is read normally.
func TestTCPConnectionTransportAcceptsPayloadAtBound(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	transport := NewTCPConnectionTransport(server, 4, NewLogger())

	recvResult := make(chan *DoIPMessage, 1)
	recvErr := make(chan error, 1)
	go func() {
		msg, err := transport.Receive(context.Background())
		recvResult <- msg
		recvErr <- err
	}()

	_, err := client.Write(EncodeHeader(AliveCheckResponse, 4))
	require.NoError(t, err)
	_, err = client.Write([]byte{0x0e, 0x80, 0x00, 0x00})
	require.NoError(t, err)

	select {
	case err := <-recvErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Receive never returned")
	}
	msg := <-recvResult
	require.NotNil(t, msg)
	assert.Equal(t, AliveCheckResponse, msg.Type)
	assert.Equal(t, []byte{0x0e, 0x80, 0x00, 0x00}, msg.Payload)
}
