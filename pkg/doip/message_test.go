package doip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := EncodeHeader(DiagnosticMessage, 7)
	typ, length, err := ParseHeader(h)
	require.NoError(t, err)
	assert.Equal(t, DiagnosticMessage, typ)
	assert.Equal(t, uint32(7), length)
}

func TestParseHeaderRejectsShortInput(t *testing.T) {
	_, _, err := ParseHeader([]byte{0x02, 0xfd, 0x00})
	assert.ErrorIs(t, err, ErrHeaderTooShort)
}

func TestParseHeaderRejectsBadInverse(t *testing.T) {
	h := EncodeHeader(DiagnosticMessage, 0)
	h[1] = 0x00
	_, _, err := ParseHeader(h)
	assert.ErrorIs(t, err, ErrProtocolMismatch)
}

func TestParseMessageRejectsDeclaredLengthMismatch(t *testing.T) {
	h := EncodeHeader(DiagnosticMessage, 99)
	b := append(h, []byte{0x0e, 0x80, 0x00, 0x10, 0x22}...)
	_, _, err := ParseMessage(b)
	assert.ErrorIs(t, err, ErrPayloadTooShort)
}

func TestParseMessageRejectsUnknownPayloadType(t *testing.T) {
	h := EncodeHeader(PayloadType(0x9999), 0)
	_, _, err := ParseMessage(h)
	assert.ErrorIs(t, err, ErrUnknownPayload)
}

func TestRoutingActivationRequestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		body []byte
	}{
		{"no oem", []byte{0x0e, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"with oem", []byte{0x0e, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0xde, 0xad, 0xbe, 0xef}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, err := Unpack(RoutingActivationRequest, tc.body)
			require.NoError(t, err)
			req := body.(*RoutingActivationRequestBody)
			assert.Equal(t, uint16(0x0e80), req.SourceAddress)
			if len(tc.body) == 11 {
				assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, req.ReserveOEM)
			}
		})
	}
}

func TestRoutingActivationRequestRejectsBadLength(t *testing.T) {
	_, err := Unpack(RoutingActivationRequest, []byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestRoutingActivationResponseMarshal(t *testing.T) {
	r := &RoutingActivationResponseBody{TesterAddress: 0x0e80, EntityAddress: 0x1000, Code: RoutingSuccessfullyActivated}
	w := r.Marshal()
	require.Len(t, w, 9)
	assert.Equal(t, byte(0x0e), w[0])
	assert.Equal(t, byte(0x80), w[1])
	assert.Equal(t, byte(0x10), w[2])
	assert.Equal(t, byte(0x00), w[3])
	assert.Equal(t, RoutingSuccessfullyActivated, w[4])
}

func TestDiagnosticMessageRoundTrip(t *testing.T) {
	m := &DiagnosticMessageBody{SourceAddress: 0x0e80, TargetAddress: 0x1000, UserData: []byte{0x22, 0xf1, 0x90}}
	body, err := Unpack(DiagnosticMessage, m.Marshal())
	require.NoError(t, err)
	got := body.(*DiagnosticMessageBody)
	assert.Equal(t, m.SourceAddress, got.SourceAddress)
	assert.Equal(t, m.TargetAddress, got.TargetAddress)
	assert.Equal(t, m.UserData, got.UserData)
}

func TestDiagnosticMessageRejectsEmptyUserData(t *testing.T) {
	m := &DiagnosticMessageBody{SourceAddress: 1, TargetAddress: 2}
	_, err := Unpack(DiagnosticMessage, m.Marshal())
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestVehicleIdentificationResponseMarshalLength(t *testing.T) {
	v := &VehicleIdentificationResponseBody{LogicalAddress: 0x1000, FurtherAction: 0x00}
	copy(v.VIN[:], "WAUZZZ8V8KA012345")
	w := v.Marshal()
	require.Len(t, w, 33)
	assert.Equal(t, byte(0x10), w[17])
	assert.Equal(t, byte(0x00), w[18])
	assert.Equal(t, v.FurtherAction, w[31])
	assert.Equal(t, v.SyncStatus, w[32])
}

func TestDiagnosticMessageAckMarshal(t *testing.T) {
	a := &DiagnosticMessageAckBody{SourceAddress: 0x1000, TargetAddress: 0x0e80, Negative: true, AckCode: NackTargetUnreachable}
	w := a.Marshal()
	require.Len(t, w, 5)
	assert.Equal(t, NackTargetUnreachable, w[4])
	assert.Equal(t, DiagnosticMessageNegativeAcknowledge, a.Type())
}
