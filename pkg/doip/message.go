package doip

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire constants from ISO 13400-2 table 11.
const (
	ProtocolVersion        byte = 0x02
	InverseProtocolVersion byte = ^ProtocolVersion

	headerLength = 8
)

// DefaultMaxPayloadLength bounds the header-declared payload length a
// connection will allocate a buffer for before reading it off the
// wire, per ISO 13400-2 table 14's message-too-large generic nack.
// TCPConnectionTransport rejects anything larger rather than trusting
// an attacker- or corruption-controlled length field.
const DefaultMaxPayloadLength uint32 = 65536

// PayloadType is the DoIP generic header payload type field (table 12),
// extended with the vehicle identification request/response values the
// teacher's msg.go never modeled because it only ever spoke to a
// pre-activated tester, not the discovery phase.
type PayloadType uint16

const (
	GenericHeaderNegativeAcknowledge     PayloadType = 0x0000
	VehicleIdentificationRequest         PayloadType = 0x0001
	VehicleIdentificationResponse        PayloadType = 0x0004
	RoutingActivationRequest             PayloadType = 0x0005
	RoutingActivationResponse            PayloadType = 0x0006
	AliveCheckRequest                    PayloadType = 0x0007
	AliveCheckResponse                   PayloadType = 0x0008
	DiagnosticMessage                    PayloadType = 0x8001
	DiagnosticMessagePositiveAcknowledge PayloadType = 0x8002
	DiagnosticMessageNegativeAcknowledge PayloadType = 0x8003
)

func (t PayloadType) String() string {
	switch t {
	case GenericHeaderNegativeAcknowledge:
		return "GenericHeaderNegativeAcknowledge"
	case VehicleIdentificationRequest:
		return "VehicleIdentificationRequest"
	case VehicleIdentificationResponse:
		return "VehicleIdentificationResponse"
	case RoutingActivationRequest:
		return "RoutingActivationRequest"
	case RoutingActivationResponse:
		return "RoutingActivationResponse"
	case AliveCheckRequest:
		return "AliveCheckRequest"
	case AliveCheckResponse:
		return "AliveCheckResponse"
	case DiagnosticMessage:
		return "DiagnosticMessage"
	case DiagnosticMessagePositiveAcknowledge:
		return "DiagnosticMessagePositiveAcknowledge"
	case DiagnosticMessageNegativeAcknowledge:
		return "DiagnosticMessageNegativeAcknowledge"
	default:
		return fmt.Sprintf("PayloadType(0x%04x)", uint16(t))
	}
}

// Generic DoIP header NACK codes, table 14.
const (
	HdrErrIncorrectPattern  byte = 0x00
	HdrErrUnknownPayload    byte = 0x01
	HdrErrMessageTooLarge   byte = 0x02
	HdrErrOutOfMemory       byte = 0x03
	HdrErrInvalidPayloadLen byte = 0x04
)

// Routing activation response codes, table 25.
const (
	RoutingDeniedUnsupportedType byte = 0x06
	RoutingDeniedUnknownSource   byte = 0x02
	RoutingSuccessfullyActivated byte = 0x10
)

var (
	ErrHeaderTooShort    = errors.New("doip: header shorter than 8 bytes")
	ErrProtocolMismatch  = errors.New("doip: protocol version / inverse mismatch")
	ErrPayloadTooShort   = errors.New("doip: payload shorter than declared length")
	ErrPayloadTooLarge   = errors.New("doip: payload length exceeds maximum")
	ErrUnknownPayload    = errors.New("doip: unknown payload type")
	ErrMalformedPayload  = errors.New("doip: payload malformed for its type")
)

// DoIPMessage is a decoded DoIP generic-header frame: an 8-byte header
// (protocol version, its bitwise inverse, payload type, payload length)
// followed by a type-specific payload.
type DoIPMessage struct {
	Type    PayloadType
	Payload []byte
}

// EncodeHeader writes the 8-byte generic header for a payload of the
// given type and length.
func EncodeHeader(t PayloadType, payloadLen uint32) []byte {
	h := make([]byte, headerLength)
	h[0] = ProtocolVersion
	h[1] = InverseProtocolVersion
	binary.BigEndian.PutUint16(h[2:4], uint16(t))
	binary.BigEndian.PutUint32(h[4:8], payloadLen)
	return h
}

// ParseHeader validates and decodes an 8-byte generic header.
func ParseHeader(b []byte) (PayloadType, uint32, error) {
	if len(b) < headerLength {
		return 0, 0, ErrHeaderTooShort
	}
	if b[1] != ^b[0] {
		return 0, 0, ErrProtocolMismatch
	}
	t := PayloadType(binary.BigEndian.Uint16(b[2:4]))
	l := binary.BigEndian.Uint32(b[4:8])
	return t, l, nil
}

// Marshal packs msg into its wire representation (header + payload).
func (m *DoIPMessage) Marshal() []byte {
	buf := make([]byte, headerLength+len(m.Payload))
	copy(buf, EncodeHeader(m.Type, uint32(len(m.Payload))))
	copy(buf[headerLength:], m.Payload)
	return buf
}

// ParseMessage decodes a full frame (header already validated length
// against payload) into its typed form via the Unpack dispatch table.
func ParseMessage(b []byte) (*DoIPMessage, Body, error) {
	t, l, err := ParseHeader(b)
	if err != nil {
		return nil, nil, err
	}
	payload := b[headerLength:]
	if uint32(len(payload)) != l {
		return nil, nil, ErrPayloadTooShort
	}
	msg := &DoIPMessage{Type: t, Payload: payload}
	body, err := Unpack(t, payload)
	if err != nil {
		return msg, nil, err
	}
	return msg, body, nil
}

// Body is implemented by every decoded payload body type.
type Body interface {
	Type() PayloadType
}

// unpackFunc/packFunc are the per-type codec functions, generalizing
// the teacher's mhUnpack/mhPack dispatch tables in doip/msg.go to the
// richer PayloadType set (vehicle identification added).
type unpackFunc func([]byte) (Body, error)

var unpackTable = map[PayloadType]unpackFunc{
	RoutingActivationRequest:     unpackRoutingActivationRequest,
	AliveCheckResponse:           unpackAliveCheckResponse,
	DiagnosticMessage:            unpackDiagnosticMessage,
	VehicleIdentificationRequest: unpackVehicleIdentificationRequest,
}

// Unpack decodes payload according to its declared PayloadType.
func Unpack(t PayloadType, payload []byte) (Body, error) {
	f, ok := unpackTable[t]
	if !ok {
		return nil, ErrUnknownPayload
	}
	return f(payload)
}

// RoutingActivationRequestBody is the tester's request to activate a
// routing session for SourceAddress.
type RoutingActivationRequestBody struct {
	SourceAddress  uint16
	ActivationType byte
	ReserveOEM     []byte
}

func (RoutingActivationRequestBody) Type() PayloadType { return RoutingActivationRequest }

func unpackRoutingActivationRequest(b []byte) (Body, error) {
	if !(len(b) == 7 || len(b) == 11) {
		return nil, ErrMalformedPayload
	}
	r := &RoutingActivationRequestBody{
		SourceAddress:  binary.BigEndian.Uint16(b[0:2]),
		ActivationType: b[2],
	}
	if len(b) == 11 {
		r.ReserveOEM = append([]byte(nil), b[7:11]...)
	}
	return r, nil
}

// RoutingActivationResponseBody is the gateway's reply.
type RoutingActivationResponseBody struct {
	TesterAddress  uint16
	EntityAddress  uint16
	Code           byte
	ReserveOEM     []byte
}

func (RoutingActivationResponseBody) Type() PayloadType { return RoutingActivationResponse }

// Marshal packs a routing activation response.
func (r *RoutingActivationResponseBody) Marshal() []byte {
	n := 9
	if r.ReserveOEM != nil {
		n += 4
	}
	w := make([]byte, n)
	binary.BigEndian.PutUint16(w[0:2], r.TesterAddress)
	binary.BigEndian.PutUint16(w[2:4], r.EntityAddress)
	w[4] = r.Code
	if r.ReserveOEM != nil {
		copy(w[9:13], r.ReserveOEM)
	}
	return w
}

// AliveCheckRequestBody carries no payload.
type AliveCheckRequestBody struct{}

func (AliveCheckRequestBody) Type() PayloadType { return AliveCheckRequest }
func (AliveCheckRequestBody) Marshal() []byte   { return nil }

// AliveCheckResponseBody echoes the tester's source address.
type AliveCheckResponseBody struct {
	SourceAddress uint16
}

func (AliveCheckResponseBody) Type() PayloadType { return AliveCheckResponse }

func unpackAliveCheckResponse(b []byte) (Body, error) {
	if len(b) < 2 {
		return nil, ErrMalformedPayload
	}
	return &AliveCheckResponseBody{SourceAddress: binary.BigEndian.Uint16(b[0:2])}, nil
}

// DiagnosticMessageBody carries a UDS request/response/indication.
type DiagnosticMessageBody struct {
	SourceAddress uint16
	TargetAddress uint16
	UserData      []byte
}

func (DiagnosticMessageBody) Type() PayloadType { return DiagnosticMessage }

func (m *DiagnosticMessageBody) Marshal() []byte {
	w := make([]byte, 4+len(m.UserData))
	binary.BigEndian.PutUint16(w[0:2], m.SourceAddress)
	binary.BigEndian.PutUint16(w[2:4], m.TargetAddress)
	copy(w[4:], m.UserData)
	return w
}

func unpackDiagnosticMessage(b []byte) (Body, error) {
	if len(b) <= 4 {
		return nil, ErrMalformedPayload
	}
	return &DiagnosticMessageBody{
		SourceAddress: binary.BigEndian.Uint16(b[0:2]),
		TargetAddress: binary.BigEndian.Uint16(b[2:4]),
		UserData:      append([]byte(nil), b[4:]...),
	}, nil
}

// DiagnosticMessageAckBody is the positive/negative ack that follows a
// DiagnosticMessageBody, echoing the first bytes of UserData.
type DiagnosticMessageAckBody struct {
	SourceAddress uint16
	TargetAddress uint16
	AckCode       byte
	Negative      bool
	Echo          []byte
}

func (a DiagnosticMessageAckBody) Type() PayloadType {
	if a.Negative {
		return DiagnosticMessageNegativeAcknowledge
	}
	return DiagnosticMessagePositiveAcknowledge
}

func (a *DiagnosticMessageAckBody) Marshal() []byte {
	w := make([]byte, 5+len(a.Echo))
	binary.BigEndian.PutUint16(w[0:2], a.SourceAddress)
	binary.BigEndian.PutUint16(w[2:4], a.TargetAddress)
	w[4] = a.AckCode
	copy(w[5:], a.Echo)
	return w
}

// GenericNackBody is the header-level negative acknowledgement, sent
// when the header itself is malformed (and, per ISO 13400-2 table 14,
// the socket is then closed for the pattern/length errors).
type GenericNackBody struct {
	Code byte
}

func (GenericNackBody) Type() PayloadType { return GenericHeaderNegativeAcknowledge }
func (n *GenericNackBody) Marshal() []byte { return []byte{n.Code} }

// VehicleIdentificationRequestBody is an empty UDP discovery probe.
type VehicleIdentificationRequestBody struct{}

func (VehicleIdentificationRequestBody) Type() PayloadType { return VehicleIdentificationRequest }

func unpackVehicleIdentificationRequest(b []byte) (Body, error) {
	return &VehicleIdentificationRequestBody{}, nil
}

// VehicleIdentificationResponseBody is the UDP announcement payload
// (VIN, logical address, EID, GID, further-action code, sync status),
// absent from the teacher, which never implemented UDP discovery.
type VehicleIdentificationResponseBody struct {
	VIN            [17]byte
	LogicalAddress uint16
	EID            [6]byte
	GID            [6]byte
	FurtherAction  byte
	SyncStatus     byte
}

func (VehicleIdentificationResponseBody) Type() PayloadType { return VehicleIdentificationResponse }

func (v *VehicleIdentificationResponseBody) Marshal() []byte {
	w := make([]byte, 33)
	copy(w[0:17], v.VIN[:])
	binary.BigEndian.PutUint16(w[17:19], v.LogicalAddress)
	copy(w[19:25], v.EID[:])
	copy(w[25:31], v.GID[:])
	w[31] = v.FurtherAction
	w[32] = v.SyncStatus
	return w
}
