// Package api defines the delivered frame record and the split step that
// derives it from a validated payload.
//
// A raw payload is an opaque byte sequence. The first byte is the API
// type discriminant identifying which kind of message the module sent;
// everything after it is the message body. This package performs that
// split and names the standard discriminants for display purposes. It
// deliberately stops there: interpreting body contents is the job of a
// command layer built on top of the driver, not of the driver itself.
package api

import (
	"errors"
	"fmt"
)

// ErrEmptyPayload is returned by Split for zero-length payloads, which
// carry no discriminant and are never delivered.
var ErrEmptyPayload = errors.New("empty frame payload")

// FrameType is the API type discriminant carried in the first payload byte.
type FrameType byte

// Standard API frame type discriminants.
const (
	TypeATCommand         FrameType = 0x08
	TypeATCommandQueued   FrameType = 0x09
	TypeTransmitRequest   FrameType = 0x10
	TypeRemoteATCommand   FrameType = 0x17
	TypeTransmitStatus    FrameType = 0x89
	TypeModemStatus       FrameType = 0x8A
	TypeATResponse        FrameType = 0x88
	TypeReceivePacket     FrameType = 0x90
	TypeRemoteATResponse  FrameType = 0x97
	TypeRX64              FrameType = 0x80
	TypeRX16              FrameType = 0x81
	TypeRX64IO            FrameType = 0x82
	TypeRX16IO            FrameType = 0x83
	TypeNodeIdentify      FrameType = 0x95
	TypeExplicitRxPacket  FrameType = 0x91
	TypeExtendedTxStatus  FrameType = 0x8B
	TypeRouteRecord       FrameType = 0xA1
	TypeManyToOneRouteReq FrameType = 0xA3
)

// String returns a display name for the frame type.
func (ft FrameType) String() string {
	switch ft {
	case TypeATCommand:
		return "ATCommand"
	case TypeATCommandQueued:
		return "ATCommandQueued"
	case TypeTransmitRequest:
		return "TransmitRequest"
	case TypeRemoteATCommand:
		return "RemoteATCommand"
	case TypeTransmitStatus:
		return "TransmitStatus"
	case TypeModemStatus:
		return "ModemStatus"
	case TypeATResponse:
		return "ATResponse"
	case TypeReceivePacket:
		return "ReceivePacket"
	case TypeRemoteATResponse:
		return "RemoteATResponse"
	case TypeRX64:
		return "RX64"
	case TypeRX16:
		return "RX16"
	case TypeRX64IO:
		return "RX64IO"
	case TypeRX16IO:
		return "RX16IO"
	case TypeNodeIdentify:
		return "NodeIdentify"
	case TypeExplicitRxPacket:
		return "ExplicitRxPacket"
	case TypeExtendedTxStatus:
		return "ExtendedTxStatus"
	case TypeRouteRecord:
		return "RouteRecord"
	case TypeManyToOneRouteReq:
		return "ManyToOneRouteRequest"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", byte(ft))
	}
}

// Frame is one complete, checksum-validated protocol message split into
// its discriminant and body. Frames are created by the split step and
// never mutated afterwards.
type Frame struct {
	Type FrameType
	Data []byte
}

// SplitFunc derives a Frame from a validated payload. Implementations
// must be deterministic.
type SplitFunc func(payload []byte) (*Frame, error)

// Split is the standard split step: the first payload byte is the type
// discriminant, the rest is the body. The body is copied so the Frame
// stays valid after the demultiplexer reuses its buffers.
func Split(payload []byte) (*Frame, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	body := make([]byte, len(payload)-1)
	copy(body, payload[1:])
	return &Frame{Type: FrameType(payload[0]), Data: body}, nil
}
