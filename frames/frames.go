// Package frames implements the XBee API frame wire format.
//
// Every message exchanged with an XBee module travels inside an API frame.
// The frame boundary is the only structure the link provides, so the
// assembler in this package is the single source of truth for where one
// frame ends and the next begins.
//
// # Frame Structure
//
// Each frame has the following structure:
//
//	┌─────────────────────────────────────────────────────────┐
//	│  Start marker (1 byte) - always 0x7E                    │
//	├─────────────────────────────────────────────────────────┤
//	│  Length (2 bytes, big-endian) - payload size in bytes   │
//	├─────────────────────────────────────────────────────────┤
//	│  Payload (Length bytes)                                  │
//	├─────────────────────────────────────────────────────────┤
//	│  Checksum (1 byte) - 0xFF minus the low byte of the     │
//	│  sum of all payload bytes                                │
//	└─────────────────────────────────────────────────────────┘
//
// # Escaped Mode (API mode 2)
//
// When the module operates in escaped mode, every byte after the start
// marker that collides with one of four reserved values (the start marker
// itself, the escape marker, XON and XOFF) is transmitted as the escape
// marker followed by the value XOR 0x20. The leading start marker is never
// escaped. Unescaping happens before bytes reach the Assembler; the
// Assembler only ever sees logical bytes.
//
// # Usage
//
// To assemble a frame from incoming bytes:
//
//	asm := frames.NewAssembler(frames.DefaultMaxPayloadSize)
//	for asm.Remaining() > 0 {
//	    if err := asm.Fill(next()); err != nil {
//	        // declared length out of bounds, resynchronize
//	    }
//	}
//	payload, err := asm.Parse()
//
// To encode a payload for transmission:
//
//	wire := frames.Encode(payload, escaped)
package frames

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire format constants.
const (
	// StartByte marks the beginning of every API frame.
	StartByte = 0x7E
	// EscapeByte introduces a 2-byte escape sequence in escaped mode.
	EscapeByte = 0x7D
	// XOn and XOff are the software flow control bytes reserved by the
	// serial link; escaped mode must keep them off the wire.
	XOn  = 0x11
	XOff = 0x13

	// EscapeMask is XORed with a reserved byte to form the second byte of
	// an escape sequence.
	EscapeMask = 0x20

	// headerSize covers the start marker plus the 2-byte length field.
	headerSize = 3
)

// DefaultMaxPayloadSize bounds the declared payload length an Assembler
// will accept. The length field allows up to 65535 bytes but no XBee
// variant ships frames anywhere near that; a corrupted length field must
// not commit the assembler to buffering garbage for seconds.
const DefaultMaxPayloadSize = 4096

var (
	// ErrChecksum is returned when the received checksum does not match
	// the checksum computed over the received payload.
	ErrChecksum = errors.New("invalid frame checksum")
	// ErrCorruptLength is returned when the declared payload length
	// exceeds the assembler's configured maximum.
	ErrCorruptLength = errors.New("declared frame length out of bounds")
	// ErrIncomplete is returned by Parse when the assembler still needs
	// more bytes.
	ErrIncomplete = errors.New("incomplete frame")
)

// Checksum computes the API frame checksum over a payload:
// 0xFF minus the low byte of the byte sum.
func Checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}
	return 0xFF - sum
}

// Reserved reports whether b must be escaped in escaped mode.
func Reserved(b byte) bool {
	switch b {
	case StartByte, EscapeByte, XOn, XOff:
		return true
	}
	return false
}

// Escape byte-stuffs data for escaped-mode transmission. The caller is
// responsible for not passing the leading start marker through Escape.
func Escape(data []byte) []byte {
	out := make([]byte, 0, len(data)+4)
	for _, b := range data {
		if Reserved(b) {
			out = append(out, EscapeByte, b^EscapeMask)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// Unescape reverses Escape over a complete buffer. A trailing escape
// marker with no following byte is dropped; streaming callers that can
// see a chunk end mid-sequence must track that state themselves.
func Unescape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == EscapeByte {
			if i+1 == len(data) {
				break
			}
			i++
			out = append(out, data[i]^EscapeMask)
			continue
		}
		out = append(out, data[i])
	}
	return out
}

// Encode builds the complete wire representation of payload, applying
// escaped-mode byte stuffing when escaped is true.
func Encode(payload []byte, escaped bool) []byte {
	body := make([]byte, 0, headerSize+len(payload)+1)
	body = append(body, 0, 0)
	binary.BigEndian.PutUint16(body[0:2], uint16(len(payload))) // #nosec G115 -- payload length is bounded by callers
	body = append(body, payload...)
	body = append(body, Checksum(payload))

	if escaped {
		body = Escape(body)
	}

	out := make([]byte, 0, 1+len(body))
	out = append(out, StartByte)
	out = append(out, body...)
	return out
}

// Assembler accumulates the logical bytes of one frame and validates it.
//
// Fill is fed bytes starting with the start marker; escaped-mode
// unescaping must already have been applied by the caller. An Assembler
// is single-use: after Parse succeeds or Fill/Parse reports corruption
// the caller discards it and starts a new one at the next start marker.
type Assembler struct {
	raw        []byte
	maxPayload int
}

// NewAssembler creates an Assembler that rejects declared payload lengths
// above maxPayload. A maxPayload of 0 selects DefaultMaxPayloadSize.
func NewAssembler(maxPayload int) *Assembler {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadSize
	}
	return &Assembler{
		raw:        make([]byte, 0, headerSize+1),
		maxPayload: maxPayload,
	}
}

// declaredLength returns the payload length from the header, valid only
// once headerSize bytes have been filled.
func (a *Assembler) declaredLength() int {
	return int(binary.BigEndian.Uint16(a.raw[1:3]))
}

// Remaining returns how many more logical wire bytes the frame needs.
// Until the length field is complete only the header size is known.
func (a *Assembler) Remaining() int {
	if len(a.raw) < headerSize {
		return headerSize - len(a.raw)
	}
	return headerSize + a.declaredLength() + 1 - len(a.raw)
}

// Fill feeds one logical byte. It returns ErrCorruptLength as soon as the
// completed length field exceeds the configured maximum; the caller must
// then discard the assembler and resynchronize.
func (a *Assembler) Fill(b byte) error {
	a.raw = append(a.raw, b)
	if len(a.raw) == headerSize && a.declaredLength() > a.maxPayload {
		return fmt.Errorf("%w: %d > %d", ErrCorruptLength, a.declaredLength(), a.maxPayload)
	}
	return nil
}

// Parse validates the completed frame and returns its payload. It returns
// ErrIncomplete if bytes are still missing and ErrChecksum if the trailing
// checksum does not match the payload; on ErrChecksum the frame must be
// discarded without delivery.
func (a *Assembler) Parse() ([]byte, error) {
	if a.Remaining() > 0 {
		return nil, ErrIncomplete
	}
	payload := a.raw[headerSize : headerSize+a.declaredLength()]
	if got, want := a.raw[len(a.raw)-1], Checksum(payload); got != want {
		return nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksum, got, want)
	}
	return payload, nil
}
