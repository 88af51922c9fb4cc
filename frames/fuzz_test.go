package frames

import (
	"bytes"
	"testing"
)

// FuzzAssembler feeds arbitrary bytes through an Assembler. The assembler
// must never panic regardless of input, and Parse must only succeed when
// the checksum actually validates.
func FuzzAssembler(f *testing.F) {
	f.Add([]byte{0x7E, 0x00, 0x02, 0x23, 0x41, 0x9B})
	f.Add([]byte{0x7E, 0x00, 0x00, 0xFF})
	f.Add([]byte{0x7E, 0xFF, 0xFF})
	f.Add([]byte{})
	f.Add([]byte{0x00, 0x01, 0x02})

	f.Fuzz(func(t *testing.T, data []byte) {
		asm := NewAssembler(0)
		for _, b := range data {
			if asm.Remaining() <= 0 {
				break
			}
			if err := asm.Fill(b); err != nil {
				return
			}
		}
		if asm.Remaining() > 0 {
			if _, err := asm.Parse(); err != ErrIncomplete {
				t.Fatalf("Parse on incomplete frame = %v, want ErrIncomplete", err)
			}
			return
		}
		payload, err := asm.Parse()
		if err != nil {
			return
		}
		if Checksum(payload) != data[len(payload)+3] {
			t.Fatalf("Parse accepted payload % X with bad checksum", payload)
		}
	})
}

// FuzzEscapeRoundTrip verifies that escaping and unescaping reproduce any
// payload exactly.
func FuzzEscapeRoundTrip(f *testing.F) {
	f.Add([]byte{StartByte, EscapeByte, XOn, XOff})
	f.Add([]byte("hello world"))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		if got := Unescape(Escape(data)); !bytes.Equal(got, data) {
			t.Fatalf("round trip mismatch: % X -> % X", data, got)
		}
	})
}

// FuzzEncodeAssemble verifies that any payload encoded for the wire is
// reassembled bit-exact by the Assembler in both transmission modes.
func FuzzEncodeAssemble(f *testing.F) {
	f.Add([]byte{0x23, 0x41}, false)
	f.Add([]byte{StartByte, EscapeByte, XOn, XOff}, true)
	f.Add([]byte{}, true)

	f.Fuzz(func(t *testing.T, payload []byte, escaped bool) {
		if len(payload) > DefaultMaxPayloadSize {
			payload = payload[:DefaultMaxPayloadSize]
		}
		wire := Encode(payload, escaped)
		if escaped {
			// Logical bytes: the start marker stays, the rest unescapes.
			wire = append([]byte{wire[0]}, Unescape(wire[1:])...)
		}

		asm := NewAssembler(0)
		for _, b := range wire {
			if err := asm.Fill(b); err != nil {
				t.Fatalf("Fill failed: %v", err)
			}
		}
		got, err := asm.Parse()
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("payload mismatch: % X, want % X", got, payload)
		}
	})
}
