// Package demux reconstructs frames from an unframed serial byte stream.
//
// The transport delivers chunks of arbitrary size at arbitrary times: a
// chunk may hold several frames, a fraction of one, or pure noise. The
// Demultiplexer owns the residual bytes between deliveries, scans for the
// start marker to (re)gain frame alignment, performs escaped-mode
// decoding inline, and feeds logical bytes to one frames.Assembler at a
// time. Completed payloads are split and handed to a sink; corrupt frames
// are discarded and reported through an error sink, and the stream
// resynchronizes on the next start marker.
//
// Receive is strictly re-entrant across chunk boundaries: a frame may be
// cut anywhere, including inside the length field, the checksum byte or a
// 2-byte escape sequence.
//
// Memory stays bounded without a separate buffer cap: marker-free noise
// is discarded as soon as it arrives (a later byte can never turn earlier
// bytes into a start marker), and an in-progress frame is capped by the
// assembler's declared-length bound.
package demux

import (
	"github.com/jimmo/go-xbee/api"
	"github.com/jimmo/go-xbee/frames"
)

// Sink receives each completed frame.
type Sink func(*api.Frame)

// ErrorSink receives recoverable parse errors (checksum and length
// corruption). Errors reported here never stop the stream.
type ErrorSink func(error)

// Stats is a snapshot of demultiplexer counters.
type Stats struct {
	// FramesDelivered counts frames handed to the sink.
	FramesDelivered uint64
	// ChecksumErrors counts frames discarded for checksum mismatch.
	ChecksumErrors uint64
	// LengthErrors counts frames discarded for an out-of-bounds length.
	LengthErrors uint64
	// EmptyFrames counts validated frames with zero-length payloads,
	// which carry nothing deliverable.
	EmptyFrames uint64
	// BytesDiscarded counts noise bytes dropped during resynchronization.
	BytesDiscarded uint64
}

// Config controls a Demultiplexer.
type Config struct {
	// Escaped enables escaped-mode (API mode 2) decoding.
	Escaped bool
	// MaxPayload bounds declared frame lengths; 0 selects
	// frames.DefaultMaxPayloadSize.
	MaxPayload int
	// Split derives the delivered frame from a validated payload;
	// nil selects api.Split.
	Split api.SplitFunc
}

// Demultiplexer glues the transport byte stream to a sequence of frame
// assemblers. It is not safe for concurrent use: the transport's single
// reader goroutine owns it, matching the one-producer model of the wire.
type Demultiplexer struct {
	cfg  Config
	sink Sink
	errs ErrorSink

	// Residual bytes not yet consumed: pre-marker noise or the prefix of
	// the next frame.
	buf []byte

	// In-progress frame state. asm is nil when no frame is in progress.
	// escapePending survives chunk boundaries: a chunk may end exactly on
	// an escape marker.
	asm           *frames.Assembler
	escapePending bool

	stats Stats
}

// New creates a Demultiplexer delivering completed frames to sink and
// recoverable errors to errs. Both sinks may be nil.
func New(cfg Config, sink Sink, errs ErrorSink) *Demultiplexer {
	if cfg.Split == nil {
		cfg.Split = api.Split
	}
	return &Demultiplexer{cfg: cfg, sink: sink, errs: errs}
}

// Receive processes one chunk of transport bytes. It consumes every
// complete frame the chunk finishes and retains only an in-progress
// frame's state for the next call.
func (d *Demultiplexer) Receive(data []byte) {
	d.buf = append(d.buf, data...)

	for {
		if d.asm == nil && !d.resync() {
			return
		}

		if !d.feed() {
			if d.asm != nil {
				// Frame genuinely needs bytes the buffer does not have.
				return
			}
			// Corrupt length: the frame was abandoned, rescan the
			// leftover bytes for the next start marker now rather than
			// stalling until the next chunk.
			continue
		}

		d.finish()
	}
}

// resync discards noise preceding the start marker and begins a new
// frame. It returns false when no marker is present, in which case the
// whole buffer is noise and is dropped.
func (d *Demultiplexer) resync() bool {
	for i, b := range d.buf {
		if b == frames.StartByte {
			d.stats.BytesDiscarded += uint64(i)
			d.buf = d.buf[i:]
			d.asm = frames.NewAssembler(d.cfg.MaxPayload)
			d.escapePending = false
			return true
		}
	}
	d.stats.BytesDiscarded += uint64(len(d.buf))
	d.buf = d.buf[:0]
	return false
}

// feed moves buffered bytes into the current assembler, unescaping
// inline when escaped mode is active. It returns true once the frame is
// complete. On a corrupt length the frame is abandoned, the assembler is
// reset, and feed returns false with the unconsumed bytes left buffered.
func (d *Demultiplexer) feed() bool {
	i := 0
	for i < len(d.buf) && d.asm.Remaining() > 0 {
		b := d.buf[i]
		i++

		if d.escapePending {
			b ^= frames.EscapeMask
			d.escapePending = false
		} else if d.cfg.Escaped && b == frames.EscapeByte {
			d.escapePending = true
			continue
		}

		if err := d.asm.Fill(b); err != nil {
			d.stats.LengthErrors++
			d.report(err)
			d.buf = d.buf[i:]
			d.reset()
			return false
		}
	}
	d.buf = d.buf[i:]
	return d.asm.Remaining() == 0
}

// finish validates the completed frame, splits it and delivers it. All
// corruption is handled locally; the demultiplexer always returns to the
// "no frame in progress" state.
func (d *Demultiplexer) finish() {
	defer d.reset()

	payload, err := d.asm.Parse()
	if err != nil {
		d.stats.ChecksumErrors++
		d.report(err)
		return
	}

	frame, err := d.cfg.Split(payload)
	if err != nil {
		// Zero-length payloads validate but carry nothing to deliver.
		d.stats.EmptyFrames++
		return
	}

	d.stats.FramesDelivered++
	if d.sink != nil {
		d.sink(frame)
	}
}

// reset atomically clears all in-progress frame state.
func (d *Demultiplexer) reset() {
	d.asm = nil
	d.escapePending = false
}

// report forwards a recoverable error to the error sink, if any.
func (d *Demultiplexer) report(err error) {
	if d.errs != nil {
		d.errs(err)
	}
}

// Stats returns a snapshot of the demultiplexer counters.
func (d *Demultiplexer) Stats() Stats {
	return d.stats
}
