package xbee

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jimmo/go-xbee/api"
	"github.com/jimmo/go-xbee/delivery"
	"github.com/jimmo/go-xbee/demux"
	"github.com/jimmo/go-xbee/frames"
)

var (
	// ErrConnectionLost is recorded when the transport signals permanent
	// closure. Pending and future reads fail with delivery.ErrHalted;
	// Err() exposes the cause.
	ErrConnectionLost = errors.New("serial connection lost")
	// ErrPushMode is returned by WaitReadFrame on a driver constructed
	// with a frame callback; the pull path is unavailable in push mode.
	ErrPushMode = errors.New("driver is in push mode")
)

// Logger is an optional interface for debug logging.
// If not set, no logging is performed.
type Logger interface {
	// Printf formats and logs a debug message.
	Printf(format string, v ...interface{})
}

// Protocol is the event interface a transport drives. The transport calls
// DataReceived from a single goroutine with chunks of arbitrary non-zero
// size, ConnectionLost exactly once on permanent failure, and the buffer
// watermark hooks when its write buffer crosses its thresholds.
type Protocol interface {
	DataReceived(p []byte)
	ConnectionLost(err error)
	BufferHigh()
	BufferLow()
}

// FlowController is optionally implemented by transports that can pause
// byte consumption. When the transport implements it, the driver wires it
// to the delivery backlog watermarks so a slow consumer actually slows
// the wire instead of growing memory.
type FlowController interface {
	PauseReading()
	ResumeReading()
}

// Option configures a Driver.
type Option func(*Driver)

// WithEscaped enables escaped-mode (API mode 2) operation. This must
// match the api_mode setting of the attached module.
func WithEscaped() Option {
	return func(d *Driver) { d.escaped = true }
}

// WithCallback switches the driver permanently into push mode: cb
// receives every frame synchronously in arrival order.
func WithCallback(cb func(*api.Frame)) Option {
	return func(d *Driver) { d.callback = cb }
}

// WithErrorCallback registers a receiver for recoverable parse errors
// (checksum and length corruption). Without it such errors are logged.
func WithErrorCallback(cb func(error)) Option {
	return func(d *Driver) { d.errCallback = cb }
}

// WithMaxPayloadSize bounds the declared payload length accepted from the
// wire. Defaults to frames.DefaultMaxPayloadSize.
func WithMaxPayloadSize(n int) Option {
	return func(d *Driver) { d.maxPayload = n }
}

// WithMaxBacklog bounds the pull-mode backlog. Defaults to
// delivery.DefaultMaxBacklog.
func WithMaxBacklog(n int) Option {
	return func(d *Driver) { d.maxBacklog = n }
}

// WithSplit overrides the split step applied to validated payloads.
func WithSplit(split api.SplitFunc) Option {
	return func(d *Driver) { d.split = split }
}

// WithLogger sets the logger for debug logging.
func WithLogger(logger Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithSlogLogger routes debug logging to a structured slog logger.
func WithSlogLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = slogAdapter{logger} }
}

type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Printf(format string, v ...interface{}) {
	a.l.Debug(fmt.Sprintf(format, v...))
}

// Stats aggregates the pipeline counters.
type Stats struct {
	Demux    demux.Stats
	Delivery delivery.Stats
}

// Driver composes the frame pipeline over a transport: bytes pushed into
// DataReceived flow through the demultiplexer and assembler and come out
// of WaitReadFrame (pull mode) or the registered callback (push mode).
type Driver struct {
	id        uuid.UUID
	transport io.Writer
	escaped   bool

	maxPayload int
	maxBacklog int
	split      api.SplitFunc

	callback    func(*api.Frame)
	errCallback func(error)
	logger      Logger

	mux     *demux.Demultiplexer
	channel *delivery.Channel

	mu      sync.Mutex
	lostErr error
}

// New creates a Driver writing outbound frames to transport. Without
// WithCallback the driver operates in pull mode. If the transport
// implements FlowController it is wired to the backlog watermarks.
func New(transport io.Writer, opts ...Option) *Driver {
	d := &Driver{
		id:        uuid.New(),
		transport: transport,
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.callback != nil {
		d.channel = delivery.NewPush(d.callback)
	} else {
		d.channel = delivery.NewPull(d.maxBacklog)
		if fc, ok := transport.(FlowController); ok {
			d.channel.SetFlowControl(fc.PauseReading, fc.ResumeReading)
		}
	}

	d.mux = demux.New(demux.Config{
		Escaped:    d.escaped,
		MaxPayload: d.maxPayload,
		Split:      d.split,
	}, d.channel.Deliver, d.handleParseError)

	d.logf("driver %s starting (escaped=%v, mode=%v)", d.id, d.escaped, d.channel.Mode())
	return d
}

// ID returns the driver's instance identifier, useful for correlating
// log output when several links are open.
func (d *Driver) ID() uuid.UUID {
	return d.id
}

// WaitReadFrame pulls the next frame, suspending until one arrives, ctx
// is cancelled, or the driver halts. Pull mode only; at most one call may
// be outstanding at a time.
func (d *Driver) WaitReadFrame(ctx context.Context) (*api.Frame, error) {
	if d.channel.Mode() == delivery.ModePush {
		return nil, ErrPushMode
	}
	frame, err := d.channel.Next(ctx)
	if errors.Is(err, delivery.ErrHalted) {
		if lost := d.Err(); lost != nil {
			return nil, fmt.Errorf("%w: %w", err, lost)
		}
	}
	return frame, err
}

// Send validates nothing about the payload's meaning; it frames it,
// applies escaped-mode stuffing when enabled, and writes it out.
func (d *Driver) Send(payload []byte) error {
	if len(payload) > 0xFFFF {
		return fmt.Errorf("payload too large: %d bytes", len(payload))
	}
	if _, err := d.transport.Write(frames.Encode(payload, d.escaped)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Halt terminates the driver: the suspended read (if any) is released
// with delivery.ErrHalted and future reads are rejected. Idempotent.
func (d *Driver) Halt() {
	d.logf("driver %s halting", d.id)
	d.channel.Halt()
}

// Err returns the terminal transport error after connection loss, or nil.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lostErr
}

// DataReceived implements Protocol. The transport's reader goroutine is
// the only caller; chunk processing and delivery happen inline on it.
func (d *Driver) DataReceived(p []byte) {
	d.mux.Receive(p)
}

// ConnectionLost implements Protocol: the transport is permanently gone,
// so the driver halts and pending reads fail.
func (d *Driver) ConnectionLost(err error) {
	d.mu.Lock()
	if d.lostErr == nil {
		if err != nil {
			d.lostErr = fmt.Errorf("%w: %w", ErrConnectionLost, err)
		} else {
			d.lostErr = ErrConnectionLost
		}
	}
	d.mu.Unlock()

	d.logf("driver %s connection lost: %v", d.id, err)
	d.channel.Halt()
}

// BufferHigh implements Protocol: the transport's write buffer crossed
// its high watermark. The driver only records the condition; outbound
// throttling is the caller's policy.
func (d *Driver) BufferHigh() {
	d.logf("driver %s transport write buffer high", d.id)
}

// BufferLow implements Protocol: the transport's write buffer drained.
func (d *Driver) BufferLow() {
	d.logf("driver %s transport write buffer low", d.id)
}

// Stats returns a snapshot of the pipeline counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Demux:    d.mux.Stats(),
		Delivery: d.channel.Stats(),
	}
}

// handleParseError routes recoverable framing errors: to the error
// callback when registered, to the logger otherwise. Such errors never
// interrupt the stream.
func (d *Driver) handleParseError(err error) {
	if d.errCallback != nil {
		d.errCallback(err)
		return
	}
	d.logf("driver %s recoverable frame error: %v", d.id, err)
}

// logf logs a debug message if a logger is configured.
func (d *Driver) logf(format string, v ...interface{}) {
	if d.logger != nil {
		d.logger.Printf(format, v...)
	}
}
