// Package serialport adapts a local serial port to the driver's transport
// contract: it owns the single reader goroutine that pushes received
// chunks into the attached Protocol, honors pause/resume flow control
// from the delivery backlog, and reports permanent failure as a
// connection-lost event.
//
// The adapter works over any io.ReadWriteCloser, so tests and serial-
// over-TCP setups can reuse it; Open is the convenience path for a real
// device via go.bug.st/serial.
package serialport

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	xbee "github.com/jimmo/go-xbee"
)

// DefaultReadBufferSize is the reader goroutine's per-Read chunk size.
const DefaultReadBufferSize = 512

// Config describes the serial line settings. Zero values select 9600 8N1
// with the default read buffer.
type Config struct {
	BaudRate       int
	DataBits       int
	Parity         serial.Parity
	StopBits       serial.StopBits
	ReadBufferSize int
}

// Port is a transport over one serial line. It implements io.Writer for
// the driver's outbound path and xbee.FlowController so a full delivery
// backlog pauses byte consumption at the wire.
type Port struct {
	rw       io.ReadWriteCloser
	readSize int

	mu       sync.Mutex
	cond     *sync.Cond
	paused   bool
	closed   bool
	attached bool
}

// Open opens the named device and wraps it in a Port.
func Open(device string, cfg Config) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   cfg.Parity,
		StopBits: cfg.StopBits,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = 9600
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}

	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	return New(p, cfg.ReadBufferSize), nil
}

// New wraps an already-open byte stream in a Port. A readBufferSize of 0
// selects DefaultReadBufferSize.
func New(rw io.ReadWriteCloser, readBufferSize int) *Port {
	if readBufferSize <= 0 {
		readBufferSize = DefaultReadBufferSize
	}
	p := &Port{rw: rw, readSize: readBufferSize}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Attach starts the reader goroutine delivering chunks to proto. It may
// be called once per Port.
func (p *Port) Attach(proto xbee.Protocol) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attached {
		return fmt.Errorf("port already attached")
	}
	p.attached = true
	go p.readLoop(proto)
	return nil
}

// Write sends raw bytes down the line.
func (p *Port) Write(b []byte) (int, error) {
	return p.rw.Write(b)
}

// PauseReading implements xbee.FlowController: the reader goroutine stops
// consuming bytes, letting the line's own flow control push back.
func (p *Port) PauseReading() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// ResumeReading implements xbee.FlowController.
func (p *Port) ResumeReading() {
	p.mu.Lock()
	p.paused = false
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Close shuts the port down. The reader goroutine reports connection loss
// to the attached protocol and exits.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	return p.rw.Close()
}

// readLoop is the single producer of the frame pipeline. It exits on the
// first read error, signalling ConnectionLost exactly once.
func (p *Port) readLoop(proto xbee.Protocol) {
	buf := make([]byte, p.readSize)
	for {
		p.mu.Lock()
		for p.paused && !p.closed {
			p.cond.Wait()
		}
		closed := p.closed
		p.mu.Unlock()
		if closed {
			proto.ConnectionLost(nil)
			return
		}

		n, err := p.rw.Read(buf)
		if n > 0 {
			proto.DataReceived(buf[:n])
		}
		if err != nil {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if closed || err == io.EOF {
				proto.ConnectionLost(nil)
			} else {
				proto.ConnectionLost(err)
			}
			return
		}
	}
}
