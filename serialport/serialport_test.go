package serialport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	xbee "github.com/jimmo/go-xbee"
	"github.com/jimmo/go-xbee/delivery"
	"github.com/jimmo/go-xbee/frames"
)

// pipeStream is an in-memory stand-in for a serial device: reads come
// from one pipe, writes go to another.
type pipeStream struct {
	r *io.PipeReader
	w *io.PipeWriter

	feed *io.PipeWriter
	echo *io.PipeReader
}

func newPipeStream() *pipeStream {
	r, feed := io.Pipe()
	echo, w := io.Pipe()
	return &pipeStream{r: r, w: w, feed: feed, echo: echo}
}

func (s *pipeStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *pipeStream) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *pipeStream) Close() error {
	s.r.Close()
	s.w.Close()
	return nil
}

func TestReadPumpDeliversFrames(t *testing.T) {
	stream := newPipeStream()
	port := New(stream, 0)
	drv := xbee.New(port)
	if err := port.Attach(drv); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer port.Close()

	go func() {
		// Split the frame across two writes to exercise reassembly
		// through the pump.
		wire := frames.Encode([]byte{0x8A, 0x00}, false)
		stream.feed.Write(wire[:3])
		stream.feed.Write(wire[3:])
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := drv.WaitReadFrame(ctx)
	if err != nil {
		t.Fatalf("WaitReadFrame failed: %v", err)
	}
	if frame.Type != 0x8A || !bytes.Equal(frame.Data, []byte{0x00}) {
		t.Errorf("frame = %v % X", frame.Type, frame.Data)
	}
}

func TestDoubleAttachRejected(t *testing.T) {
	stream := newPipeStream()
	port := New(stream, 0)
	defer port.Close()

	drv := xbee.New(port)
	if err := port.Attach(drv); err != nil {
		t.Fatalf("first Attach failed: %v", err)
	}
	if err := port.Attach(drv); err == nil {
		t.Fatal("second Attach succeeded")
	}
}

func TestPauseStopsConsumption(t *testing.T) {
	stream := newPipeStream()
	port := New(stream, 0)
	drv := xbee.New(port)

	// Pausing before the pump starts parks it deterministically before
	// its first read.
	port.PauseReading()
	if err := port.Attach(drv); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer port.Close()

	wrote := make(chan struct{})
	go func() {
		stream.feed.Write(frames.Encode([]byte{0x8A, 0x01}, false))
		close(wrote)
	}()

	// While paused the pump must not pick the frame up.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := drv.WaitReadFrame(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitReadFrame while paused = %v, want deadline exceeded", err)
	}

	port.ResumeReading()
	<-wrote

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	frame, err := drv.WaitReadFrame(ctx2)
	if err != nil {
		t.Fatalf("WaitReadFrame after resume failed: %v", err)
	}
	if frame.Data[0] != 0x01 {
		t.Errorf("frame body = % X, want 01", frame.Data)
	}
}

func TestCloseSignalsConnectionLost(t *testing.T) {
	stream := newPipeStream()
	port := New(stream, 0)
	drv := xbee.New(port)
	if err := port.Attach(drv); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	errs := make(chan error, 1)
	go func() {
		_, err := drv.WaitReadFrame(context.Background())
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := port.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-errs:
		if !errors.Is(err, delivery.ErrHalted) {
			t.Fatalf("WaitReadFrame = %v, want ErrHalted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitReadFrame hung after Close")
	}

	// Close is idempotent.
	if err := port.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestFeedErrorPropagates(t *testing.T) {
	stream := newPipeStream()
	port := New(stream, 0)
	drv := xbee.New(port)
	if err := port.Attach(drv); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer port.Close()

	cause := errors.New("line noise killed the UART")
	stream.feed.CloseWithError(cause)

	errs := make(chan error, 1)
	go func() {
		_, err := drv.WaitReadFrame(context.Background())
		errs <- err
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, xbee.ErrConnectionLost) {
			t.Fatalf("WaitReadFrame = %v, want ErrConnectionLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read error never surfaced")
	}

	if !errors.Is(drv.Err(), cause) {
		t.Errorf("Err() = %v, want wrapped %v", drv.Err(), cause)
	}
}
