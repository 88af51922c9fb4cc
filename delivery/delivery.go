// Package delivery hands completed frames to exactly one consumer.
//
// A Channel operates in one of two modes, fixed at construction:
//
//   - Push: a callback registered at construction receives every frame
//     synchronously, in arrival order. The backlog and waiter are unused.
//   - Pull: consumers call Next to receive frames one at a time. Frames
//     arriving with no consumer waiting accumulate in a bounded FIFO
//     backlog; a consumer arriving with an empty backlog suspends as the
//     channel's single waiter until the next frame arrives, the context
//     is cancelled, or the channel halts.
//
// At most one pull request may be outstanding at a time; a second
// concurrent Next call is a usage error. Frames are never reordered,
// duplicated or silently lost: a frame that races with a cancelled waiter
// is redirected to the backlog.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jimmo/go-xbee/api"
)

// DefaultMaxBacklog bounds the number of frames held for a slow pull
// consumer. When the backlog is full the oldest frame is dropped and
// counted in Stats.Dropped.
const DefaultMaxBacklog = 1024

var (
	// ErrHalted is returned to pending and future pull requests after
	// Halt has been called.
	ErrHalted = errors.New("delivery channel halted")
	// ErrConcurrentWaiter is returned when a pull request is made while
	// another is already outstanding.
	ErrConcurrentWaiter = errors.New("a pull request is already outstanding")
)

// Mode selects how a Channel delivers frames.
type Mode int

const (
	// ModePull delivers frames through Next.
	ModePull Mode = iota
	// ModePush delivers frames through a registered callback.
	ModePush
)

// String returns a display name for the mode.
func (m Mode) String() string {
	switch m {
	case ModePull:
		return "pull"
	case ModePush:
		return "push"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// Callback receives frames in push mode.
type Callback func(*api.Frame)

// Stats is a snapshot of channel counters.
type Stats struct {
	// Delivered counts frames handed to a consumer (callback, waiter or
	// backlog pickup).
	Delivered uint64
	// Dropped counts frames discarded because the backlog overflowed or
	// the channel had already halted.
	Dropped uint64
}

// Channel arbitrates between a push callback, a single pull waiter and a
// bounded FIFO backlog. The producer side (Deliver) and the consumer side
// (Next) may run on different goroutines; all shared state is guarded by
// one mutex.
type Channel struct {
	mu   sync.Mutex
	mode Mode

	callback Callback

	backlog    []*api.Frame
	maxBacklog int

	// waiter is non-nil while exactly one Next call is suspended. The
	// channel is buffered so Deliver never blocks on fulfillment.
	waiter chan *api.Frame

	halted bool
	done   chan struct{}

	// Flow control: pause fires when the backlog crosses highWater,
	// resume when it drains back below lowWater.
	pause, resume func()
	highWater     int
	lowWater      int
	flowPaused    bool

	stats Stats
}

// NewPull creates a pull-mode channel with the given backlog bound.
// A maxBacklog of 0 selects DefaultMaxBacklog.
func NewPull(maxBacklog int) *Channel {
	if maxBacklog <= 0 {
		maxBacklog = DefaultMaxBacklog
	}
	return &Channel{
		mode:       ModePull,
		maxBacklog: maxBacklog,
		highWater:  maxBacklog - maxBacklog/4,
		lowWater:   maxBacklog / 4,
		done:       make(chan struct{}),
	}
}

// NewPush creates a push-mode channel delivering every frame to cb.
func NewPush(cb Callback) *Channel {
	return &Channel{
		mode:     ModePush,
		callback: cb,
		done:     make(chan struct{}),
	}
}

// Mode returns the channel's delivery mode.
func (c *Channel) Mode() Mode {
	return c.mode
}

// SetFlowControl registers hooks invoked when the backlog crosses its
// high and low watermarks. A transport can use these to pause and resume
// byte consumption. Pull mode only; must be set before frames flow.
func (c *Channel) SetFlowControl(pause, resume func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pause = pause
	c.resume = resume
}

// Deliver hands one completed frame to the channel. In push mode the
// callback runs synchronously on the caller's goroutine, preserving
// arrival order. In pull mode the frame fulfills the waiter if one is
// suspended, otherwise it joins the backlog. Frames delivered after Halt
// are dropped and counted.
func (c *Channel) Deliver(frame *api.Frame) {
	c.mu.Lock()

	if c.halted {
		c.stats.Dropped++
		c.mu.Unlock()
		return
	}

	if c.mode == ModePush {
		cb := c.callback
		c.stats.Delivered++
		c.mu.Unlock()
		cb(frame)
		return
	}

	if c.waiter != nil {
		c.waiter <- frame
		c.waiter = nil
		c.stats.Delivered++
		c.mu.Unlock()
		return
	}

	if len(c.backlog) >= c.maxBacklog {
		c.backlog = c.backlog[1:]
		c.stats.Dropped++
	}
	c.backlog = append(c.backlog, frame)

	var pause func()
	if !c.flowPaused && c.pause != nil && len(c.backlog) >= c.highWater {
		c.flowPaused = true
		pause = c.pause
	}
	c.mu.Unlock()

	if pause != nil {
		pause()
	}
}

// Next returns the next frame, oldest first. With an empty backlog it
// suspends until Deliver fulfills it, ctx is cancelled, or the channel
// halts. Only one Next call may be outstanding at a time.
func (c *Channel) Next(ctx context.Context) (*api.Frame, error) {
	c.mu.Lock()

	if c.halted {
		c.mu.Unlock()
		return nil, ErrHalted
	}

	if len(c.backlog) > 0 {
		frame := c.popLocked()
		resume := c.resumeHookLocked()
		c.mu.Unlock()
		if resume != nil {
			resume()
		}
		return frame, nil
	}

	if c.waiter != nil {
		c.mu.Unlock()
		return nil, ErrConcurrentWaiter
	}

	ch := make(chan *api.Frame, 1)
	c.waiter = ch
	c.mu.Unlock()

	select {
	case frame := <-ch:
		return frame, nil
	case <-ctx.Done():
		return nil, c.cancelWaiter(ch, ctx.Err())
	case <-c.done:
		// A frame matched to this waiter just before the halt still
		// belongs to the consumer.
		select {
		case frame := <-ch:
			return frame, nil
		default:
		}
		return nil, ErrHalted
	}
}

// cancelWaiter clears the waiter slot after a cancellation. If Deliver
// already matched a frame to the waiter, the frame is redirected to the
// front of the backlog so it is not lost and FIFO order is preserved.
func (c *Channel) cancelWaiter(ch chan *api.Frame, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.waiter == ch {
		c.waiter = nil
	}
	select {
	case frame := <-ch:
		c.stats.Delivered--
		c.backlog = append([]*api.Frame{frame}, c.backlog...)
	default:
	}
	return cause
}

// popLocked removes and returns the oldest backlog frame. Caller holds mu.
func (c *Channel) popLocked() *api.Frame {
	frame := c.backlog[0]
	c.backlog[0] = nil
	c.backlog = c.backlog[1:]
	c.stats.Delivered++
	return frame
}

// resumeHookLocked returns the resume hook if the backlog just drained
// below the low watermark. Caller holds mu.
func (c *Channel) resumeHookLocked() func() {
	if c.flowPaused && c.resume != nil && len(c.backlog) <= c.lowWater {
		c.flowPaused = false
		return c.resume
	}
	return nil
}

// Halt shuts the channel down: the suspended waiter (if any) is released
// with ErrHalted, future Next calls fail with ErrHalted, and frames
// delivered afterwards are dropped. Halt is idempotent.
func (c *Channel) Halt() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halted {
		return
	}
	c.halted = true
	close(c.done)
}

// Backlog returns the number of frames awaiting pickup.
func (c *Channel) Backlog() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.backlog)
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
