// Package presence turns local composing activity into typing signals and
// tracks the typing state of remote identities.
package presence

import (
	"sync"
	"time"
)

// DefaultTimeout is the silence after which a typing=false signal is sent.
const DefaultTimeout = 2 * time.Second

// Emitter receives the outbound typing signals. It is called without the
// debouncer's lock held and may call back into the Debouncer; signals are
// delivered one at a time in the order they were decided.
type Emitter func(roomID string, typing bool)

type signal struct {
	room   string
	typing bool
}

// Debouncer collapses a stream of activity ticks into one typing=true and one
// typing=false signal.
type Debouncer struct {
	mu      sync.Mutex
	clock   Clock
	timeout time.Duration
	emit    Emitter

	timer Timer
	gen   uint64
	room  string
	sent  bool

	queue    []signal
	draining bool
}

func NewDebouncer(clock Clock, timeout time.Duration, emit Emitter) *Debouncer {
	if clock == nil {
		clock = RealClock{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Debouncer{clock: clock, timeout: timeout, emit: emit}
}

// Tick records local activity in roomID. The first tick since the last false
// emits typing=true; every tick restarts the silence timer. Activity in a
// different room first closes the outstanding signal of the previous room.
func (d *Debouncer) Tick(roomID string) {
	d.mu.Lock()
	if d.sent && d.room != roomID {
		d.sent = false
		d.push(d.room, false)
	}
	if !d.sent {
		d.sent = true
		d.room = roomID
		d.push(roomID, true)
	}
	d.arm()
	d.mu.Unlock()

	d.drain()
}

// Cancel stops the timer and emits typing=false if a true is outstanding.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	d.disarm()
	if d.sent {
		d.sent = false
		d.push(d.room, false)
	}
	d.mu.Unlock()

	d.drain()
}

// Outstanding reports whether a typing=true has been sent without its false.
func (d *Debouncer) Outstanding() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent
}

func (d *Debouncer) push(roomID string, typing bool) {
	d.queue = append(d.queue, signal{room: roomID, typing: typing})
}

// drain emits queued signals outside the lock. A call made while another
// goroutine, or an emit further up the stack, is draining leaves its signals
// to that drainer.
func (d *Debouncer) drain() {
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	d.draining = true
	defer func() {
		d.draining = false
		d.mu.Unlock()
	}()

	for len(d.queue) > 0 {
		sig := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		d.emit(sig.room, sig.typing)
		d.mu.Lock()
	}
}

func (d *Debouncer) arm() {
	d.disarm()
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.timeout, func() { d.expire(gen) })
}

// disarm invalidates any pending callback, including one that already fired
// and is waiting for the lock.
func (d *Debouncer) disarm() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

func (d *Debouncer) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.sent {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.sent = false
	d.push(d.room, false)
	d.mu.Unlock()

	d.drain()
}
