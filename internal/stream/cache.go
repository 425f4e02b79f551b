package stream

import "sync"

// State distinguishes "no frame yet" from "frame available" from "session
// over". A nullable frame alone cannot tell the first from the last.
type State int

const (
	StateWaiting State = iota
	StateLive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateLive:
		return "live"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Snapshot is the consumer view of the cache at one instant. After the
// session ends the last published frame remains readable and Err carries the
// terminal error, if the session did not end cleanly.
type Snapshot struct {
	State State
	Frame Frame
	Err   error
}

// Cache is the single-slot, overwrite-on-publish store bridging the producer
// goroutine and consumer polls. Publish is called only by the producer; Read
// by any consumer. Last write wins: a fast producer overwrites frames the
// consumer never sees.
type Cache struct {
	mu    sync.RWMutex
	state State
	frame Frame
	err   error
}

func NewCache() *Cache {
	return &Cache{state: StateWaiting}
}

// Publish overwrites the slot with a newer frame. Publishing to an ended
// cache is a no-op.
func (c *Cache) Publish(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateEnded {
		return
	}
	c.frame = f
	c.state = StateLive
}

// Read returns the current snapshot without blocking.
func (c *Cache) Read() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{State: c.state, Frame: c.frame, Err: c.err}
}

// Close marks the session over. err is nil for a clean end of stream.
// Close is idempotent; the first terminal error sticks.
func (c *Cache) Close(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateEnded {
		return
	}
	c.state = StateEnded
	c.err = err
}
