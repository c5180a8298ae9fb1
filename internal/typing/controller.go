// Package typing implements outgoing typing signals with an idle timeout and
// the set of remote users currently typing.
package typing

import (
	"sync"
	"time"
)

// DefaultIdle is how long a conversation stays "typing" after the last
// keystroke.
const DefaultIdle = 3 * time.Second

// Timer is a cancellable scheduled task.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Signal is called with the conversation id when the controller decides to
// emit typing-start (typing=true) or typing-stop (typing=false).
type Signal func(conversationID string, typing bool)

type pending struct {
	timer Timer
	gen   uint64
}

// Controller debounces outgoing typing signals per conversation. The first
// Start emits typing-start; later Starts only re-arm the idle timer. Idle
// expiry or Stop emits exactly one typing-stop.
type Controller struct {
	mu     sync.Mutex
	idle   time.Duration
	sched  Scheduler
	signal Signal
	active map[string]*pending
	gen    uint64
}

// NewController creates a controller. A zero idle uses DefaultIdle and a nil
// scheduler uses the wall clock.
func NewController(signal Signal, idle time.Duration, sched Scheduler) *Controller {
	if idle <= 0 {
		idle = DefaultIdle
	}
	if sched == nil {
		sched = realScheduler{}
	}
	return &Controller{
		idle:   idle,
		sched:  sched,
		signal: signal,
		active: make(map[string]*pending),
	}
}

// Start marks the local user as typing in conversationID.
func (c *Controller) Start(conversationID string) {
	if conversationID == "" {
		return
	}
	c.mu.Lock()
	p, typing := c.active[conversationID]
	if typing {
		p.timer.Stop()
	} else {
		p = &pending{}
		c.active[conversationID] = p
	}
	c.gen++
	gen := c.gen
	p.gen = gen
	p.timer = c.sched.AfterFunc(c.idle, func() { c.expire(conversationID, gen) })
	c.mu.Unlock()

	if !typing {
		c.signal(conversationID, true)
	}
}

// Stop emits typing-stop for conversationID if the local user is typing
// there. It is a no-op otherwise.
func (c *Controller) Stop(conversationID string) {
	c.mu.Lock()
	p, typing := c.active[conversationID]
	if typing {
		p.timer.Stop()
		delete(c.active, conversationID)
	}
	c.mu.Unlock()

	if typing {
		c.signal(conversationID, false)
	}
}

// StopAll stops typing in every conversation, used on teardown.
func (c *Controller) StopAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.active))
	for id, p := range c.active {
		p.timer.Stop()
		ids = append(ids, id)
	}
	clear(c.active)
	c.mu.Unlock()

	for _, id := range ids {
		c.signal(id, false)
	}
}

// expire fires from the idle timer. A stale generation means Start re-armed
// or Stop ran after this timer was scheduled.
func (c *Controller) expire(conversationID string, gen uint64) {
	c.mu.Lock()
	p, ok := c.active[conversationID]
	if !ok || p.gen != gen {
		c.mu.Unlock()
		return
	}
	delete(c.active, conversationID)
	c.mu.Unlock()

	c.signal(conversationID, false)
}
