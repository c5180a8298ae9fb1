package typing

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manual Scheduler. Advance fires due tasks in order.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.tasks = append(c.tasks, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.tasks {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

type signalLog struct {
	mu    sync.Mutex
	calls []signalCall
}

type signalCall struct {
	conv   string
	typing bool
}

func (l *signalLog) record(conv string, typing bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, signalCall{conv, typing})
}

func (l *signalLog) count(conv string, typing bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c.conv == conv && c.typing == typing {
			n++
		}
	}
	return n
}

func newTestController() (*Controller, *fakeClock, *signalLog) {
	clock := &fakeClock{}
	log := &signalLog{}
	return NewController(log.record, 0, clock), clock, log
}

func TestIdleTimeoutEmitsOneStop(t *testing.T) {
	c, clock, log := newTestController()

	c.Start("conv-123")
	clock.Advance(3500 * time.Millisecond)

	if n := log.count("conv-123", false); n != 1 {
		t.Errorf("typing-stop emitted %d times, want 1", n)
	}
	clock.Advance(10 * time.Second)
	if n := log.count("conv-123", false); n != 1 {
		t.Errorf("typing-stop emitted %d times after extra wait, want 1", n)
	}

	// The idle stop ended the burst, so the next keystroke signals again.
	c.Start("conv-123")
	if n := log.count("conv-123", true); n != 2 {
		t.Errorf("typing-start emitted %d times, want 2", n)
	}
}

func TestStartRearmsTimer(t *testing.T) {
	c, clock, log := newTestController()

	c.Start("c1")
	clock.Advance(2 * time.Second)
	c.Start("c1")
	clock.Advance(2 * time.Second)

	if n := log.count("c1", false); n != 0 {
		t.Fatalf("typing-stop emitted before idle window elapsed since last start")
	}
	if n := log.count("c1", true); n != 1 {
		t.Errorf("typing-start emitted %d times, want 1", n)
	}

	clock.Advance(time.Second)
	if n := log.count("c1", false); n != 1 {
		t.Errorf("typing-stop emitted %d times, want 1", n)
	}
}

func TestStopCancelsTimer(t *testing.T) {
	c, clock, log := newTestController()

	c.Start("c1")
	c.Stop("c1")
	clock.Advance(5 * time.Second)

	if n := log.count("c1", false); n != 1 {
		t.Errorf("typing-stop emitted %d times, want 1", n)
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	c, _, log := newTestController()
	c.Stop("c1")
	if n := len(log.calls); n != 0 {
		t.Errorf("got %d signals, want none", n)
	}
}

func TestConversationsAreIndependent(t *testing.T) {
	c, clock, log := newTestController()

	c.Start("a")
	clock.Advance(2 * time.Second)
	c.Start("b")
	clock.Advance(1500 * time.Millisecond)

	if log.count("a", false) != 1 {
		t.Error("conversation a did not time out")
	}
	if log.count("b", false) != 0 {
		t.Error("conversation b timed out early")
	}
}

func TestStopAll(t *testing.T) {
	c, clock, log := newTestController()
	c.Start("a")
	c.Start("b")

	c.StopAll()
	clock.Advance(time.Minute)

	if log.count("a", false) != 1 || log.count("b", false) != 1 {
		t.Errorf("calls = %+v, want one stop per conversation", log.calls)
	}
}

func TestEmptyConversationIgnored(t *testing.T) {
	c, _, log := newTestController()
	c.Start("")
	if len(log.calls) != 0 {
		t.Errorf("calls = %+v, want none", log.calls)
	}
}

func TestRealScheduler(t *testing.T) {
	done := make(chan string, 2)
	c := NewController(func(conv string, typing bool) {
		if !typing {
			done <- conv
		}
	}, 20*time.Millisecond, nil)

	c.Start("c1")
	select {
	case conv := <-done:
		if conv != "c1" {
			t.Errorf("stop for %q, want c1", conv)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for typing-stop")
	}
}
