package relay

import (
	"sync"

	"github.com/matheus3301/yarning/internal/wire"
	"go.uber.org/zap"
)

// DefaultChannelBuffer is the number of frames queued for a channel before
// it is considered too slow and closed.
const DefaultChannelBuffer = 256

// sender is the write half of a stream.
type sender interface {
	Send(*wire.Envelope) error
}

// Channel is one authenticated client connection. Frames are written by a
// single goroutine in the order they were queued.
type Channel struct {
	id       int64
	userID   string
	userName string
	logger   *zap.Logger

	out       chan *wire.Envelope
	done      chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	conversation string
}

func newChannel(id int64, userID, userName string, buffer int, logger *zap.Logger) *Channel {
	if buffer <= 0 {
		buffer = DefaultChannelBuffer
	}
	if userName == "" {
		userName = userID
	}
	return &Channel{
		id:       id,
		userID:   userID,
		userName: userName,
		logger:   logger.With(zap.String("user_id", userID), zap.Int64("channel", id)),
		out:      make(chan *wire.Envelope, buffer),
		done:     make(chan struct{}),
	}
}

// UserID returns the authenticated user behind the channel.
func (c *Channel) UserID() string { return c.userID }

// Conversation returns the joined conversation, empty when none.
func (c *Channel) Conversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversation
}

func (c *Channel) setConversation(id string) (prev string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, c.conversation = c.conversation, id
	return prev
}

// Send queues a frame. It never blocks: a channel whose buffer is full is
// closed. It reports whether the frame was queued.
func (c *Channel) Send(env *wire.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- env:
		return true
	default:
		c.logger.Warn("channel buffer full, closing")
		c.Close()
		return false
	}
}

func (c *Channel) emit(event string, payload any) bool {
	env, err := wire.NewEnvelope(event, payload)
	if err != nil {
		c.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return false
	}
	return c.Send(env)
}

// Close stops the channel. Queued frames that were not written are dropped.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed when the channel stops.
func (c *Channel) Done() <-chan struct{} { return c.done }

// writeLoop drains queued frames onto s until the channel closes or a
// write fails.
func (c *Channel) writeLoop(s sender) {
	for {
		select {
		case env := <-c.out:
			if err := s.Send(env); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
