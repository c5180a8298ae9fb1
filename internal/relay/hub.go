package relay

import (
	"sync"
	"sync/atomic"
)

// Hub tracks live channels by user and by joined conversation. Each
// conversation room has its own lock so fan-out in one conversation never
// waits on another.
type Hub struct {
	nextID atomic.Int64

	mu    sync.RWMutex
	rooms map[string]*room
	users map[string]map[int64]*Channel

	// guards serializes each user's presence transitions: registering or
	// unregistering a channel together with the broadcast it implies.
	guardMu sync.Mutex
	guards  map[string]*userGuard
}

type userGuard struct {
	mu   sync.Mutex
	refs int
}

type room struct {
	mu      sync.Mutex
	members map[int64]*Channel
	// dead is set when the room was removed from the hub; holders of a
	// stale pointer must look it up again.
	dead bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:  make(map[string]*room),
		users:  make(map[string]map[int64]*Channel),
		guards: make(map[string]*userGuard),
	}
}

// LockUser holds the user's presence guard until the returned func is
// called. Guards of idle users are dropped.
func (h *Hub) LockUser(userID string) (unlock func()) {
	h.guardMu.Lock()
	g, ok := h.guards[userID]
	if !ok {
		g = &userGuard{}
		h.guards[userID] = g
	}
	g.refs++
	h.guardMu.Unlock()

	g.mu.Lock()
	return func() {
		g.mu.Unlock()
		h.guardMu.Lock()
		g.refs--
		if g.refs == 0 {
			delete(h.guards, userID)
		}
		h.guardMu.Unlock()
	}
}

func (h *Hub) newChannelID() int64 {
	return h.nextID.Add(1)
}

// Register adds a channel and reports whether it is the user's first.
func (h *Hub) Register(c *Channel) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.users[c.userID]
	if !ok {
		conns = make(map[int64]*Channel)
		h.users[c.userID] = conns
	}
	conns[c.id] = c
	return len(conns) == 1
}

// Unregister removes a channel and reports whether it was the user's last.
func (h *Hub) Unregister(c *Channel) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.users[c.userID]
	if !ok {
		return false
	}
	if _, ok := conns[c.id]; !ok {
		return false
	}
	delete(conns, c.id)
	if len(conns) == 0 {
		delete(h.users, c.userID)
		return true
	}
	return false
}

// Online reports whether the user has at least one channel.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// ChannelsOf returns the user's live channels.
func (h *Hub) ChannelsOf(userID string) []*Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := h.users[userID]
	out := make([]*Channel, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// SendToUser queues a frame on every channel of the user and returns how
// many accepted it.
func (h *Hub) SendToUser(userID, event string, payload any) int {
	n := 0
	for _, c := range h.ChannelsOf(userID) {
		if c.emit(event, payload) {
			n++
		}
	}
	return n
}

// acquire returns the locked room for a conversation, creating it if needed.
func (h *Hub) acquire(conversationID string) *room {
	for {
		h.mu.Lock()
		r, ok := h.rooms[conversationID]
		if !ok {
			r = &room{members: make(map[int64]*Channel)}
			h.rooms[conversationID] = r
		}
		h.mu.Unlock()

		r.mu.Lock()
		if !r.dead {
			return r
		}
		r.mu.Unlock()
	}
}

// release unlocks a room, dropping it from the hub once it has no members.
func (h *Hub) release(conversationID string, r *room) {
	if len(r.members) == 0 {
		r.dead = true
		h.mu.Lock()
		if h.rooms[conversationID] == r {
			delete(h.rooms, conversationID)
		}
		h.mu.Unlock()
	}
	r.mu.Unlock()
}

// Join registers the channel for a conversation's events.
func (h *Hub) Join(conversationID string, c *Channel) {
	r := h.acquire(conversationID)
	r.members[c.id] = c
	h.release(conversationID, r)
}

// Leave unregisters the channel from a conversation.
func (h *Hub) Leave(conversationID string, c *Channel) {
	r := h.acquire(conversationID)
	delete(r.members, c.id)
	h.release(conversationID, r)
}

// Members returns the channels joined to a conversation.
func (h *Hub) Members(conversationID string) []*Channel {
	var out []*Channel
	h.WithRoom(conversationID, func(members []*Channel) {
		out = members
	})
	return out
}

// WithRoom runs fn holding the conversation's lock, with a snapshot of its
// members. Work done inside fn is serialized per conversation, which keeps
// fan-out order equal to persistence order.
func (h *Hub) WithRoom(conversationID string, fn func(members []*Channel)) {
	r := h.acquire(conversationID)
	defer h.release(conversationID, r)
	members := make([]*Channel, 0, len(r.members))
	for _, c := range r.members {
		members = append(members, c)
	}
	fn(members)
}

// CloseAll stops every live channel and returns how many there were.
func (h *Hub) CloseAll() int {
	h.mu.RLock()
	var all []*Channel
	for _, conns := range h.users {
		for _, c := range conns {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.Close()
	}
	return len(all)
}
