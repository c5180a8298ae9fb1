package reconcile

import (
	"slices"
	"sync"

	"github.com/matheus3301/yarning/internal/wire"
)

// Book holds the message lists of every conversation a client has open.
// All operations are idempotent: replaying any event leaves the lists
// unchanged, and messageSent and newMessage converge in either order.
type Book struct {
	mu      sync.Mutex
	threads map[string][]Message
	// clientConv and idConv locate a message's conversation for events that
	// carry only a correlation id or a durable id.
	clientConv map[string]string
	idConv     map[string]string
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		threads:    make(map[string][]Message),
		clientConv: make(map[string]string),
		idConv:     make(map[string]string),
	}
}

// AddPending appends an optimistic message in sending state.
func (b *Book) AddPending(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m.Status = wire.StatusSending
	m.ID = ""
	b.threads[m.ConversationID] = append(b.threads[m.ConversationID], m)
	b.clientConv[m.ClientID] = m.ConversationID
}

// ApplyNewMessage merges a confirmed message. A matching correlation id is
// updated in place; otherwise the message is appended unless its durable id
// is already listed. Reports whether the list changed.
func (b *Book) ApplyNewMessage(w wire.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	incoming := fromWire(w)
	conv := incoming.ConversationID
	list := b.threads[conv]

	if incoming.ClientID != "" {
		if i := indexByClient(list, incoming.ClientID); i >= 0 {
			cur := list[i]
			merged := incoming
			merged.ClientID = cur.ClientID
			merged.Status, _ = advance(cur.Status, incoming.Status)
			if cur.Status == wire.StatusFailed {
				merged.Status = incoming.Status
			}
			return b.confirm(conv, i, merged)
		}
	}

	if i := indexByID(list, incoming.ID); i >= 0 {
		return false
	}
	b.threads[conv] = append(list, incoming)
	b.idConv[incoming.ID] = conv
	if incoming.ClientID != "" {
		b.clientConv[incoming.ClientID] = conv
	}
	return true
}

// ApplySent resolves a correlation id to its durable id. Unknown correlation
// ids are ignored; the matching newMessage will append the message by id.
func (b *Book) ApplySent(clientID, messageID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conv, ok := b.clientConv[clientID]
	if !ok {
		return "", false
	}
	list := b.threads[conv]
	i := indexByClient(list, clientID)
	if i < 0 {
		return conv, false
	}

	m := list[i]
	m.ID = messageID
	if m.Status == wire.StatusFailed {
		m.Status = wire.StatusSent
	} else {
		m.Status, _ = advance(m.Status, wire.StatusSent)
	}
	return conv, b.confirm(conv, i, m)
}

// confirm stores m, which carries a durable id, at the optimistic entry i.
// A newMessage without the correlation id or a history page may already have
// listed that id separately; the copy is folded into i, keeping the relay's
// fields and the furthest status. Reports whether the list changed.
func (b *Book) confirm(conv string, i int, m Message) bool {
	list := b.threads[conv]
	b.idConv[m.ID] = conv
	if j := indexByID(list, m.ID); j >= 0 && j != i {
		dup := list[j]
		dup.ClientID = m.ClientID
		dup.Status, _ = advance(m.Status, dup.Status)
		list[i] = dup
		b.threads[conv] = slices.Delete(list, j, j+1)
		return true
	}
	changed := list[i] != m
	list[i] = m
	return changed
}

// ApplyStatus moves the messages with the given durable ids forward to
// status, never backwards. It returns the conversations that changed.
func (b *Book) ApplyStatus(status wire.MessageStatus, messageIDs ...string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var changed []string
	for _, id := range messageIDs {
		conv, ok := b.idConv[id]
		if !ok {
			continue
		}
		list := b.threads[conv]
		i := indexByID(list, id)
		if i < 0 {
			continue
		}
		if s, ok := advance(list[i].Status, status); ok {
			list[i].Status = s
			if !slices.Contains(changed, conv) {
				changed = append(changed, conv)
			}
		}
	}
	return changed
}

// MarkFailed flags a still-pending optimistic message as failed.
func (b *Book) MarkFailed(clientID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conv, ok := b.clientConv[clientID]
	if !ok {
		return "", false
	}
	list := b.threads[conv]
	i := indexByClient(list, clientID)
	if i < 0 {
		return conv, false
	}
	s, changed := advance(list[i].Status, wire.StatusFailed)
	list[i].Status = s
	return conv, changed
}

// Remove drops a message by durable id, used for soft deletes.
func (b *Book) Remove(conversationID, messageID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.threads[conversationID]
	i := indexByID(list, messageID)
	if i < 0 {
		return false
	}
	if cid := list[i].ClientID; cid != "" {
		delete(b.clientConv, cid)
	}
	b.threads[conversationID] = slices.Delete(list, i, i+1)
	delete(b.idConv, messageID)
	return true
}

// Seed merges a history page into a conversation and orders the list by
// creation time. Pending entries stay at the end.
func (b *Book) Seed(conversationID string, history []wire.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.threads[conversationID]
	for _, w := range history {
		if w.DeletedAt != 0 {
			continue
		}
		incoming := fromWire(w)
		incoming.ConversationID = conversationID
		if i := indexByID(list, incoming.ID); i >= 0 {
			incoming.ClientID = list[i].ClientID
			incoming.Status, _ = advance(list[i].Status, incoming.Status)
			list[i] = incoming
		} else {
			list = append(list, incoming)
		}
		b.idConv[incoming.ID] = conversationID
	}
	slices.SortStableFunc(list, func(x, y Message) int {
		switch {
		case x.Pending() && !y.Pending():
			return 1
		case !x.Pending() && y.Pending():
			return -1
		case x.CreatedAt < y.CreatedAt:
			return -1
		case x.CreatedAt > y.CreatedAt:
			return 1
		}
		return 0
	})
	b.threads[conversationID] = list
}

// Messages returns a copy of a conversation's list.
func (b *Book) Messages(conversationID string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.threads[conversationID])
}

// Find returns the message with the given durable id.
func (b *Book) Find(messageID string) (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conv, ok := b.idConv[messageID]
	if !ok {
		return Message{}, false
	}
	list := b.threads[conv]
	if i := indexByID(list, messageID); i >= 0 {
		return list[i], true
	}
	return Message{}, false
}

// Clear forgets a conversation's list.
func (b *Book) Clear(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, m := range b.threads[conversationID] {
		delete(b.idConv, m.ID)
		delete(b.clientConv, m.ClientID)
	}
	delete(b.threads, conversationID)
}

func indexByClient(list []Message, clientID string) int {
	return slices.IndexFunc(list, func(m Message) bool { return m.ClientID == clientID })
}

func indexByID(list []Message, id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(list, func(m Message) bool { return m.ID == id })
}
