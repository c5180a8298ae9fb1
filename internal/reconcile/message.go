// Package reconcile merges optimistic, client-side messages with the
// confirmed messages the relay sends back.
package reconcile

import "github.com/matheus3301/yarning/internal/wire"

// Message is one entry of a conversation's in-memory list. ID is empty until
// the relay assigns a durable id; ClientID is empty for messages this client
// did not originate.
type Message struct {
	ID             string
	ClientID       string
	ConversationID string
	SenderID       string
	Content        string
	Type           string
	Status         wire.MessageStatus
	CreatedAt      int64
}

// Pending reports whether the entry has no durable id yet. Failed sends stay
// pending.
func (m Message) Pending() bool {
	return m.ID == ""
}

func fromWire(w wire.Message) Message {
	status := w.Status
	if status.Rank() < wire.StatusSent.Rank() {
		status = wire.StatusSent
	}
	typ := w.Type
	if typ == "" {
		typ = wire.TypeText
	}
	return Message{
		ID:             w.ID,
		ClientID:       w.ClientID,
		ConversationID: w.ConversationID,
		SenderID:       w.SenderID,
		Content:        w.Content,
		Type:           typ,
		Status:         status,
		CreatedAt:      w.CreatedAt,
	}
}

// advance moves cur forward to next and reports whether it changed. Failed is
// only reachable from sending.
func advance(cur, next wire.MessageStatus) (wire.MessageStatus, bool) {
	if next == wire.StatusFailed {
		if cur == wire.StatusSending {
			return next, true
		}
		return cur, false
	}
	if next.Rank() > cur.Rank() {
		return next, true
	}
	return cur, false
}
