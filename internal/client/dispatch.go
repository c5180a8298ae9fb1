package client

import (
	"time"

	"github.com/matheus3301/yarning/internal/bus"
	"github.com/matheus3301/yarning/internal/typing"
	"github.com/matheus3301/yarning/internal/wire"
	"go.uber.org/zap"
)

// dispatch applies one relay frame. It runs on the read loop, so frames of
// a channel are applied in arrival order.
func (m *Manager) dispatch(s *session, env *wire.Envelope) {
	// Frames still buffered on a detached channel describe a dead session.
	if !m.current(s) {
		return
	}
	var err error
	switch env.Event {
	case wire.EventAuthenticated:
		var p wire.Authenticated
		if err = env.Decode(&p); err == nil {
			m.authenticate(s, p)
		}

	case wire.EventNewMessage:
		var p wire.Message
		if err = env.Decode(&p); err == nil {
			m.onNewMessage(p)
		}

	case wire.EventMessageSent:
		var p wire.MessageSent
		if err = env.Decode(&p); err == nil {
			if conv, changed := m.book.ApplySent(p.ClientID, p.MessageID); changed {
				m.publish(bus.KindMessagesChanged, MessagesChanged{ConversationID: conv})
			}
		}

	case wire.EventMessageDelivered:
		var p wire.MessageDelivered
		if err = env.Decode(&p); err == nil {
			m.publishConversations(m.book.ApplyStatus(wire.StatusDelivered, p.MessageID))
		}

	case wire.EventMessageRead:
		var p wire.MessageRead
		if err = env.Decode(&p); err == nil {
			m.publishConversations(m.book.ApplyStatus(wire.StatusRead, p.MessageIDs...))
		}

	case wire.EventMessageDeleted:
		var p wire.MessageDeleted
		if err = env.Decode(&p); err == nil {
			if m.book.Remove(p.ConversationID, p.MessageID) {
				m.publish(bus.KindMessagesChanged, MessagesChanged{ConversationID: p.ConversationID})
			}
		}

	case wire.EventUserTyping:
		var p wire.UserTyping
		if err = env.Decode(&p); err == nil && p.UserID != m.Self().UserID {
			if m.remote.Add(p.ConversationID, typing.User{UserID: p.UserID, UserName: p.UserName}) {
				m.publishTyping(p.ConversationID)
			}
		}

	case wire.EventUserStoppedTyping:
		var p wire.UserTyping
		if err = env.Decode(&p); err == nil {
			if m.remote.Remove(p.ConversationID, p.UserID) {
				m.publishTyping(p.ConversationID)
			}
		}

	case wire.EventUserOnline:
		var p wire.UserOnline
		if err = env.Decode(&p); err == nil {
			e := m.presence.MarkOnline(p.UserID)
			m.publish(bus.KindPresenceChanged, PresenceChanged{UserID: p.UserID, Entry: e, Known: true})
		}

	case wire.EventUserOffline:
		var p wire.UserOffline
		if err = env.Decode(&p); err == nil {
			var seen time.Time
			if p.LastSeen > 0 {
				seen = time.UnixMilli(p.LastSeen)
			}
			e := m.presence.MarkOffline(p.UserID, seen)
			m.publish(bus.KindPresenceChanged, PresenceChanged{UserID: p.UserID, Entry: e, Known: true})
			for _, conv := range m.remote.RemoveUser(p.UserID) {
				m.publishTyping(conv)
			}
		}

	case wire.EventError:
		var p wire.ErrorPayload
		if err = env.Decode(&p); err == nil {
			m.onOperationError(p)
		}

	default:
		m.logger.Debug("ignoring unknown event", zap.String("event", env.Event))
	}

	if err != nil {
		m.logger.Warn("malformed frame", zap.String("event", env.Event), zap.Error(err))
	}
}

func (m *Manager) onNewMessage(p wire.Message) {
	if !m.book.ApplyNewMessage(p) {
		return
	}
	m.publish(bus.KindMessagesChanged, MessagesChanged{ConversationID: p.ConversationID})
	// A message ends its sender's typing indicator.
	if m.remote.Remove(p.ConversationID, p.SenderID) {
		m.publishTyping(p.ConversationID)
	}
}

func (m *Manager) onOperationError(p wire.ErrorPayload) {
	opErr := &OperationError{
		Op:             p.Op,
		Code:           p.Code,
		Message:        p.Message,
		ConversationID: p.ConversationID,
		ClientID:       p.ClientID,
		MessageID:      p.MessageID,
	}
	m.logger.Warn("operation rejected",
		zap.String("op", p.Op),
		zap.String("code", p.Code),
		zap.String("conversation_id", p.ConversationID))

	if p.Op == wire.EventSendMessage && p.ClientID != "" {
		if conv, changed := m.book.MarkFailed(p.ClientID); changed {
			m.publish(bus.KindMessageFailed, MessageFailed{ConversationID: conv, ClientID: p.ClientID, Err: opErr})
			m.publish(bus.KindMessagesChanged, MessagesChanged{ConversationID: conv})
		}
	}
	m.publish(bus.KindOperationFailed, opErr)
}

func (m *Manager) publishConversations(convs []string) {
	for _, conv := range convs {
		m.publish(bus.KindMessagesChanged, MessagesChanged{ConversationID: conv})
	}
}

func (m *Manager) publishTyping(conv string) {
	m.publish(bus.KindTypingChanged, TypingChanged{ConversationID: conv, Users: m.remote.Users(conv)})
}
