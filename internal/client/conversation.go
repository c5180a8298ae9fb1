package client

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/matheus3301/yarning/internal/bus"
	"github.com/matheus3301/yarning/internal/presence"
	"github.com/matheus3301/yarning/internal/reconcile"
	"github.com/matheus3301/yarning/internal/typing"
	"github.com/matheus3301/yarning/internal/wire"
	"go.uber.org/zap"
)

// JoinConversation makes conversationID the active conversation. Switching
// away forces typing-stop for the previous one.
func (m *Manager) JoinConversation(conversationID string) error {
	if conversationID == "" {
		return ErrMissingConversation
	}

	m.mu.Lock()
	prev := m.active
	m.active = conversationID
	if m.left == conversationID {
		m.left = ""
	}
	m.mu.Unlock()

	if prev != "" && prev != conversationID {
		m.typing.Stop(prev)
		m.remote.Clear(prev)
	}
	return m.Emit(wire.EventJoinConversation, wire.JoinConversation{ConversationID: conversationID})
}

// LeaveConversation leaves the active conversation and forgets its list;
// opening it again reloads history.
func (m *Manager) LeaveConversation() error {
	m.mu.Lock()
	prev := m.active
	if prev == "" {
		m.mu.Unlock()
		return ErrNotJoined
	}
	m.active = ""
	m.left = prev
	m.mu.Unlock()

	m.typing.Stop(prev)
	m.remote.Clear(prev)
	m.book.Clear(prev)
	if err := m.Emit(wire.EventLeaveConversation, wire.LeaveConversation{}); err != nil {
		return err
	}
	m.publish(bus.KindConversationLeft, ConversationLeft{ConversationID: prev})
	return nil
}

// ActiveConversation returns the joined conversation, if any.
func (m *Manager) ActiveConversation() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// SendMessage validates content, appends an optimistic entry and emits the
// send. It returns the correlation id of the new entry.
func (m *Manager) SendMessage(conversationID, content string) (string, error) {
	if conversationID == "" {
		return "", ErrMissingConversation
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}
	if n := utf8.RuneCountInString(content); n > wire.MaxContentLength {
		return "", fmt.Errorf("%w: %d > %d", ErrContentTooLong, n, wire.MaxContentLength)
	}

	m.mu.Lock()
	left := m.left == conversationID && m.active != conversationID
	self := m.self.UserID
	m.mu.Unlock()
	if left {
		return "", fmt.Errorf("%w: %s", ErrConversationLeft, conversationID)
	}

	clientID := newCorrelationID()
	m.book.AddPending(reconcile.Message{
		ClientID:       clientID,
		ConversationID: conversationID,
		SenderID:       self,
		Content:        content,
		Type:           wire.TypeText,
		CreatedAt:      time.Now().UnixMilli(),
	})
	m.publish(bus.KindMessagesChanged, MessagesChanged{ConversationID: conversationID})

	m.typing.Stop(conversationID)
	err := m.Emit(wire.EventSendMessage, wire.SendMessage{
		ConversationID: conversationID,
		Content:        content,
		Type:           wire.TypeText,
		ClientID:       clientID,
	})
	if err != nil {
		m.book.MarkFailed(clientID)
		return clientID, err
	}
	return clientID, nil
}

// StartTyping signals typing in conversationID, or the active conversation
// when empty.
func (m *Manager) StartTyping(conversationID string) {
	if conversationID == "" {
		conversationID = m.ActiveConversation()
	}
	m.typing.Start(conversationID)
}

// StopTyping cancels the idle timer and signals typing-stop.
func (m *Manager) StopTyping(conversationID string) {
	if conversationID == "" {
		conversationID = m.ActiveConversation()
	}
	m.typing.Stop(conversationID)
}

// MarkAsRead acknowledges messages in a conversation.
func (m *Manager) MarkAsRead(conversationID string, messageIDs ...string) error {
	if conversationID == "" {
		return ErrMissingConversation
	}
	if len(messageIDs) == 0 {
		return ErrMissingMessage
	}
	return m.Emit(wire.EventMarkRead, wire.MarkRead{ConversationID: conversationID, MessageIDs: messageIDs})
}

// DeleteMessage asks the relay to soft delete one of the user's messages.
// The entry disappears when messageDeleted comes back. Messages already
// listed are checked locally; unknown ids are left to the relay.
func (m *Manager) DeleteMessage(conversationID, messageID string) error {
	if conversationID == "" {
		return ErrMissingConversation
	}
	if messageID == "" {
		return ErrMissingMessage
	}
	if msg, ok := m.book.Find(messageID); ok {
		if msg.ConversationID != conversationID {
			return fmt.Errorf("%w: %s is not in %s", ErrMissingMessage, messageID, conversationID)
		}
		if self := m.Self().UserID; self != "" && msg.SenderID != self {
			return ErrNotOwnMessage
		}
	}
	return m.Emit(wire.EventDeleteMessage, wire.DeleteMessage{ConversationID: conversationID, MessageID: messageID})
}

// LoadHistory fetches a page of persisted messages older than before (the
// zero cursor for the newest page) and merges it into the conversation's
// list.
func (m *Manager) LoadHistory(ctx context.Context, conversationID string, before wire.Cursor, limit int) (bool, error) {
	if conversationID == "" {
		return false, ErrMissingConversation
	}
	if m.history == nil {
		return false, ErrNoHistory
	}
	resp, err := m.history.ListMessages(ctx, &wire.ListMessagesRequest{
		ConversationID: conversationID,
		Before:         before.CreatedAt,
		BeforeID:       before.ID,
		Limit:          limit,
	})
	if err != nil {
		return false, fmt.Errorf("load history %s: %w", conversationID, err)
	}
	m.book.Seed(conversationID, resp.Messages)
	m.publish(bus.KindMessagesChanged, MessagesChanged{ConversationID: conversationID})
	return resp.HasMore, nil
}

// Messages returns a snapshot of a conversation's list.
func (m *Manager) Messages(conversationID string) []reconcile.Message {
	return m.book.Messages(conversationID)
}

// Presence returns a user's last observed presence; ok is false for users
// never observed.
func (m *Manager) Presence(userID string) (presence.Entry, bool) {
	return m.presence.Get(userID)
}

// PresenceOf returns entries for the observed subset of userIDs.
func (m *Manager) PresenceOf(userIDs []string) map[string]presence.Entry {
	return m.presence.GetMultiple(userIDs)
}

// IsOnline is false for unknown users.
func (m *Manager) IsOnline(userID string) bool {
	return m.presence.IsOnline(userID)
}

// TypingUsers returns the remote users typing in a conversation.
func (m *Manager) TypingUsers(conversationID string) []typing.User {
	return m.remote.Users(conversationID)
}

func (m *Manager) typingSignal(conversationID string, on bool) {
	event := wire.EventTypingStop
	if on {
		event = wire.EventTypingStart
	}
	if err := m.Emit(event, wire.Typing{ConversationID: conversationID}); err != nil {
		m.logger.Warn("typing signal", zap.Error(err))
	}
}

// newCorrelationID returns a time-ordered id unique to this client.
func newCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return "tmp-" + id.String()
}
