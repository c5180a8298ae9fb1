package client

import (
	"github.com/matheus3301/yarning/internal/presence"
	"github.com/matheus3301/yarning/internal/typing"
)

// Bus payloads published by the manager. Connection state changes use
// status.StatusChange.

// MessagesChanged is published when a conversation's list changed.
type MessagesChanged struct {
	ConversationID string
}

// MessageFailed is published when the relay rejected an optimistic send.
type MessageFailed struct {
	ConversationID string
	ClientID       string
	Err            *OperationError
}

// PresenceChanged is published on every presence event. Known is false when
// the entry was dropped because the channel ended.
type PresenceChanged struct {
	UserID string
	Entry  presence.Entry
	Known  bool
}

// TypingChanged carries the full set of remote users typing in a conversation.
type TypingChanged struct {
	ConversationID string
	Users          []typing.User
}

// ConversationLeft is published by LeaveConversation.
type ConversationLeft struct {
	ConversationID string
}
