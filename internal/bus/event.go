package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the connection manager.
const (
	KindStateChanged     = "connection.state_changed"
	KindMessagesChanged  = "conversation.messages_changed"
	KindMessageFailed    = "conversation.message_failed"
	KindOperationFailed  = "conversation.operation_failed"
	KindPresenceChanged  = "presence.changed"
	KindTypingChanged    = "typing.changed"
	KindConversationLeft = "conversation.left"
)
