// Package wire defines the frames exchanged between clients and the relay:
// the event vocabulary, payload shapes, the JSON envelope and the gRPC service
// that carries them.
package wire

// Client to relay events.
const (
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventSendMessage       = "send-message"
	EventTypingStart       = "typing-start"
	EventTypingStop        = "typing-stop"
	EventMarkRead          = "mark-read"
	EventDeleteMessage     = "delete-message"
)

// Relay to client events.
const (
	EventAuthenticated     = "authenticated"
	EventNewMessage        = "newMessage"
	EventMessageSent       = "messageSent"
	EventMessageDelivered  = "messageDelivered"
	EventMessageRead       = "messageRead"
	EventMessageDeleted    = "messageDeleted"
	EventUserTyping        = "userTyping"
	EventUserStoppedTyping = "userStoppedTyping"
	EventUserOnline        = "userOnline"
	EventUserOffline       = "userOffline"
	EventError             = "error"
)

// Operation error codes carried in ErrorPayload.Code.
const (
	CodeInvalidPayload = "invalid_payload"
	CodeUnknownEvent   = "unknown_event"
	CodeNotParticipant = "not_participant"
	CodeNotJoined      = "not_joined"
	CodeNotSender      = "not_sender"
	CodeNotFound       = "not_found"
	CodeEmptyContent   = "empty_content"
	CodeContentTooLong = "content_too_long"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal"
)

// MaxContentLength bounds message content, counted in characters.
const MaxContentLength = 10000

// MessageStatus is the delivery lifecycle state of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Rank orders statuses along the forward lifecycle. Failed ranks with
// sending: a confirmed message can never become failed.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSending, StatusFailed:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// Message types.
const (
	TypeText  = "text"
	TypeOther = "other"
)
