package wire

// JoinConversation is the join-conversation payload.
type JoinConversation struct {
	ConversationID string `json:"conversationId"`
}

// LeaveConversation is the leave-conversation payload.
type LeaveConversation struct{}

// SendMessage is the send-message payload.
type SendMessage struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	ClientID       string `json:"clientId"`
}

// Typing is the typing-start and typing-stop payload.
type Typing struct {
	ConversationID string `json:"conversationId"`
}

// MarkRead is the mark-read payload.
type MarkRead struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

// DeleteMessage is the delete-message payload.
type DeleteMessage struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// Authenticated confirms the channel's identity.
type Authenticated struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// Message is a confirmed message as carried by newMessage and by history
// listings. Timestamps are unix milliseconds.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	Type           string        `json:"type"`
	CreatedAt      int64         `json:"createdAt"`
	ClientID       string        `json:"clientId,omitempty"`
	Status         MessageStatus `json:"status,omitempty"`
	DeletedAt      int64         `json:"deletedAt,omitempty"`
}

// MessageSent resolves a correlation id to a durable id.
type MessageSent struct {
	ClientID       string `json:"clientId"`
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// MessageDelivered confirms live delivery of one message.
type MessageDelivered struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// MessageRead confirms that messages were read.
type MessageRead struct {
	MessageIDs     []string `json:"messageIds"`
	ConversationID string   `json:"conversationId,omitempty"`
	ReaderID       string   `json:"readerId,omitempty"`
}

// MessageDeleted announces a soft delete.
type MessageDeleted struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	DeletedAt      int64  `json:"deletedAt"`
}

// UserTyping is the userTyping and userStoppedTyping payload.
type UserTyping struct {
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	ConversationID string `json:"conversationId"`
}

// UserOnline announces presence up.
type UserOnline struct {
	UserID string `json:"userId"`
}

// UserOffline announces presence down with the last-seen time in unix milliseconds.
type UserOffline struct {
	UserID   string `json:"userId"`
	LastSeen int64  `json:"lastSeen"`
}

// ErrorPayload reports a rejected operation without closing the channel.
type ErrorPayload struct {
	Op             string `json:"op"`
	Code           string `json:"code"`
	Message        string `json:"message,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	ClientID       string `json:"clientId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
}

// Conversation is the listing shape of a conversation.
type Conversation struct {
	ID             string   `json:"id"`
	ParticipantIDs []string `json:"participantIds"`
	LastMessageAt  int64    `json:"lastMessageAt"`
	CreatedAt      int64    `json:"createdAt"`
}

// CreateConversationRequest asks for a conversation between the caller and
// the listed participants.
type CreateConversationRequest struct {
	ParticipantIDs []string `json:"participantIds"`
}

// CreateConversationResponse returns the existing or newly created conversation.
type CreateConversationResponse struct {
	Conversation Conversation `json:"conversation"`
	Created      bool         `json:"created"`
}

// ListConversationsRequest lists the caller's conversations, most recent first.
type ListConversationsRequest struct {
	Limit int `json:"limit,omitempty"`
}

// ListConversationsResponse holds a conversation listing.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

// ListMessagesRequest pages backwards through a conversation. Before and
// BeforeID name the oldest message already held; BeforeID breaks ties between
// messages created in the same millisecond.
type ListMessagesRequest struct {
	ConversationID string `json:"conversationId"`
	Before         int64  `json:"before,omitempty"`
	BeforeID       string `json:"beforeId,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// Cursor returns the request's page position.
func (r *ListMessagesRequest) Cursor() Cursor {
	return Cursor{CreatedAt: r.Before, ID: r.BeforeID}
}

// Cursor is a keyset position in a conversation's history, ordered by
// creation time and then by id. The zero cursor means the newest page.
type Cursor struct {
	CreatedAt int64
	ID        string
}

// ListMessagesResponse holds messages oldest first.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}
