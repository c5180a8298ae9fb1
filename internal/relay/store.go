package relay

import (
	"context"

	"github.com/matheus3301/yarning/internal/store"
	"github.com/matheus3301/yarning/internal/wire"
)

// Store is the persistence the relay needs. Both the SQLite and the Mongo
// stores implement it.
type Store interface {
	EnsureUser(ctx context.Context, id, name string) error
	SetLastSeen(ctx context.Context, id string, at int64) error

	CreateConversation(ctx context.Context, participantIDs []string) (store.Conversation, bool, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]store.Conversation, error)
	Peers(ctx context.Context, userID string) ([]string, error)

	InsertMessage(ctx context.Context, m store.Message) (store.Message, bool, error)
	ListMessages(ctx context.Context, conversationID string, before wire.Cursor, limit int) ([]store.Message, bool, error)
	MarkDelivered(ctx context.Context, messageID string) (bool, error)
	MarkRead(ctx context.Context, conversationID, readerID string, messageIDs []string) ([]store.Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID, userID string) (store.Message, error)
}
