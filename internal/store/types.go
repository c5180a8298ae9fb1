package store

import (
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/yarning/internal/wire"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNotParticipant = errors.New("not a participant")
	ErrNotSender      = errors.New("not the sender")
	ErrInvalid        = errors.New("invalid argument")
)

// User is a relay user. LastSeen is unix milliseconds, zero when never seen.
type User struct {
	ID       string
	Name     string
	LastSeen int64
}

// Conversation is a set of participants. Timestamps are unix milliseconds.
type Conversation struct {
	ID             string
	ParticipantIDs []string
	LastMessageAt  int64
	CreatedAt      int64
}

// Wire converts to the listing shape.
func (c Conversation) Wire() wire.Conversation {
	return wire.Conversation{
		ID:             c.ID,
		ParticipantIDs: c.ParticipantIDs,
		LastMessageAt:  c.LastMessageAt,
		CreatedAt:      c.CreatedAt,
	}
}

// Message is a persisted message. Status only moves forward.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ClientID       string
	Content        string
	Type           string
	Status         wire.MessageStatus
	CreatedAt      int64
	DeliveredAt    int64
	ReadAt         int64
	DeletedAt      int64
}

// Wire converts to the newMessage and history shape.
func (m Message) Wire() wire.Message {
	return wire.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           m.Type,
		CreatedAt:      m.CreatedAt,
		ClientID:       m.ClientID,
		Status:         m.Status,
		DeletedAt:      m.DeletedAt,
	}
}

// NewID returns a time-ordered identifier for messages and conversations.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ParticipantKey normalizes a participant set: trimmed, deduplicated, sorted.
// It returns the normalized ids and the key identifying the set.
func ParticipantKey(ids []string) ([]string, string) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	return out, strings.Join(out, "\x1f")
}

// DefaultPageSize applies when a listing limit is not positive.
const DefaultPageSize = 50

// MaxPageSize caps listing limits.
const MaxPageSize = 200

// PageSize clamps a requested listing limit.
func PageSize(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return limit
}
