package mongostore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/yarning/internal/store"
	"github.com/matheus3301/yarning/internal/wire"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// InsertMessage persists a new message from a participant. A repeated
// (sender, client id) pair returns the original message with created false;
// the pair is rejected when it belongs to another conversation.
func (s *Store) InsertMessage(ctx context.Context, m store.Message) (store.Message, bool, error) {
	if m.ClientID != "" {
		prev, err := s.messageByClientID(ctx, m.ConversationID, m.SenderID, m.ClientID)
		if err == nil {
			return prev, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.Message{}, false, err
		}
	}

	ok, err := s.IsParticipant(ctx, m.ConversationID, m.SenderID)
	if err != nil {
		return store.Message{}, false, err
	}
	if !ok {
		return store.Message{}, false, store.ErrNotParticipant
	}

	m.ID = store.NewID()
	m.Status = wire.StatusSent
	if m.Type == "" {
		m.Type = wire.TypeText
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}

	doc := messageDoc{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ClientID:       m.ClientID,
		Content:        m.Content,
		Type:           m.Type,
		Status:         string(m.Status),
		CreatedAt:      m.CreatedAt,
	}
	if _, err := s.msgs.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) && m.ClientID != "" {
			prev, err := s.messageByClientID(ctx, m.ConversationID, m.SenderID, m.ClientID)
			return prev, false, err
		}
		return store.Message{}, false, fmt.Errorf("insert message: %w", err)
	}

	_, err = s.convs.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: m.ConversationID}},
		bson.D{{Key: "$max", Value: bson.D{{Key: "last_message_at", Value: m.CreatedAt}}}})
	if err != nil {
		return store.Message{}, false, fmt.Errorf("touch conversation: %w", err)
	}
	return m, true, nil
}

func (s *Store) messageByClientID(ctx context.Context, conversationID, senderID, clientID string) (store.Message, error) {
	var doc messageDoc
	err := s.msgs.FindOne(ctx, bson.D{
		{Key: "sender_id", Value: senderID},
		{Key: "client_id", Value: clientID},
	}).Decode(&doc)
	if err != nil {
		return store.Message{}, notFound(err)
	}
	if doc.ConversationID != conversationID {
		return store.Message{}, fmt.Errorf("%w: client id %s already used in another conversation", store.ErrInvalid, clientID)
	}
	return doc.record(), nil
}

// GetMessage returns a message by durable id, deleted or not.
func (s *Store) GetMessage(ctx context.Context, id string) (store.Message, error) {
	var doc messageDoc
	if err := s.msgs.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		return store.Message{}, notFound(err)
	}
	return doc.record(), nil
}

// ListMessages returns up to limit live messages older than the cursor,
// oldest first, and whether older ones remain.
func (s *Store) ListMessages(ctx context.Context, conversationID string, before wire.Cursor, limit int) ([]store.Message, bool, error) {
	limit = store.PageSize(limit)
	if before.CreatedAt <= 0 {
		before = wire.Cursor{CreatedAt: time.Now().UnixMilli() + 1}
	}
	filter := bson.D{
		{Key: "conversation_id", Value: conversationID},
		{Key: "deleted_at", Value: int64(0)},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "created_at", Value: bson.D{{Key: "$lt", Value: before.CreatedAt}}}},
			bson.D{
				{Key: "created_at", Value: before.CreatedAt},
				{Key: "_id", Value: bson.D{{Key: "$lt", Value: before.ID}}},
			},
		}},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit + 1))

	cursor, err := s.msgs.Find(ctx, filter, opts)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, false, err
	}
	more := len(docs) > limit
	if more {
		docs = docs[:limit]
	}
	msgs := make([]store.Message, 0, len(docs))
	for _, d := range docs {
		msgs = append(msgs, d.record())
	}
	slices.Reverse(msgs)
	return msgs, more, nil
}

// MarkDelivered moves a sent message to delivered.
func (s *Store) MarkDelivered(ctx context.Context, messageID string) (bool, error) {
	res, err := s.msgs.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: messageID}, {Key: "status", Value: string(wire.StatusSent)}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: string(wire.StatusDelivered)},
			{Key: "delivered_at", Value: time.Now().UnixMilli()},
		}}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// MarkRead records that readerID read the given messages and returns the
// ones that became read by this call.
func (s *Store) MarkRead(ctx context.Context, conversationID, readerID string, messageIDs []string) ([]store.Message, error) {
	ok, err := s.IsParticipant(ctx, conversationID, readerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrNotParticipant
	}

	now := time.Now().UnixMilli()
	var read []store.Message
	for _, id := range messageIDs {
		var doc messageDoc
		err := s.msgs.FindOne(ctx, bson.D{
			{Key: "_id", Value: id},
			{Key: "conversation_id", Value: conversationID},
			{Key: "deleted_at", Value: int64(0)},
		}).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if doc.SenderID == readerID {
			continue
		}

		if _, err := s.msgs.UpdateOne(ctx,
			bson.D{{Key: "_id", Value: id}},
			bson.D{{Key: "$addToSet", Value: bson.D{{Key: "read_by", Value: readerID}}}}); err != nil {
			return nil, fmt.Errorf("record read: %w", err)
		}

		res, err := s.msgs.UpdateOne(ctx,
			bson.D{{Key: "_id", Value: id}, {Key: "status", Value: bson.D{{Key: "$ne", Value: string(wire.StatusRead)}}}},
			bson.D{{Key: "$set", Value: bson.D{
				{Key: "status", Value: string(wire.StatusRead)},
				{Key: "read_at", Value: now},
			}}})
		if err != nil {
			return nil, fmt.Errorf("mark read: %w", err)
		}
		if res.ModifiedCount > 0 {
			m := doc.record()
			m.Status = wire.StatusRead
			m.ReadAt = now
			read = append(read, m)
		}
	}
	return read, nil
}

// DeleteMessage soft deletes a message on behalf of its sender.
func (s *Store) DeleteMessage(ctx context.Context, conversationID, messageID, userID string) (store.Message, error) {
	m, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return store.Message{}, err
	}
	if m.ConversationID != conversationID {
		return store.Message{}, store.ErrNotFound
	}
	if m.SenderID != userID {
		return store.Message{}, store.ErrNotSender
	}
	if m.DeletedAt != 0 {
		return m, nil
	}
	m.DeletedAt = time.Now().UnixMilli()
	_, err = s.msgs.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: messageID}, {Key: "deleted_at", Value: int64(0)}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "deleted_at", Value: m.DeletedAt}}}})
	if err != nil {
		return store.Message{}, fmt.Errorf("delete message: %w", err)
	}
	return m, nil
}
