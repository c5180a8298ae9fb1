package mongostore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/yarning/internal/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateConversation returns the conversation for exactly this participant
// set, creating it when none exists.
func (s *Store) CreateConversation(ctx context.Context, participantIDs []string) (store.Conversation, bool, error) {
	ids, key := store.ParticipantKey(participantIDs)
	if len(ids) < 2 {
		return store.Conversation{}, false, fmt.Errorf("%w: a conversation needs two participants", store.ErrInvalid)
	}

	var existing conversationDoc
	err := s.convs.FindOne(ctx, bson.D{{Key: "participant_key", Value: key}}).Decode(&existing)
	if err == nil {
		return existing.record(), false, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return store.Conversation{}, false, err
	}

	doc := conversationDoc{
		ID:             store.NewID(),
		ParticipantKey: key,
		ParticipantIDs: ids,
		CreatedAt:      time.Now().UnixMilli(),
	}
	if _, err := s.convs.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			err = s.convs.FindOne(ctx, bson.D{{Key: "participant_key", Value: key}}).Decode(&existing)
			return existing.record(), false, notFound(err)
		}
		return store.Conversation{}, false, fmt.Errorf("insert conversation: %w", err)
	}
	return doc.record(), true, nil
}

// GetConversation returns a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (store.Conversation, error) {
	var doc conversationDoc
	if err := s.convs.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		return store.Conversation{}, notFound(err)
	}
	return doc.record(), nil
}

// Participants returns the conversation's sorted participant ids.
func (s *Store) Participants(ctx context.Context, conversationID string) ([]string, error) {
	c, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return c.ParticipantIDs, nil
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	c, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return slices.Contains(c.ParticipantIDs, userID), nil
}

// ListConversations returns userID's conversations, most recent activity first.
func (s *Store) ListConversations(ctx context.Context, userID string, limit int) ([]store.Conversation, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "created_at", Value: -1}}).
		SetLimit(int64(store.PageSize(limit)))
	cursor, err := s.convs.Find(ctx, bson.D{{Key: "participant_ids", Value: userID}}, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []conversationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]store.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.record())
	}
	return out, nil
}

// Peers returns every other user sharing a conversation with userID.
func (s *Store) Peers(ctx context.Context, userID string) ([]string, error) {
	res := s.convs.Distinct(ctx, "participant_ids", bson.D{{Key: "participant_ids", Value: userID}})
	if err := res.Err(); err != nil {
		return nil, err
	}
	var ids []string
	if err := res.Decode(&ids); err != nil {
		return nil, err
	}
	ids = slices.DeleteFunc(ids, func(id string) bool { return id == userID })
	slices.Sort(ids)
	return ids, nil
}

// EnsureUser records a user seen on a channel. An empty name leaves a
// stored name alone.
func (s *Store) EnsureUser(ctx context.Context, id, name string) error {
	onInsert := bson.D{
		{Key: "created_at", Value: time.Now().UnixMilli()},
		{Key: "last_seen", Value: int64(0)},
	}
	var update bson.D
	if name != "" {
		update = bson.D{
			{Key: "$setOnInsert", Value: onInsert},
			{Key: "$set", Value: bson.D{{Key: "name", Value: name}}},
		}
	} else {
		update = bson.D{{Key: "$setOnInsert", Value: append(onInsert, bson.E{Key: "name", Value: ""})}}
	}
	_, err := s.users.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update, options.UpdateOne().SetUpsert(true))
	return err
}

// SetLastSeen stores the time a user's last channel closed.
func (s *Store) SetLastSeen(ctx context.Context, id string, at int64) error {
	update := bson.D{
		{Key: "$max", Value: bson.D{{Key: "last_seen", Value: at}}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "name", Value: ""}, {Key: "created_at", Value: at}}},
	}
	_, err := s.users.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update, options.UpdateOne().SetUpsert(true))
	return err
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (store.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		return store.User{}, notFound(err)
	}
	return store.User{ID: doc.ID, Name: doc.Name, LastSeen: doc.LastSeen}, nil
}
