// Package mongostore is the MongoDB backend of the relay store. It mirrors
// the SQLite store's behavior and record types.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/yarning/internal/store"
	"github.com/matheus3301/yarning/internal/wire"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// DefaultDatabase is used when no database name is configured.
const DefaultDatabase = "yarning"

// Store wraps a mongo client and the relay's collections.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	users  *mongo.Collection
	convs  *mongo.Collection
	msgs   *mongo.Collection
}

// Open connects, verifies the connection and ensures indexes.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	if database == "" {
		database = DefaultDatabase
	}
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client: client,
		db:     db,
		users:  db.Collection("users"),
		convs:  db.Collection("conversations"),
		msgs:   db.Collection("messages"),
	}
	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Drop removes the whole database. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.convs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "participant_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "participant_ids", Value: 1}, {Key: "last_message_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create conversation indexes: %w", err)
	}

	_, err = s.msgs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
		{
			// Correlation ids are unique per sender; messages without one are exempt.
			Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "client_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "client_id", Value: bson.D{{Key: "$gt", Value: ""}}}}),
		},
	})
	if err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}
	return nil
}

type userDoc struct {
	ID        string `bson:"_id"`
	Name      string `bson:"name"`
	LastSeen  int64  `bson:"last_seen"`
	CreatedAt int64  `bson:"created_at"`
}

type conversationDoc struct {
	ID             string   `bson:"_id"`
	ParticipantKey string   `bson:"participant_key"`
	ParticipantIDs []string `bson:"participant_ids"`
	LastMessageAt  int64    `bson:"last_message_at"`
	CreatedAt      int64    `bson:"created_at"`
}

func (d conversationDoc) record() store.Conversation {
	return store.Conversation{
		ID:             d.ID,
		ParticipantIDs: d.ParticipantIDs,
		LastMessageAt:  d.LastMessageAt,
		CreatedAt:      d.CreatedAt,
	}
}

type messageDoc struct {
	ID             string   `bson:"_id"`
	ConversationID string   `bson:"conversation_id"`
	SenderID       string   `bson:"sender_id"`
	ClientID       string   `bson:"client_id"`
	Content        string   `bson:"content"`
	Type           string   `bson:"type"`
	Status         string   `bson:"status"`
	CreatedAt      int64    `bson:"created_at"`
	DeliveredAt    int64    `bson:"delivered_at"`
	ReadAt         int64    `bson:"read_at"`
	DeletedAt      int64    `bson:"deleted_at"`
	ReadBy         []string `bson:"read_by,omitempty"`
}

func (d messageDoc) record() store.Message {
	return store.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		ClientID:       d.ClientID,
		Content:        d.Content,
		Type:           d.Type,
		Status:         wire.MessageStatus(d.Status),
		CreatedAt:      d.CreatedAt,
		DeliveredAt:    d.DeliveredAt,
		ReadAt:         d.ReadAt,
		DeletedAt:      d.DeletedAt,
	}
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}
