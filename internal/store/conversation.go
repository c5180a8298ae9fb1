package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// CreateConversation returns the conversation for exactly this participant
// set, creating it when none exists. created reports which happened.
func (db *DB) CreateConversation(ctx context.Context, participantIDs []string) (Conversation, bool, error) {
	ids, key := ParticipantKey(participantIDs)
	if len(ids) < 2 {
		return Conversation{}, false, fmt.Errorf("%w: a conversation needs two participants", ErrInvalid)
	}

	if c, err := db.conversationByKey(ctx, key); err == nil {
		return c, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Conversation{}, false, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	c := Conversation{ID: NewID(), ParticipantIDs: ids, CreatedAt: now}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_key, last_message_at, created_at)
		VALUES (?, ?, 0, ?)`, c.ID, key, now)
	if isUniqueViolation(err) {
		// Lost a race with a concurrent create of the same set.
		_ = tx.Rollback()
		c, err := db.conversationByKey(ctx, key)
		return c, false, err
	}
	if err != nil {
		return Conversation{}, false, fmt.Errorf("insert conversation: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO participants (conversation_id, user_id, joined_at) VALUES (?, ?, ?)`,
			c.ID, id, now); err != nil {
			return Conversation{}, false, fmt.Errorf("insert participant %q: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Conversation{}, false, fmt.Errorf("commit: %w", err)
	}
	return c, true, nil
}

func (db *DB) conversationByKey(ctx context.Context, key string) (Conversation, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT id FROM conversations WHERE participant_key = ?`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	return db.GetConversation(ctx, id)
}

// GetConversation returns a conversation with its participants.
func (db *DB) GetConversation(ctx context.Context, id string) (Conversation, error) {
	c := Conversation{ID: id}
	err := db.QueryRowContext(ctx, `
		SELECT last_message_at, created_at FROM conversations WHERE id = ?`, id).
		Scan(&c.LastMessageAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	c.ParticipantIDs, err = db.Participants(ctx, id)
	return c, err
}

// Participants returns a conversation's user ids, sorted.
func (db *DB) Participants(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id FROM participants WHERE conversation_id = ? ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsParticipant reports whether userID belongs to the conversation. A missing
// conversation is ErrNotFound.
func (db *DB) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists, member int
	err := db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM conversations WHERE id = ?),
		       (SELECT COUNT(*) FROM participants WHERE conversation_id = ? AND user_id = ?)`,
		conversationID, conversationID, userID).Scan(&exists, &member)
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, ErrNotFound
	}
	return member > 0, nil
}

// ListConversations returns userID's conversations, most recent activity
// first.
func (db *DB) ListConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.last_message_at, c.created_at, GROUP_CONCAT(p2.user_id, char(31))
		FROM participants p
		JOIN conversations c ON c.id = p.conversation_id
		JOIN participants p2 ON p2.conversation_id = c.id
		WHERE p.user_id = ?
		GROUP BY c.id
		ORDER BY c.last_message_at DESC, c.created_at DESC
		LIMIT ?`, userID, PageSize(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var members string
		if err := rows.Scan(&c.ID, &c.LastMessageAt, &c.CreatedAt, &members); err != nil {
			return nil, err
		}
		c.ParticipantIDs = strings.Split(members, "\x1f")
		slices.Sort(c.ParticipantIDs)
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// Peers returns every other user sharing a conversation with userID.
func (db *DB) Peers(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT p2.user_id
		FROM participants p1
		JOIN participants p2 ON p2.conversation_id = p1.conversation_id
		WHERE p1.user_id = ? AND p2.user_id != ?
		ORDER BY p2.user_id`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
