package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/yarning/internal/wire"
)

const messageColumns = `id, conversation_id, sender_id, client_id, content, type, status,
	created_at, delivered_at, read_at, deleted_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ClientID, &m.Content, &m.Type, &m.Status,
		&m.CreatedAt, &m.DeliveredAt, &m.ReadAt, &m.DeletedAt)
	return m, err
}

// InsertMessage persists a new message from a participant, assigning its
// durable id and the sent status. A repeated (sender, client id) pair
// returns the original message with created false; reusing a client id in
// another conversation is rejected with ErrInvalid.
func (db *DB) InsertMessage(ctx context.Context, m Message) (Message, bool, error) {
	if m.ClientID != "" {
		if prev, err := db.messageByClientID(ctx, m.ConversationID, m.SenderID, m.ClientID); err == nil {
			return prev, false, nil
		} else if !errors.Is(err, ErrNotFound) {
			return Message{}, false, err
		}
	}

	ok, err := db.IsParticipant(ctx, m.ConversationID, m.SenderID)
	if err != nil {
		return Message{}, false, err
	}
	if !ok {
		return Message{}, false, ErrNotParticipant
	}

	m.ID = NewID()
	m.Status = wire.StatusSent
	if m.Type == "" {
		m.Type = wire.TypeText
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, client_id, content, type, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.ClientID, m.Content, m.Type, m.Status, m.CreatedAt)
	if isUniqueViolation(err) && m.ClientID != "" {
		_ = tx.Rollback()
		prev, err := db.messageByClientID(ctx, m.ConversationID, m.SenderID, m.ClientID)
		return prev, false, err
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = MAX(last_message_at, ?) WHERE id = ?`,
		m.CreatedAt, m.ConversationID); err != nil {
		return Message{}, false, fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, false, fmt.Errorf("commit: %w", err)
	}
	return m, true, nil
}

func (db *DB) messageByClientID(ctx context.Context, conversationID, senderID, clientID string) (Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE sender_id = ? AND client_id = ?`, senderID, clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, err
	}
	return m, sameConversation(m, conversationID)
}

// sameConversation rejects a correlation id the sender already used in
// another conversation.
func sameConversation(prev Message, conversationID string) error {
	if prev.ConversationID != conversationID {
		return fmt.Errorf("%w: client id %s already used in another conversation", ErrInvalid, prev.ClientID)
	}
	return nil
}

// GetMessage returns a message by durable id, deleted or not.
func (db *DB) GetMessage(ctx context.Context, id string) (Message, error) {
	m, err := scanMessage(db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

// ListMessages returns up to limit live messages older than the cursor (the
// zero cursor for the newest), oldest first, and whether older messages
// remain. Messages sharing the cursor's millisecond are split by id.
func (db *DB) ListMessages(ctx context.Context, conversationID string, before wire.Cursor, limit int) ([]Message, bool, error) {
	limit = PageSize(limit)
	if before.CreatedAt <= 0 {
		before = wire.Cursor{CreatedAt: time.Now().UnixMilli() + 1}
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND deleted_at = 0
		  AND (created_at < ? OR (created_at = ? AND id < ?))
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, conversationID, before.CreatedAt, before.CreatedAt, before.ID, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, false, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	more := len(msgs) > limit
	if more {
		msgs = msgs[:limit]
	}
	slices.Reverse(msgs)
	return msgs, more, nil
}

// MarkDelivered moves a sent message to delivered. It reports whether the
// status changed.
func (db *DB) MarkDelivered(ctx context.Context, messageID string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE messages SET status = ?, delivered_at = ?
		WHERE id = ? AND status = ?`,
		wire.StatusDelivered, time.Now().UnixMilli(), messageID, wire.StatusSent)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkRead records that readerID read the given messages of a conversation.
// Unknown ids, deleted messages and the reader's own messages are skipped.
// It returns the messages that became read by this call.
func (db *DB) MarkRead(ctx context.Context, conversationID, readerID string, messageIDs []string) ([]Message, error) {
	ok, err := db.IsParticipant(ctx, conversationID, readerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	var read []Message
	for _, id := range messageIDs {
		m, err := scanMessage(tx.QueryRowContext(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE id = ? AND conversation_id = ? AND deleted_at = 0`, id, conversationID))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if m.SenderID == readerID {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at) VALUES (?, ?, ?)`,
			id, readerID, now); err != nil {
			return nil, fmt.Errorf("record read: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE messages SET status = ?, read_at = ? WHERE id = ? AND status != ?`,
			wire.StatusRead, now, id, wire.StatusRead)
		if err != nil {
			return nil, fmt.Errorf("mark read: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			m.Status = wire.StatusRead
			m.ReadAt = now
			read = append(read, m)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return read, nil
}

// DeleteMessage soft deletes a message on behalf of its sender. Deleting an
// already deleted message returns it unchanged.
func (db *DB) DeleteMessage(ctx context.Context, conversationID, messageID, userID string) (Message, error) {
	m, err := db.GetMessage(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if m.ConversationID != conversationID {
		return Message{}, ErrNotFound
	}
	if m.SenderID != userID {
		return Message{}, ErrNotSender
	}
	if m.DeletedAt != 0 {
		return m, nil
	}
	m.DeletedAt = time.Now().UnixMilli()
	if _, err := db.ExecContext(ctx, `
		UPDATE messages SET deleted_at = ? WHERE id = ? AND deleted_at = 0`, m.DeletedAt, messageID); err != nil {
		return Message{}, fmt.Errorf("delete message: %w", err)
	}
	return m, nil
}
