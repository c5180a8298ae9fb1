package relay

import (
	"context"
	"errors"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/matheus3301/yarning/internal/store"
	"github.com/matheus3301/yarning/internal/wire"
	"go.uber.org/zap"
)

// opError is a rejected operation, reported to the channel as an error
// event.
type opError struct {
	code string
	msg  string
}

func (e *opError) Error() string { return e.code + ": " + e.msg }

func reject(code, msg string) *opError { return &opError{code: code, msg: msg} }

func decode(env *wire.Envelope, v any) error {
	if err := env.Decode(v); err != nil {
		return reject(wire.CodeInvalidPayload, err.Error())
	}
	return nil
}

// toOpError classifies an operation failure. Unexpected errors become
// internal and are logged.
func toOpError(err error) (*opError, bool) {
	var oe *opError
	switch {
	case errors.As(err, &oe):
		return oe, true
	case errors.Is(err, store.ErrNotFound):
		return reject(wire.CodeNotFound, "not found"), true
	case errors.Is(err, store.ErrNotParticipant):
		return reject(wire.CodeNotParticipant, "not a participant"), true
	case errors.Is(err, store.ErrNotSender):
		return reject(wire.CodeNotSender, "only the sender can do that"), true
	case errors.Is(err, store.ErrInvalid):
		return reject(wire.CodeInvalidPayload, err.Error()), true
	}
	return reject(wire.CodeInternal, "internal error"), false
}

// handle applies one client frame. Rejections are reported on the channel,
// which stays open.
func (s *Service) handle(ctx context.Context, ch *Channel, env *wire.Envelope) {
	ref := wire.ErrorPayload{Op: env.Event}
	var err error

	switch env.Event {
	case wire.EventJoinConversation:
		var p wire.JoinConversation
		if err = decode(env, &p); err == nil {
			ref.ConversationID = p.ConversationID
			err = s.join(ctx, ch, p)
		}
	case wire.EventLeaveConversation:
		s.leave(ch)
	case wire.EventSendMessage:
		var p wire.SendMessage
		if err = decode(env, &p); err == nil {
			ref.ConversationID, ref.ClientID = p.ConversationID, p.ClientID
			err = s.send(ctx, ch, p)
		}
	case wire.EventTypingStart, wire.EventTypingStop:
		var p wire.Typing
		if err = decode(env, &p); err == nil {
			ref.ConversationID = p.ConversationID
			err = s.typing(ch, p.ConversationID, env.Event == wire.EventTypingStart)
		}
	case wire.EventMarkRead:
		var p wire.MarkRead
		if err = decode(env, &p); err == nil {
			ref.ConversationID = p.ConversationID
			err = s.markRead(ctx, ch, p)
		}
	case wire.EventDeleteMessage:
		var p wire.DeleteMessage
		if err = decode(env, &p); err == nil {
			ref.ConversationID, ref.MessageID = p.ConversationID, p.MessageID
			err = s.deleteMessage(ctx, ch, p)
		}
	default:
		err = reject(wire.CodeUnknownEvent, "unknown event "+env.Event)
	}
	if err == nil {
		return
	}

	oe, expected := toOpError(err)
	if expected {
		ch.logger.Debug("operation rejected", zap.String("op", env.Event), zap.String("code", oe.code))
	} else {
		ch.logger.Error("operation failed", zap.String("op", env.Event), zap.Error(err))
	}
	ref.Code, ref.Message = oe.code, oe.msg
	ch.emit(wire.EventError, ref)
}

func (s *Service) join(ctx context.Context, ch *Channel, p wire.JoinConversation) error {
	if p.ConversationID == "" {
		return reject(wire.CodeInvalidPayload, "conversation id is required")
	}
	ok, err := s.store.IsParticipant(ctx, p.ConversationID, ch.userID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotParticipant
	}
	if prev := ch.setConversation(p.ConversationID); prev != "" && prev != p.ConversationID {
		s.hub.Leave(prev, ch)
	}
	s.hub.Join(p.ConversationID, ch)
	ch.logger.Debug("joined", zap.String("conversation_id", p.ConversationID))
	return nil
}

func (s *Service) leave(ch *Channel) {
	if prev := ch.setConversation(""); prev != "" {
		s.hub.Leave(prev, ch)
		ch.logger.Debug("left", zap.String("conversation_id", prev))
	}
}

func (s *Service) send(ctx context.Context, ch *Channel, p wire.SendMessage) error {
	switch {
	case p.ConversationID == "":
		return reject(wire.CodeInvalidPayload, "conversation id is required")
	case strings.TrimSpace(p.Content) == "":
		return reject(wire.CodeEmptyContent, "content is empty")
	case utf8.RuneCountInString(p.Content) > s.cfg.MaxContentLength:
		return reject(wire.CodeContentTooLong, "content is too long")
	}
	switch p.Type {
	case "":
		p.Type = wire.TypeText
	case wire.TypeText, wire.TypeOther:
	default:
		return reject(wire.CodeInvalidPayload, "unknown message type "+p.Type)
	}
	if s.limiter != nil && !s.limiter.Allow("send:"+ch.userID) {
		return reject(wire.CodeRateLimited, "too many messages")
	}

	var (
		msg       store.Message
		created   bool
		err       error
		delivered bool
	)
	// Persist and fan out under the conversation lock so every channel sees
	// messages in the order they were stored.
	s.hub.WithRoom(p.ConversationID, func(members []*Channel) {
		msg, created, err = s.store.InsertMessage(ctx, store.Message{
			ConversationID: p.ConversationID,
			SenderID:       ch.userID,
			ClientID:       p.ClientID,
			Content:        p.Content,
			Type:           p.Type,
			CreatedAt:      s.now().UnixMilli(),
		})
		if err != nil || !created {
			return
		}
		frame, encErr := wire.NewEnvelope(wire.EventNewMessage, msg.Wire())
		if encErr != nil {
			err = encErr
			return
		}
		for _, m := range members {
			if m == ch {
				continue
			}
			if m.Send(frame) && m.userID != ch.userID {
				delivered = true
			}
		}
	})
	if err != nil {
		return err
	}

	ch.emit(wire.EventMessageSent, wire.MessageSent{
		ClientID:       p.ClientID,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
	})
	if !created {
		ch.logger.Debug("duplicate send", zap.String("client_id", p.ClientID), zap.String("message_id", msg.ID))
		return nil
	}

	if delivered {
		changed, err := s.store.MarkDelivered(ctx, msg.ID)
		if err != nil {
			ch.logger.Warn("mark delivered", zap.String("message_id", msg.ID), zap.Error(err))
		} else if changed {
			s.hub.SendToUser(ch.userID, wire.EventMessageDelivered, wire.MessageDelivered{
				MessageID:      msg.ID,
				ConversationID: msg.ConversationID,
			})
		}
	}
	return nil
}

func (s *Service) typing(ch *Channel, conversationID string, on bool) error {
	if conversationID == "" {
		return reject(wire.CodeInvalidPayload, "conversation id is required")
	}
	if ch.Conversation() != conversationID {
		return reject(wire.CodeNotJoined, "conversation not joined")
	}
	event := wire.EventUserStoppedTyping
	if on {
		event = wire.EventUserTyping
	}
	payload := wire.UserTyping{UserID: ch.userID, UserName: ch.userName, ConversationID: conversationID}
	for _, m := range s.hub.Members(conversationID) {
		if m.userID != ch.userID {
			m.emit(event, payload)
		}
	}
	return nil
}

func (s *Service) markRead(ctx context.Context, ch *Channel, p wire.MarkRead) error {
	if p.ConversationID == "" || len(p.MessageIDs) == 0 {
		return reject(wire.CodeInvalidPayload, "conversation id and message ids are required")
	}
	read, err := s.store.MarkRead(ctx, p.ConversationID, ch.userID, p.MessageIDs)
	if err != nil {
		return err
	}

	bySender := make(map[string][]string)
	for _, m := range read {
		bySender[m.SenderID] = append(bySender[m.SenderID], m.ID)
	}
	for sender, ids := range bySender {
		slices.Sort(ids)
		s.hub.SendToUser(sender, wire.EventMessageRead, wire.MessageRead{
			MessageIDs:     ids,
			ConversationID: p.ConversationID,
			ReaderID:       ch.userID,
		})
	}
	return nil
}

func (s *Service) deleteMessage(ctx context.Context, ch *Channel, p wire.DeleteMessage) error {
	if p.ConversationID == "" || p.MessageID == "" {
		return reject(wire.CodeInvalidPayload, "conversation id and message id are required")
	}
	var (
		msg store.Message
		err error
	)
	s.hub.WithRoom(p.ConversationID, func(members []*Channel) {
		msg, err = s.store.DeleteMessage(ctx, p.ConversationID, p.MessageID, ch.userID)
		if err != nil {
			return
		}
		payload := wire.MessageDeleted{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			DeletedAt:      msg.DeletedAt,
		}
		for _, m := range members {
			m.emit(wire.EventMessageDeleted, payload)
		}
		if !slices.Contains(members, ch) {
			ch.emit(wire.EventMessageDeleted, payload)
		}
	})
	return err
}
