package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCredential means the token source produced no bearer token.
	ErrNoCredential = errors.New("no credential available")
	// ErrUnauthenticated means the relay rejected the credential.
	ErrUnauthenticated = errors.New("credential rejected by relay")
	// ErrAlreadyConnected is returned by Connect outside disconnected and error.
	ErrAlreadyConnected = errors.New("connection already active")
	// ErrDisconnected is returned when Disconnect interrupts a connect attempt.
	ErrDisconnected = errors.New("disconnected")

	ErrMissingConversation = errors.New("conversation id is required")
	ErrEmptyContent        = errors.New("message content is empty")
	ErrContentTooLong      = errors.New("message content too long")
	ErrMissingMessage      = errors.New("message id is required")
	// ErrNotOwnMessage is returned when deleting a listed message another
	// user sent.
	ErrNotOwnMessage = errors.New("message was sent by another user")
	// ErrConversationLeft is returned when sending to the conversation the
	// user most recently left.
	ErrConversationLeft = errors.New("conversation was left")
	ErrNotJoined        = errors.New("no conversation joined")
	ErrNoHistory        = errors.New("no history source configured")
)

// OperationError is a relay rejection of one operation. The channel stays
// open.
type OperationError struct {
	Op             string
	Code           string
	Message        string
	ConversationID string
	ClientID       string
	MessageID      string
}

func (e *OperationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s rejected: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s rejected: %s: %s", e.Op, e.Code, e.Message)
}
