// Package store defines the conversation store boundary. The schema is owned
// by an external document store; this package only describes the reads and
// writes the relay performs against it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/dbchat-ai/relay-platform/internal/model"
)

var (
	// ErrNotFound is returned when a chat or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrFinalized is returned on a second finalizing write to a message.
	ErrFinalized = errors.New("message already finalized")
)

// Finalization carries the fields of a message's one finalizing write.
type Finalization struct {
	AssistantMessage string
	SQLQuery         string
	QueryResults     []model.QueryResult
}

// Store is the conversation store used by the relay and the chat handlers.
type Store interface {
	CreateChat(ctx context.Context, chat *model.Chat) error
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	ListChats(ctx context.Context, userID string) ([]model.Chat, error)

	// DeleteChat removes a chat and cascades to all of its messages.
	DeleteChat(ctx context.Context, chatID string) error

	// TouchChat updates the chat's last-activity timestamp.
	TouchChat(ctx context.Context, chatID string, at time.Time) error

	// RenameIfUntitled sets the chat title only if it currently holds the
	// untitled sentinel. Returns whether the rename was applied.
	RenameIfUntitled(ctx context.Context, chatID, title string) (bool, error)

	// CreateMessage persists a stub message (user text, empty assistant text).
	CreateMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, messageID string) (*model.Message, error)
	ListMessages(ctx context.Context, chatID string) ([]model.Message, error)

	// FinalizeMessage performs the single finalizing write to a stub message.
	// A second call for the same message returns ErrFinalized.
	FinalizeMessage(ctx context.Context, messageID string, fin Finalization) error
}
