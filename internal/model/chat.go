// Package model defines data structures for the relay platform.
package model

import (
	"time"
)

// DefaultChatTitle is the sentinel title a chat carries until its first
// completed turn. The finalizer only renames a chat while it still holds
// this value.
const DefaultChatTitle = "New Chat"

// Chat represents a conversation against one or more member databases.
// DatabaseIDs are fixed at creation time.
type Chat struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	DatabaseIDs  []string  `json:"databaseIds"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Untitled reports whether the chat still carries the sentinel title.
func (c *Chat) Untitled() bool {
	return c.Title == DefaultChatTitle
}

// CreateChatRequest is the request to create a new chat.
type CreateChatRequest struct {
	DatabaseIDs []string `json:"databaseIds"`
	Title       string   `json:"title,omitempty"`
}

// ListChatsResponse is the response for listing chats.
type ListChatsResponse struct {
	Chats []Chat `json:"chats"`
	Total int    `json:"total"`
}
