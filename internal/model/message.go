package model

import (
	"time"
)

// QueryResult is one structured result attached to an assistant turn.
// Large result sets are stored externally; FilePath points at them.
type QueryResult struct {
	Status    string           `json:"status,omitempty"`
	Rows      []map[string]any `json:"rows,omitempty"`
	FilePath  string           `json:"file_path,omitempty"`
	Formatted string           `json:"formatted_result,omitempty"`
}

// Message represents one turn in a chat. It is created as a stub (user text
// only) and written a second and final time by the finalizer.
type Message struct {
	ID     string `json:"id"`
	ChatID string `json:"chatId"`

	UserMessage      string        `json:"userMessage"`
	AssistantMessage string        `json:"assistantMessage"`
	SQLQuery         string        `json:"sqlQuery,omitempty"`
	QueryResults     []QueryResult `json:"queryResults,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	FinalizedAt *time.Time `json:"finalizedAt,omitempty"`
}

// Finalized reports whether the message has received its one finalizing write.
func (m *Message) Finalized() bool {
	return m.FinalizedAt != nil
}

// SendMessageRequest is the request body for a new turn.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// ListMessagesResponse is the response for listing a chat's messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
}
