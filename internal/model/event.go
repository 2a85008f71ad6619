package model

import (
	"time"
)

// ChunkFrame is the downstream SSE frame carrying one sanitized text chunk.
type ChunkFrame struct {
	Chunk string `json:"chunk"`
}

// CompleteFrame is the terminal downstream SSE frame. It is always the last
// frame on a turn's stream.
type CompleteFrame struct {
	IsComplete   bool          `json:"is_complete"`
	MessageID    string        `json:"messageId"`
	SQLQuery     string        `json:"sqlQuery"`
	QueryResults []QueryResult `json:"queryResults"`
}

// ErrorResponse is the structured error body for requests rejected before
// any streaming starts.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TurnOutcome classifies how a turn ended.
type TurnOutcome string

const (
	TurnStarted   TurnOutcome = "started"
	TurnCompleted TurnOutcome = "completed"
	TurnFailed    TurnOutcome = "failed"
)

// TurnEvent is the audit record published to JetStream for each turn
// transition. The message id doubles as the turn identifier: there is
// exactly one persisted message per turn.
type TurnEvent struct {
	ChatID    string      `json:"chat_id"`
	MessageID string      `json:"message_id"`
	Outcome   TurnOutcome `json:"outcome"`
	Detail    string      `json:"detail,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
