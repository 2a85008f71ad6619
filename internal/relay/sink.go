package relay

import (
	"github.com/dbchat-ai/relay-platform/internal/model"
)

// Sink is the downstream side of a turn: an ordered, flushed event stream to
// the waiting client. Implementations write the SSE wire format; tests use a
// recording fake.
type Sink interface {
	// Chunk delivers one sanitized text increment.
	Chunk(text string) error

	// Complete delivers the terminal event. It is called exactly once per
	// turn, after every chunk.
	Complete(messageID, sqlQuery string, results []model.QueryResult) error
}
