package completion

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/dbchat-ai/relay-platform/internal/model"
	"github.com/dbchat-ai/relay-platform/pkg/logger"
	"github.com/dbchat-ai/relay-platform/pkg/metrics"
)

// EventType classifies a decoded stream event.
type EventType int

const (
	// EventChunk carries one partial-text increment.
	EventChunk EventType = iota
	// EventTerminal signals no further chunks will follow for this turn.
	EventTerminal
)

// Event is one typed event decoded from the upstream byte stream.
type Event struct {
	Type  EventType
	Chunk string

	// Populated on terminal events.
	SQLQuery string
	Results  []model.QueryResult
}

const dataPrefix = "data:"

// maxLineBytes bounds a single stream line; inline result rows can be large.
const maxLineBytes = 4 * 1024 * 1024

// Decoder turns an upstream byte stream into a lazy sequence of events. It
// never holds the whole body in memory and is not restartable.
type Decoder struct {
	scanner *bufio.Scanner
	logger  *logger.Logger
}

// NewDecoder creates a decoder over the raw upstream body.
func NewDecoder(r io.Reader, log *logger.Logger) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Decoder{
		scanner: scanner,
		logger:  log,
	}
}

// Next returns the next event. It returns io.EOF when the underlying stream
// is exhausted; a read error from the stream is returned as-is. Malformed
// lines are logged and skipped, never ending the sequence.
func (d *Decoder) Next() (*Event, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, dataPrefix) {
			d.logger.Debug("skipping non-data stream line")
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == "" {
			continue
		}

		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(payload), &obj); err != nil {
			d.logger.Warn("skipping malformed stream line", zap.Error(err))
			metrics.MalformedStreamLines.Inc()
			continue
		}

		if isComplete(obj) {
			out := normalizeObject(obj)
			return &Event{
				Type:     EventTerminal,
				SQLQuery: out.SQLQuery,
				Results:  out.Results,
			}, nil
		}

		chunk := chunkText(obj)
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		return &Event{Type: EventChunk, Chunk: chunk}, nil
	}

	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func isComplete(obj map[string]json.RawMessage) bool {
	raw, ok := obj["is_complete"]
	if !ok {
		return false
	}
	var complete bool
	if err := json.Unmarshal(raw, &complete); err != nil {
		return false
	}
	return complete
}

func chunkText(obj map[string]json.RawMessage) string {
	raw, ok := obj["chunk"]
	if !ok {
		return ""
	}
	var chunk string
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return ""
	}
	return chunk
}
