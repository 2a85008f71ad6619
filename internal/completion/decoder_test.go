package completion

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbchat-ai/relay-platform/pkg/logger"
)

func decodeAll(t *testing.T, body string) []*Event {
	t.Helper()
	dec := NewDecoder(strings.NewReader(body), logger.NewNop())

	var events []*Event
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestDecodeChunksAndTerminal(t *testing.T) {
	body := "data: {\"chunk\": \"Here\"}\n\n" +
		"data: {\"chunk\": \"are\"}\n\n" +
		"data: {\"chunk\": \"the\"}\n\n" +
		"data: {\"chunk\": \"results.\"}\n\n" +
		"data: {\"is_complete\": true, \"sql_query\": \"SELECT TOP 5 * FROM Customers\"}\n\n"

	events := decodeAll(t, body)
	require.Len(t, events, 5)

	var chunks []string
	for _, ev := range events[:4] {
		assert.Equal(t, EventChunk, ev.Type)
		chunks = append(chunks, ev.Chunk)
	}
	assert.Equal(t, []string{"Here", "are", "the", "results."}, chunks)

	term := events[4]
	assert.Equal(t, EventTerminal, term.Type)
	assert.Equal(t, "SELECT TOP 5 * FROM Customers", term.SQLQuery)
}

func TestDecodeMalformedLineSkipped(t *testing.T) {
	body := "data: {\"chunk\": \"good\"}\n\n" +
		"data: {not-json\n\n" +
		"data: {\"chunk\": \"also good\"}\n\n"

	events := decodeAll(t, body)
	require.Len(t, events, 2)
	assert.Equal(t, "good", events[0].Chunk)
	assert.Equal(t, "also good", events[1].Chunk)
}

func TestDecodeEmptyChunkDropped(t *testing.T) {
	body := "data: {\"chunk\": \"  \"}\n\n" +
		"data: {\"chunk\": \"\"}\n\n" +
		"data: {\"chunk\": \"kept\"}\n\n"

	events := decodeAll(t, body)
	require.Len(t, events, 1)
	assert.Equal(t, "kept", events[0].Chunk)
}

func TestDecodeNonDataLinesSkipped(t *testing.T) {
	body := ": comment\n" +
		"event: message\n" +
		"data: {\"chunk\": \"text\"}\n\n"

	events := decodeAll(t, body)
	require.Len(t, events, 1)
	assert.Equal(t, "text", events[0].Chunk)
}

func TestDecodeTerminalQueryAliases(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"snake_case", `data: {"is_complete": true, "sql_query": "SELECT 1"}`, "SELECT 1"},
		{"camelCase", `data: {"is_complete": true, "sqlQuery": "SELECT 2"}`, "SELECT 2"},
		{"snake wins when both set", `data: {"is_complete": true, "sql_query": "SELECT 1", "sqlQuery": "SELECT 2"}`, "SELECT 1"},
		{"empty snake falls through", `data: {"is_complete": true, "sql_query": "", "sqlQuery": "SELECT 2"}`, "SELECT 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := decodeAll(t, tt.line+"\n\n")
			require.Len(t, events, 1)
			assert.Equal(t, EventTerminal, events[0].Type)
			assert.Equal(t, tt.want, events[0].SQLQuery)
		})
	}
}

func TestDecodeTerminalResultAliases(t *testing.T) {
	for _, field := range []string{"queryResults", "results", "query_results"} {
		t.Run(field, func(t *testing.T) {
			line := `data: {"is_complete": true, "` + field + `": [{"status": "ok", "file_path": "/exports/big.csv"}]}`
			events := decodeAll(t, line+"\n\n")
			require.Len(t, events, 1)
			require.Len(t, events[0].Results, 1)
			assert.Equal(t, "ok", events[0].Results[0].Status)
			assert.Equal(t, "/exports/big.csv", events[0].Results[0].FilePath)
		})
	}
}

func TestDecodeEOFWithoutTerminal(t *testing.T) {
	body := "data: {\"chunk\": \"partial\"}\n\n"

	dec := NewDecoder(strings.NewReader(body), logger.NewNop())

	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, EventChunk, ev.Type)

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecodeIsCompleteFalseIsNotTerminal(t *testing.T) {
	body := "data: {\"chunk\": \"text\", \"is_complete\": false}\n\n"

	events := decodeAll(t, body)
	require.Len(t, events, 1)
	assert.Equal(t, EventChunk, events[0].Type)
}
