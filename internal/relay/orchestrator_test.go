package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbchat-ai/relay-platform/internal/completion"
	"github.com/dbchat-ai/relay-platform/internal/model"
	"github.com/dbchat-ai/relay-platform/internal/store"
	"github.com/dbchat-ai/relay-platform/internal/title"
	"github.com/dbchat-ai/relay-platform/pkg/logger"
)

// fakeClient returns a canned upstream response or error.
type fakeClient struct {
	resp *completion.Response
	err  error
}

func (f *fakeClient) Complete(ctx context.Context, chat *model.Chat, userText string) (*completion.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func streamResponse(body string) *completion.Response {
	return &completion.Response{
		Kind:   completion.KindStream,
		Stream: io.NopCloser(strings.NewReader(body)),
	}
}

func documentResponse(doc string) *completion.Response {
	return &completion.Response{
		Kind:     completion.KindDocument,
		Document: json.RawMessage(doc),
	}
}

type completeCall struct {
	messageID string
	sqlQuery  string
	results   []model.QueryResult
}

// recordingSink records downstream frames; it can simulate a client
// disconnect after a number of chunks.
type recordingSink struct {
	chunks    []string
	completes []completeCall

	failAfter int // simulate disconnect after this many chunks; -1 disables
}

func newRecordingSink() *recordingSink {
	return &recordingSink{failAfter: -1}
}

func (s *recordingSink) Chunk(text string) error {
	if s.failAfter >= 0 && len(s.chunks) >= s.failAfter {
		return errors.New("client disconnected")
	}
	s.chunks = append(s.chunks, text)
	return nil
}

func (s *recordingSink) Complete(messageID, sqlQuery string, results []model.QueryResult) error {
	if s.failAfter >= 0 {
		return errors.New("client disconnected")
	}
	s.completes = append(s.completes, completeCall{messageID, sqlQuery, results})
	return nil
}

// countingStore counts finalizing writes to verify the exactly-once law.
type countingStore struct {
	store.Store
	finalized int
}

func (c *countingStore) FinalizeMessage(ctx context.Context, messageID string, fin store.Finalization) error {
	c.finalized++
	return c.Store.FinalizeMessage(ctx, messageID, fin)
}

type rig struct {
	orch *Orchestrator
	st   *countingStore
	chat *model.Chat
	sink *recordingSink
}

func newRig(t *testing.T, client CompletionClient, chatTitle string) *rig {
	t.Helper()
	st := &countingStore{Store: store.NewMemoryStore()}
	log := logger.NewNop()

	now := time.Now()
	chat := &model.Chat{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       "user-1",
		DatabaseIDs:  []string{"db-1"},
		Title:        chatTitle,
		CreatedAt:    now.Add(-time.Hour),
		LastActivity: now.Add(-time.Hour),
	}
	require.NoError(t, st.CreateChat(context.Background(), chat))

	fin := NewFinalizer(st, title.NewGenerator(nil, log), nil, log)
	return &rig{
		orch: NewOrchestrator(st, client, fin, nil, log),
		st:   st,
		chat: chat,
		sink: newRecordingSink(),
	}
}

func (r *rig) message(t *testing.T, id string) *model.Message {
	t.Helper()
	msg, err := r.st.GetMessage(context.Background(), id)
	require.NoError(t, err)
	return msg
}

func TestRunStreamingTurn(t *testing.T) {
	body := "data: {\"chunk\": \"Here\"}\n\n" +
		"data: {\"chunk\": \"are\"}\n\n" +
		"data: {\"chunk\": \"the\"}\n\n" +
		"data: {\"chunk\": \"results.\"}\n\n" +
		"data: {\"is_complete\": true, \"sql_query\": \"SELECT TOP 5 * FROM Customers\"}\n\n"

	r := newRig(t, &fakeClient{resp: streamResponse(body)}, model.DefaultChatTitle)
	msg, err := r.orch.Run(context.Background(), r.chat, "show top customers", r.sink)
	require.NoError(t, err)

	// Order law: forwarded chunks match decode order exactly.
	assert.Equal(t, []string{"Here", "are", "the", "results."}, r.sink.chunks)

	// Accumulation law: single-space join.
	got := r.message(t, msg.ID)
	assert.Equal(t, "Here are the results.", got.AssistantMessage)
	assert.Equal(t, "SELECT TOP 5 * FROM Customers", got.SQLQuery)
	assert.True(t, got.Finalized())

	// Exactly one terminal frame, after all chunks.
	require.Len(t, r.sink.completes, 1)
	assert.Equal(t, msg.ID, r.sink.completes[0].messageID)
	assert.Equal(t, "SELECT TOP 5 * FROM Customers", r.sink.completes[0].sqlQuery)

	// Exactly-once law.
	assert.Equal(t, 1, r.st.finalized)

	// Title law: untitled sentinel is replaced.
	chat, err := r.st.GetChat(context.Background(), r.chat.ID)
	require.NoError(t, err)
	assert.NotEqual(t, model.DefaultChatTitle, chat.Title)
	assert.True(t, chat.LastActivity.After(r.chat.LastActivity))
}

func TestRunMalformedLineSandwich(t *testing.T) {
	body := "data: {\"chunk\": \"valid one\"}\n\n" +
		"data: {not-json\n\n" +
		"data: {\"chunk\": \"valid two\"}\n\n"

	r := newRig(t, &fakeClient{resp: streamResponse(body)}, model.DefaultChatTitle)
	msg, err := r.orch.Run(context.Background(), r.chat, "question", r.sink)
	require.NoError(t, err)

	// The malformed line produces no frame and no failure.
	assert.Equal(t, []string{"valid one", "valid two"}, r.sink.chunks)
	assert.Equal(t, "valid one valid two", r.message(t, msg.ID).AssistantMessage)
	require.Len(t, r.sink.completes, 1)
}

func TestRunStreamWithoutTerminalEvent(t *testing.T) {
	body := "data: {\"chunk\": \"partial\"}\n\n" +
		"data: {\"chunk\": \"answer\"}\n\n"

	r := newRig(t, &fakeClient{resp: streamResponse(body)}, model.DefaultChatTitle)
	msg, err := r.orch.Run(context.Background(), r.chat, "question", r.sink)
	require.NoError(t, err)

	got := r.message(t, msg.ID)
	assert.Equal(t, "partial answer", got.AssistantMessage)
	assert.Empty(t, got.SQLQuery)
	assert.True(t, got.Finalized())
	assert.Equal(t, 1, r.st.finalized)
}

func TestRunDocumentTurn(t *testing.T) {
	doc := `[{"formatted_result": "3 rows found", "sql_generated": "SELECT * FROM T"}]`

	r := newRig(t, &fakeClient{resp: documentResponse(doc)}, model.DefaultChatTitle)
	msg, err := r.orch.Run(context.Background(), r.chat, "question", r.sink)
	require.NoError(t, err)

	// Normalization law.
	got := r.message(t, msg.ID)
	assert.Equal(t, "3 rows found", got.AssistantMessage)
	assert.Equal(t, "SELECT * FROM T", got.SQLQuery)

	// The document's text is delivered downstream as ordinary content.
	assert.Equal(t, []string{"3 rows found"}, r.sink.chunks)
	require.Len(t, r.sink.completes, 1)
	assert.Equal(t, "SELECT * FROM T", r.sink.completes[0].sqlQuery)
}

func TestRunUpstreamFailureRecovered(t *testing.T) {
	r := newRig(t, &fakeClient{err: &completion.UpstreamError{Detail: "db unreachable"}}, model.DefaultChatTitle)
	msg, err := r.orch.Run(context.Background(), r.chat, "question", r.sink)
	require.NoError(t, err)

	// The diagnostic names the failure detail and is persisted as the
	// assistant turn.
	got := r.message(t, msg.ID)
	assert.Contains(t, got.AssistantMessage, "db unreachable")
	assert.Empty(t, got.SQLQuery)
	assert.True(t, got.Finalized())
	assert.Equal(t, 1, r.st.finalized)

	// Downstream sees ordinary content plus the terminal frame.
	require.Len(t, r.sink.chunks, 1)
	assert.Contains(t, r.sink.chunks[0], "db unreachable")
	require.Len(t, r.sink.completes, 1)
	assert.Equal(t, msg.ID, r.sink.completes[0].messageID)

	// Failed turns still bump activity and apply the title rule.
	chat, err := r.st.GetChat(context.Background(), r.chat.ID)
	require.NoError(t, err)
	assert.True(t, chat.LastActivity.After(r.chat.LastActivity))
	assert.NotEqual(t, model.DefaultChatTitle, chat.Title)
}

func TestRunTitleUnchangedWhenCustom(t *testing.T) {
	body := "data: {\"chunk\": \"hi\"}\n\ndata: {\"is_complete\": true}\n\n"

	r := newRig(t, &fakeClient{resp: streamResponse(body)}, "My chat")
	_, err := r.orch.Run(context.Background(), r.chat, "question", r.sink)
	require.NoError(t, err)

	chat, err := r.st.GetChat(context.Background(), r.chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "My chat", chat.Title)
}

func TestRunDownstreamDisconnectStillFinalizes(t *testing.T) {
	body := "data: {\"chunk\": \"one\"}\n\n" +
		"data: {\"chunk\": \"two\"}\n\n" +
		"data: {\"chunk\": \"three\"}\n\n" +
		"data: {\"is_complete\": true, \"sql_query\": \"SELECT 1\"}\n\n"

	r := newRig(t, &fakeClient{resp: streamResponse(body)}, model.DefaultChatTitle)
	r.sink.failAfter = 1 // disconnect after the first chunk

	msg, err := r.orch.Run(context.Background(), r.chat, "question", r.sink)
	require.NoError(t, err)

	// The message is never left as a stub.
	got := r.message(t, msg.ID)
	assert.Equal(t, "one two three", got.AssistantMessage)
	assert.Equal(t, "SELECT 1", got.SQLQuery)
	assert.True(t, got.Finalized())
	assert.Equal(t, 1, r.st.finalized)
}

func TestRunCanceledContextStillFinalizes(t *testing.T) {
	r := newRig(t, &fakeClient{err: &completion.UpstreamError{Detail: "context deadline exceeded"}}, model.DefaultChatTitle)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, err := r.orch.Run(ctx, r.chat, "question", r.sink)
	require.NoError(t, err)
	assert.True(t, r.message(t, msg.ID).Finalized())
}

func TestRunStubCreationFailure(t *testing.T) {
	r := newRig(t, &fakeClient{resp: streamResponse("")}, model.DefaultChatTitle)
	require.NoError(t, r.st.DeleteChat(context.Background(), r.chat.ID))

	_, err := r.orch.Run(context.Background(), r.chat, "question", r.sink)
	require.Error(t, err)
	assert.Empty(t, r.sink.chunks)
	assert.Empty(t, r.sink.completes)
	assert.Equal(t, 0, r.st.finalized)
}

func TestTurnStateAccumulation(t *testing.T) {
	st := &turnState{}

	assert.False(t, st.appendChunk("   "))
	assert.False(t, st.appendChunk(""))
	assert.Equal(t, "", st.text())

	assert.True(t, st.appendChunk("Here"))
	assert.True(t, st.appendChunk("are"))
	assert.False(t, st.appendChunk(" \t"))
	assert.True(t, st.appendChunk("results."))
	assert.Equal(t, "Here are results.", st.text())
}
