package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbchat-ai/relay-platform/internal/model"
)

func (rig *apiRig) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateChat(t *testing.T) {
	rig := newAPIRig(t, "http://127.0.0.1:1")

	rec := rig.do(t, http.MethodPost, "/api/v1/chats", `{"databaseIds": ["db-1", "db-2"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var chat model.Chat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))
	assert.Equal(t, "user-1", chat.UserID)
	assert.Equal(t, []string{"db-1", "db-2"}, chat.DatabaseIDs)

	// A chat created without a title starts at the untitled sentinel.
	assert.Equal(t, model.DefaultChatTitle, chat.Title)
	assert.NotEmpty(t, chat.ID)
}

func TestCreateChatWithTitle(t *testing.T) {
	rig := newAPIRig(t, "http://127.0.0.1:1")

	rec := rig.do(t, http.MethodPost, "/api/v1/chats", `{"databaseIds": ["db-1"], "title": "Revenue"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var chat model.Chat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))
	assert.Equal(t, "Revenue", chat.Title)
}

func TestCreateChatRequiresDatabases(t *testing.T) {
	rig := newAPIRig(t, "http://127.0.0.1:1")

	rec := rig.do(t, http.MethodPost, "/api/v1/chats", `{"databaseIds": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListChatsScopedToUser(t *testing.T) {
	rig := newAPIRig(t, "http://127.0.0.1:1")

	other := &model.Chat{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       "user-2",
		DatabaseIDs:  []string{"db-1"},
		Title:        model.DefaultChatTitle,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	require.NoError(t, rig.store.CreateChat(context.Background(), other))

	rec := rig.do(t, http.MethodGet, "/api/v1/chats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.ListChatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, rig.chat.ID, resp.Chats[0].ID)
}

func TestGetChat(t *testing.T) {
	rig := newAPIRig(t, "http://127.0.0.1:1")

	rec := rig.do(t, http.MethodGet, "/api/v1/chats/"+rig.chat.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var chat model.Chat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))
	assert.Equal(t, rig.chat.ID, chat.ID)
}

func TestDeleteChatRemovesMessages(t *testing.T) {
	upstream := sseUpstream(t, "data: {\"chunk\": \"answer\"}\n\ndata: {\"is_complete\": true}\n\n")
	rig := newAPIRig(t, upstream.URL)

	rec := rig.send(t, rig.chat.ID, `{"message": "question"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = rig.do(t, http.MethodDelete, "/api/v1/chats/"+rig.chat.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = rig.do(t, http.MethodGet, "/api/v1/chats/"+rig.chat.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	msgs, err := rig.store.ListMessages(context.Background(), rig.chat.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
