package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbchat-ai/relay-platform/internal/model"
)

func newTestChat(t *testing.T, s *MemoryStore, title string) *model.Chat {
	t.Helper()
	now := time.Now()
	chat := &model.Chat{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       "user-1",
		DatabaseIDs:  []string{"db-1", "db-2"},
		Title:        title,
		CreatedAt:    now,
		LastActivity: now,
	}
	require.NoError(t, s.CreateChat(context.Background(), chat))
	return chat
}

func newTestStub(t *testing.T, s *MemoryStore, chatID string) *model.Message {
	t.Helper()
	msg := &model.Message{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ChatID:      chatID,
		UserMessage: "how many customers do we have?",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, s.CreateMessage(context.Background(), msg))
	return msg
}

func TestFinalizeMessageOnce(t *testing.T) {
	s := NewMemoryStore()
	chat := newTestChat(t, s, model.DefaultChatTitle)
	stub := newTestStub(t, s, chat.ID)

	fin := Finalization{
		AssistantMessage: "There are 42 customers.",
		SQLQuery:         "SELECT COUNT(*) FROM customers",
	}
	require.NoError(t, s.FinalizeMessage(context.Background(), stub.ID, fin))

	got, err := s.GetMessage(context.Background(), stub.ID)
	require.NoError(t, err)
	assert.Equal(t, fin.AssistantMessage, got.AssistantMessage)
	assert.Equal(t, fin.SQLQuery, got.SQLQuery)
	assert.True(t, got.Finalized())
	assert.Equal(t, "how many customers do we have?", got.UserMessage)

	// Second write must be refused.
	err = s.FinalizeMessage(context.Background(), stub.ID, Finalization{AssistantMessage: "other"})
	assert.ErrorIs(t, err, ErrFinalized)

	got, err = s.GetMessage(context.Background(), stub.ID)
	require.NoError(t, err)
	assert.Equal(t, fin.AssistantMessage, got.AssistantMessage)
}

func TestFinalizeMissingMessage(t *testing.T) {
	s := NewMemoryStore()
	err := s.FinalizeMessage(context.Background(), "missing", Finalization{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRenameIfUntitled(t *testing.T) {
	s := NewMemoryStore()
	chat := newTestChat(t, s, model.DefaultChatTitle)

	renamed, err := s.RenameIfUntitled(context.Background(), chat.ID, "Customer counts")
	require.NoError(t, err)
	assert.True(t, renamed)

	got, err := s.GetChat(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Customer counts", got.Title)

	// A second rename loses the compare-and-set.
	renamed, err = s.RenameIfUntitled(context.Background(), chat.ID, "Something else")
	require.NoError(t, err)
	assert.False(t, renamed)

	got, err = s.GetChat(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Customer counts", got.Title)
}

func TestRenameSkipsCustomTitle(t *testing.T) {
	s := NewMemoryStore()
	chat := newTestChat(t, s, "My revenue chat")

	renamed, err := s.RenameIfUntitled(context.Background(), chat.ID, "Generated title")
	require.NoError(t, err)
	assert.False(t, renamed)
}

func TestTouchChat(t *testing.T) {
	s := NewMemoryStore()
	chat := newTestChat(t, s, model.DefaultChatTitle)

	at := time.Now().Add(time.Minute)
	require.NoError(t, s.TouchChat(context.Background(), chat.ID, at))

	got, err := s.GetChat(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, at, got.LastActivity, time.Millisecond)
}

func TestDeleteChatCascades(t *testing.T) {
	s := NewMemoryStore()
	chat := newTestChat(t, s, model.DefaultChatTitle)
	other := newTestChat(t, s, model.DefaultChatTitle)

	stub := newTestStub(t, s, chat.ID)
	kept := newTestStub(t, s, other.ID)

	require.NoError(t, s.DeleteChat(context.Background(), chat.ID))

	_, err := s.GetChat(context.Background(), chat.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMessage(context.Background(), stub.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// The other chat's messages survive.
	_, err = s.GetMessage(context.Background(), kept.ID)
	assert.NoError(t, err)
}

func TestCreateMessageRequiresChat(t *testing.T) {
	s := NewMemoryStore()
	err := s.CreateMessage(context.Background(), &model.Message{
		ID:     "m1",
		ChatID: "missing",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMessagesOrdered(t *testing.T) {
	s := NewMemoryStore()
	chat := newTestChat(t, s, model.DefaultChatTitle)

	base := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateMessage(context.Background(), &model.Message{
			ID:        uuid.Must(uuid.NewV7()).String(),
			ChatID:    chat.ID,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, err := s.ListMessages(context.Background(), chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt))
	assert.True(t, msgs[1].CreatedAt.Before(msgs[2].CreatedAt))
}
