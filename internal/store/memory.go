package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dbchat-ai/relay-platform/internal/model"
)

// MemoryStore is an in-memory Store used for development and tests. The
// production deployment points the relay at the externally owned document
// store instead.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]*model.Chat
	messages map[string]*model.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]*model.Chat),
		messages: make(map[string]*model.Message),
	}
}

// CreateChat stores a new chat.
func (s *MemoryStore) CreateChat(ctx context.Context, chat *model.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *chat
	cp.DatabaseIDs = append([]string(nil), chat.DatabaseIDs...)
	s.chats[chat.ID] = &cp
	return nil
}

// GetChat retrieves a chat by ID.
func (s *MemoryStore) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *chat
	return &cp, nil
}

// ListChats retrieves all chats owned by a user, most recent activity first.
func (s *MemoryStore) ListChats(ctx context.Context, userID string) ([]model.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chats []model.Chat
	for _, chat := range s.chats {
		if chat.UserID == userID {
			chats = append(chats, *chat)
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].LastActivity.After(chats[j].LastActivity)
	})
	return chats, nil
}

// DeleteChat removes a chat and all of its messages.
func (s *MemoryStore) DeleteChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return ErrNotFound
	}
	delete(s.chats, chatID)
	for id, msg := range s.messages {
		if msg.ChatID == chatID {
			delete(s.messages, id)
		}
	}
	return nil
}

// TouchChat updates the chat's last-activity timestamp.
func (s *MemoryStore) TouchChat(ctx context.Context, chatID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	chat.LastActivity = at
	return nil
}

// RenameIfUntitled sets the title only while the chat still holds the
// untitled sentinel. At most one concurrent rename wins.
func (s *MemoryStore) RenameIfUntitled(ctx context.Context, chatID, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return false, ErrNotFound
	}
	if chat.Title != model.DefaultChatTitle {
		return false, nil
	}
	chat.Title = title
	return true, nil
}

// CreateMessage stores a stub message.
func (s *MemoryStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[msg.ChatID]; !ok {
		return ErrNotFound
	}
	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

// GetMessage retrieves a message by ID.
func (s *MemoryStore) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

// ListMessages retrieves a chat's messages in creation order.
func (s *MemoryStore) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var msgs []model.Message
	for _, msg := range s.messages {
		if msg.ChatID == chatID {
			msgs = append(msgs, *msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// FinalizeMessage performs the single finalizing write to a stub message.
func (s *MemoryStore) FinalizeMessage(ctx context.Context, messageID string, fin Finalization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	if msg.FinalizedAt != nil {
		return ErrFinalized
	}
	now := time.Now()
	msg.AssistantMessage = fin.AssistantMessage
	msg.SQLQuery = fin.SQLQuery
	msg.QueryResults = fin.QueryResults
	msg.FinalizedAt = &now
	return nil
}
