// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dbchat-ai/relay-platform/internal/middleware"
	"github.com/dbchat-ai/relay-platform/internal/model"
	"github.com/dbchat-ai/relay-platform/internal/store"
	"github.com/dbchat-ai/relay-platform/pkg/logger"
	"github.com/dbchat-ai/relay-platform/pkg/metrics"
)

// ChatHandler handles chat endpoints.
type ChatHandler struct {
	store  store.Store
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(st store.Store, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		store:  st,
		logger: log,
	}
}

// ownedChat loads a chat and enforces ownership. Chats belonging to other
// users are reported as not found.
func (h *ChatHandler) ownedChat(r *http.Request) (*model.Chat, int, string) {
	chatID := chi.URLParam(r, "id")
	if err := middleware.ValidateChatID(chatID); err != nil {
		return nil, http.StatusBadRequest, err.Error()
	}

	chat, err := h.store.GetChat(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, http.StatusNotFound, "chat not found"
		}
		return nil, http.StatusInternalServerError, "failed to load chat"
	}

	if chat.UserID != middleware.GetUserID(r.Context()) {
		return nil, http.StatusNotFound, "chat not found"
	}
	return chat, 0, ""
}

// Create handles POST /api/v1/chats
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateDatabaseIDs(req.DatabaseIDs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	chat := &model.Chat{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       userID,
		DatabaseIDs:  req.DatabaseIDs,
		Title:        req.Title,
		CreatedAt:    now,
		LastActivity: now,
	}
	if chat.Title == "" {
		chat.Title = model.DefaultChatTitle
	}

	if err := h.store.CreateChat(ctx, chat); err != nil {
		h.logger.Error("failed to create chat", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create chat")
		return
	}

	metrics.ChatsTotal.Inc()
	writeJSON(w, http.StatusCreated, chat)
}

// List handles GET /api/v1/chats
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	chats, err := h.store.ListChats(ctx, userID)
	if err != nil {
		h.logger.Error("failed to list chats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}

	writeJSON(w, http.StatusOK, &model.ListChatsResponse{
		Chats: chats,
		Total: len(chats),
	})
}

// Get handles GET /api/v1/chats/:id
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	chat, status, msg := h.ownedChat(r)
	if chat == nil {
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

// Delete handles DELETE /api/v1/chats/:id
// Deleting a chat cascades to all of its messages.
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	chat, status, msg := h.ownedChat(r)
	if chat == nil {
		writeError(w, status, msg)
		return
	}

	if err := h.store.DeleteChat(r.Context(), chat.ID); err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListMessages handles GET /api/v1/chats/:id/messages
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	chat, status, msg := h.ownedChat(r)
	if chat == nil {
		writeError(w, status, msg)
		return
	}

	messages, err := h.store.ListMessages(r.Context(), chat.ID)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{
		Messages: messages,
		Total:    len(messages),
	})
}
