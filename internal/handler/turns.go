package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/dbchat-ai/relay-platform/internal/middleware"
	"github.com/dbchat-ai/relay-platform/internal/model"
	"github.com/dbchat-ai/relay-platform/internal/relay"
	"github.com/dbchat-ai/relay-platform/pkg/logger"
	"github.com/dbchat-ai/relay-platform/pkg/metrics"
)

// TurnHandler handles the turn endpoint: it accepts a user message and
// streams the assistant answer back over SSE.
type TurnHandler struct {
	chats        *ChatHandler
	orchestrator *relay.Orchestrator
	logger       *logger.Logger
}

// NewTurnHandler creates a new turn handler.
func NewTurnHandler(chats *ChatHandler, orch *relay.Orchestrator, log *logger.Logger) *TurnHandler {
	return &TurnHandler{
		chats:        chats,
		orchestrator: orch,
		logger:       log,
	}
}

// Send handles POST /api/v1/chats/:id/messages
//
// Authorization and validation failures return a structured error before any
// upstream call; once streaming starts, upstream failures arrive as ordinary
// content on the stream.
func (h *TurnHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	chat, status, msg := h.chats.ownedChat(r)
	if chat == nil {
		writeError(w, status, msg)
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sink := &sseSink{w: w, flusher: flusher, ctx: ctx}
	if _, err := h.orchestrator.Run(ctx, chat, req.Message, sink); err != nil {
		h.logger.Error("turn aborted before streaming", zap.Error(err))
		sink.Chunk("Something went wrong before your question could be processed.")
		sink.Complete("", "", nil)
	}
}

// sseSink writes the downstream wire format: data-only SSE frames, one chunk
// frame per increment, one terminal frame per turn.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     interface{ Err() error }
}

func (s *sseSink) Chunk(text string) error {
	return s.send(model.ChunkFrame{Chunk: text})
}

func (s *sseSink) Complete(messageID, sqlQuery string, results []model.QueryResult) error {
	if results == nil {
		results = []model.QueryResult{}
	}
	return s.send(model.CompleteFrame{
		IsComplete:   true,
		MessageID:    messageID,
		SQLQuery:     sqlQuery,
		QueryResults: results,
	})
}

func (s *sseSink) send(frame any) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
