// Package relay drives one turn end to end: it invokes the completion
// service, forwards sanitized increments downstream as they arrive, and
// finalizes exactly one message record per turn however the turn ends.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dbchat-ai/relay-platform/internal/completion"
	"github.com/dbchat-ai/relay-platform/internal/model"
	"github.com/dbchat-ai/relay-platform/internal/store"
	"github.com/dbchat-ai/relay-platform/pkg/logger"
	"github.com/dbchat-ai/relay-platform/pkg/metrics"
)

// CompletionClient is the upstream boundary of the orchestrator.
type CompletionClient interface {
	Complete(ctx context.Context, chat *model.Chat, userText string) (*completion.Response, error)
}

// phase is the orchestrator's position in the turn state machine.
type phase int

const (
	phaseIdle phase = iota
	phaseInvoking
	phaseStreaming
	phaseFinalizing
	phaseDone
	phaseFailed
)

// turnState is the explicit accumulator threaded through each decode step.
type turnState struct {
	phase    phase
	buf      strings.Builder
	sqlQuery string
	results  []model.QueryResult
}

// appendChunk adds one chunk to the accumulator, joined by a single space
// when the buffer is non-empty. Chunks that are empty after trimming are
// dropped. Reports whether the chunk was kept.
func (s *turnState) appendChunk(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if s.buf.Len() > 0 {
		s.buf.WriteByte(' ')
	}
	s.buf.WriteString(text)
	return true
}

func (s *turnState) text() string {
	return s.buf.String()
}

// Orchestrator relays turns. One instance serves all chats; each Run call
// owns its turn's state exclusively.
type Orchestrator struct {
	store     store.Store
	client    CompletionClient
	finalizer *Finalizer
	audit     Auditor
	logger    *logger.Logger
}

// NewOrchestrator creates a relay orchestrator. audit may be nil.
func NewOrchestrator(st store.Store, client CompletionClient, fin *Finalizer, audit Auditor, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:     st,
		client:    client,
		finalizer: fin,
		audit:     audit,
		logger:    log,
	}
}

// Run executes one turn: creates the stub message, invokes the completion
// service, forwards chunks to sink in decode order, and finalizes exactly
// once. Upstream failures are recovered into a diagnostic assistant turn;
// only a failure to create the stub is returned as an error.
func (o *Orchestrator) Run(ctx context.Context, chat *model.Chat, userText string, sink Sink) (*model.Message, error) {
	msg := &model.Message{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ChatID:      chat.ID,
		UserMessage: userText,
		CreatedAt:   time.Now(),
	}
	if err := o.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message stub: %w", err)
	}

	turnLog := o.logger.WithTurn(chat.ID, msg.ID)
	turnLog.Info("turn started", zap.Int("databases", len(chat.DatabaseIDs)))
	o.publishStarted(ctx, chat.ID, msg.ID, turnLog)

	st := &turnState{phase: phaseInvoking}
	fw := &forwarder{sink: sink, logger: turnLog}

	resp, err := o.client.Complete(ctx, chat, userText)
	if err != nil {
		o.failTurn(ctx, chat, msg, st, fw, err, turnLog)
		return msg, nil
	}

	switch resp.Kind {
	case completion.KindStream:
		st.phase = phaseStreaming
		if failure := o.consumeStream(resp.Stream, st, fw, turnLog); failure != nil {
			o.failTurn(ctx, chat, msg, st, fw, failure, turnLog)
			return msg, nil
		}
	case completion.KindDocument:
		out, nerr := completion.NormalizeDocument(resp.Document)
		if nerr != nil {
			o.failTurn(ctx, chat, msg, st, fw, &completion.UpstreamError{Detail: nerr.Error(), Err: nerr}, turnLog)
			return msg, nil
		}
		st.appendChunk(out.AssistantText)
		st.sqlQuery = out.SQLQuery
		st.results = out.Results
		fw.chunk(out.AssistantText)
	}

	st.phase = phaseFinalizing
	if err := o.finalizer.Finalize(ctx, chat, msg, Outcome{
		AssistantText: st.text(),
		SQLQuery:      st.sqlQuery,
		Results:       st.results,
	}); err != nil {
		turnLog.Error("finalize failed", zap.Error(err))
	}

	st.phase = phaseDone
	fw.complete(msg.ID, st.sqlQuery, st.results)
	metrics.RecordTurn("completed")
	return msg, nil
}

// consumeStream drains decoder events into the turn state, forwarding each
// kept chunk immediately. Returns a non-nil failure only when the stream
// broke before anything was accumulated; a partial stream is treated as an
// implicit terminal event.
func (o *Orchestrator) consumeStream(body io.ReadCloser, st *turnState, fw *forwarder, turnLog *logger.Logger) error {
	defer body.Close()

	dec := completion.NewDecoder(body, turnLog)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			// Implicit terminal: keep whatever accumulated so far.
			return nil
		}
		if err != nil {
			if st.buf.Len() == 0 {
				return &completion.UpstreamError{Detail: err.Error(), Err: err}
			}
			turnLog.Warn("stream ended early, keeping partial answer", zap.Error(err))
			return nil
		}

		switch ev.Type {
		case completion.EventChunk:
			if st.appendChunk(ev.Chunk) {
				fw.chunk(ev.Chunk)
			}
		case completion.EventTerminal:
			st.sqlQuery = ev.SQLQuery
			st.results = ev.Results
			return nil
		}
	}
}

// failTurn recovers an upstream failure: the diagnostic becomes the
// assistant text, the turn still finalizes, and the downstream stream closes
// with ordinary content.
func (o *Orchestrator) failTurn(ctx context.Context, chat *model.Chat, msg *model.Message, st *turnState, fw *forwarder, failure error, turnLog *logger.Logger) {
	st.phase = phaseFailed
	detail := failureDetail(failure)
	turnLog.Warn("turn failed upstream, recovering", zap.String("detail", detail))

	diagnostic := "I couldn't get an answer from the query service: " + detail
	st.appendChunk(diagnostic)

	if err := o.finalizer.Finalize(ctx, chat, msg, Outcome{
		AssistantText: st.text(),
		Failed:        true,
		Detail:        detail,
	}); err != nil {
		turnLog.Error("finalize failed", zap.Error(err))
	}

	fw.chunk(diagnostic)
	fw.complete(msg.ID, "", nil)
	metrics.RecordTurn("failed")
}

func failureDetail(err error) string {
	var ue *completion.UpstreamError
	if errors.As(err, &ue) && ue.Detail != "" {
		return ue.Detail
	}
	return err.Error()
}

func (o *Orchestrator) publishStarted(ctx context.Context, chatID, messageID string, turnLog *logger.Logger) {
	if o.audit == nil {
		return
	}
	err := o.audit.PublishTurnEvent(ctx, &model.TurnEvent{
		ChatID:    chatID,
		MessageID: messageID,
		Outcome:   model.TurnStarted,
		CreatedAt: time.Now(),
	})
	if err != nil {
		turnLog.Warn("failed to publish turn event", zap.Error(err))
	}
}

// forwarder wraps the sink so a broken downstream stops delivery without
// stopping the turn: accumulation and finalization continue so the message
// is never left as a stub.
type forwarder struct {
	sink   Sink
	logger *logger.Logger
	gone   bool
}

func (f *forwarder) chunk(text string) {
	if f.gone {
		return
	}
	if err := f.sink.Chunk(text); err != nil {
		f.logger.Info("downstream gone, continuing turn", zap.Error(err))
		f.gone = true
		return
	}
	metrics.RelayChunksForwarded.Inc()
}

func (f *forwarder) complete(messageID, sqlQuery string, results []model.QueryResult) {
	if f.gone {
		return
	}
	if err := f.sink.Complete(messageID, sqlQuery, results); err != nil {
		f.logger.Info("downstream gone at completion", zap.Error(err))
		f.gone = true
	}
}
