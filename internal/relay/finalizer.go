package relay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dbchat-ai/relay-platform/internal/model"
	"github.com/dbchat-ai/relay-platform/internal/store"
	"github.com/dbchat-ai/relay-platform/internal/title"
	"github.com/dbchat-ai/relay-platform/pkg/logger"
	"github.com/dbchat-ai/relay-platform/pkg/metrics"
)

// Auditor publishes turn events to the audit stream. Publishing is
// best-effort; a failed publish never fails a turn.
type Auditor interface {
	PublishTurnEvent(ctx context.Context, event *model.TurnEvent) error
}

// Outcome carries everything the finalizer writes for one turn.
type Outcome struct {
	AssistantText string
	SQLQuery      string
	Results       []model.QueryResult

	// Failed marks a recovered upstream failure; Detail names its cause.
	Failed bool
	Detail string
}

// Finalizer performs the single persisting write per turn: the message's
// finalizing write, the chat's activity bump, and the conditional title
// rename. The orchestrator guarantees it is invoked exactly once per turn.
type Finalizer struct {
	store  store.Store
	titles title.Suggester
	audit  Auditor
	logger *logger.Logger
}

// NewFinalizer creates a finalizer. audit may be nil.
func NewFinalizer(st store.Store, titles title.Suggester, audit Auditor, log *logger.Logger) *Finalizer {
	return &Finalizer{
		store:  st,
		titles: titles,
		audit:  audit,
		logger: log,
	}
}

// Finalize commits the turn. It runs on a context detached from the
// downstream connection so a client disconnect cannot leave the message as a
// permanent stub.
func (f *Finalizer) Finalize(ctx context.Context, chat *model.Chat, msg *model.Message, out Outcome) error {
	ctx = context.WithoutCancel(ctx)
	turnLog := f.logger.WithTurn(chat.ID, msg.ID)

	err := f.store.FinalizeMessage(ctx, msg.ID, store.Finalization{
		AssistantMessage: out.AssistantText,
		SQLQuery:         out.SQLQuery,
		QueryResults:     out.Results,
	})
	if err != nil {
		metrics.FinalizeTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to finalize message: %w", err)
	}

	if err := f.store.TouchChat(ctx, chat.ID, time.Now()); err != nil {
		turnLog.Warn("failed to update chat activity", zap.Error(err))
	}

	f.maybeRename(ctx, chat, msg, turnLog)

	outcome := model.TurnCompleted
	if out.Failed {
		outcome = model.TurnFailed
	}
	f.publishAudit(ctx, chat.ID, msg.ID, outcome, out.Detail, turnLog)

	metrics.FinalizeTotal.WithLabelValues(string(outcome)).Inc()
	turnLog.Info("turn finalized",
		zap.String("outcome", string(outcome)),
		zap.Int("assistant_len", len(out.AssistantText)),
		zap.Bool("has_query", out.SQLQuery != ""),
	)
	return nil
}

// maybeRename applies the title rule: a chat is renamed only while it still
// holds the untitled sentinel, and never again by this subsystem.
func (f *Finalizer) maybeRename(ctx context.Context, chat *model.Chat, msg *model.Message, turnLog *logger.Logger) {
	current, err := f.store.GetChat(ctx, chat.ID)
	if err != nil || !current.Untitled() {
		return
	}

	newTitle := f.titles.Suggest(ctx, msg.UserMessage)
	renamed, err := f.store.RenameIfUntitled(ctx, chat.ID, newTitle)
	if err != nil {
		turnLog.Warn("failed to rename chat", zap.Error(err))
		return
	}
	if renamed {
		turnLog.Info("chat renamed", zap.String("title", newTitle))
	}
}

func (f *Finalizer) publishAudit(ctx context.Context, chatID, messageID string, outcome model.TurnOutcome, detail string, turnLog *logger.Logger) {
	if f.audit == nil {
		return
	}
	err := f.audit.PublishTurnEvent(ctx, &model.TurnEvent{
		ChatID:    chatID,
		MessageID: messageID,
		Outcome:   outcome,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	if err != nil {
		turnLog.Warn("failed to publish turn event", zap.Error(err))
	}
}
