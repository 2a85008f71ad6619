package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/dbchat-ai/relay-platform/internal/model"
)

const (
	// StreamName is the name of the turn-audit stream.
	StreamName = "RELAY_TURNS"

	// SubjectPrefix is the prefix for all turn-audit subjects.
	SubjectPrefix = "relay"
)

// TurnAudit publishes one durable record per turn transition. Consumers
// rebuild usage and failure timelines from it; nothing in the relay reads
// it back.
type TurnAudit struct {
	client *Client
}

// NewTurnAudit creates a turn-audit publisher.
func NewTurnAudit(client *Client) *TurnAudit {
	return &TurnAudit{client: client}
}

// EnsureStream ensures the turn-audit stream exists with proper configuration.
func (a *TurnAudit) EnsureStream(ctx context.Context) error {
	js := a.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Relay turn transitions",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// TurnSubject returns the subject for a turn event.
func TurnSubject(chatID string, outcome model.TurnOutcome) string {
	return fmt.Sprintf("%s.%s.turn.%s", SubjectPrefix, chatID, outcome)
}

// PublishTurnEvent publishes a turn event to JetStream.
func (a *TurnAudit) PublishTurnEvent(ctx context.Context, event *model.TurnEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal turn event: %w", err)
	}

	_, err = a.client.JetStream().Publish(ctx, TurnSubject(event.ChatID, event.Outcome), data)
	if err != nil {
		return fmt.Errorf("failed to publish turn event: %w", err)
	}

	return nil
}
