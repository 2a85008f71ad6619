// Package title derives a chat title from the first user turn. A configured
// LLM provider produces the title; without one, a truncation of the user
// text is used instead.
package title

import (
	"context"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/dbchat-ai/relay-platform/pkg/logger"
)

// maxTitleRunes caps a generated or fallback title.
const maxTitleRunes = 60

// suggestTimeout bounds the provider call. Title generation runs inside
// finalization and must never stall a turn.
const suggestTimeout = 5 * time.Second

// Client is the interface for title-generation providers.
type Client interface {
	// Complete returns a completion for the prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a title provider client. Returns nil when no API key is
// configured; the generator then falls back to truncation.
func NewClient(provider Provider, apiKey string) (Client, error) {
	if apiKey == "" {
		return nil, nil
	}
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewAnthropicClient(apiKey)
	}
}

// Suggester produces a chat title from the user's first message.
type Suggester interface {
	Suggest(ctx context.Context, userText string) string
}

// Generator implements Suggester with an optional provider and a
// deterministic fallback.
type Generator struct {
	client Client
	logger *logger.Logger
}

// NewGenerator creates a title generator. client may be nil.
func NewGenerator(client Client, log *logger.Logger) *Generator {
	return &Generator{client: client, logger: log}
}

// Suggest returns a non-empty title for a chat whose first turn is userText.
func (g *Generator) Suggest(ctx context.Context, userText string) string {
	if g.client == nil {
		return Fallback(userText)
	}

	callCtx, cancel := context.WithTimeout(ctx, suggestTimeout)
	defer cancel()

	prompt := "Write a short title (at most six words, no quotes) for a conversation that begins with this question about a database:\n\n" + userText
	raw, err := g.client.Complete(callCtx, prompt)
	if err != nil {
		g.logger.Warn("title generation failed, using fallback",
			zap.String("provider", g.client.Name()),
			zap.Error(err),
		)
		return Fallback(userText)
	}

	title := sanitize(raw)
	if title == "" {
		return Fallback(userText)
	}
	return title
}

// Fallback derives a title by truncating the user text on a word boundary.
func Fallback(userText string) string {
	title := sanitize(userText)
	if title == "" {
		return "Untitled conversation"
	}
	return title
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	runes := []rune(s)
	if len(runes) <= maxTitleRunes {
		return s
	}

	cut := maxTitleRunes
	for cut > 0 && !unicode.IsSpace(runes[cut-1]) {
		cut--
	}
	if cut == 0 {
		cut = maxTitleRunes
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}
